package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/frostsnap/engine/coordinator"
)

// Exit codes per spec.md section 6: 0 success, 1 user abort, 2
// protocol/integrity error.
const (
	exitOK          = 0
	exitUserAbort   = 1
	exitProtoOrData = 2
)

// host bundles the pieces every subcommand needs: the loaded config, a
// logger, and a running coordinator.Engine. It is constructed once in the
// root command's PersistentPreRunE and handed to each subcommand through a
// closure, matching the teacher's pack-mate orbas1-Synnergy's pattern of a
// package-level struct built once and referenced from every cli/*.go file.
type host struct {
	cfg    Config
	logger *logrus.Entry
	engine *coordinator.Engine
}

func newHost(cfg Config) *host {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(logger)

	secret := loadOrCreateCoordinatorSecret(cfg.StorePath + ".identity")
	return &host{
		cfg:    cfg,
		logger: entry,
		engine: coordinator.NewEngine(secret, entry),
	}
}

var configPath string
var networkFlag string

func newRootCommand() *cobra.Command {
	var h *host

	root := &cobra.Command{
		Use:   "frostsnap-coordinator",
		Short: "Coordinate FROST threshold signing across Frostsnap devices",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if networkFlag != "" {
				cfg.Network = networkFlag
			}
			h = newHost(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&networkFlag, "network", "", "bitcoin|testnet|signet|regtest (overrides config file)")

	root.AddCommand(
		newKeygenCommand(func() *host { return h }),
		newSignCommand(func() *host { return h }),
		newStatusCommand(func() *host { return h }),
		newBackupCommand(func() *host { return h }),
		newFirmwareCommand(func() *host { return h }),
		newEraseCommand(func() *host { return h }),
	)
	return root
}

func fail(cmd *cobra.Command, code int, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
	os.Exit(code)
	return nil
}
