package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/frostsnap/engine/internal/simulator"
	"github.com/frostsnap/engine/nonce"
	"github.com/frostsnap/engine/wire"
)

func newSignCommand(h func() *host) *cobra.Command {
	var accessStructureHex string

	cmd := &cobra.Command{
		Use:   "sign <hex|file>",
		Short: "Sign a plain message with a threshold of simulated devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hh := h()

			message, err := readMessage(args[0])
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}

			devices, err := reopenSimulatedDevices(hh)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			defer closeAll(devices)
			for _, d := range devices {
				if err := announce(hh, d); err != nil {
					return fail(cmd, exitProtoOrData, err)
				}
			}
			if err := pumpUntilSettled(hh, devices); err != nil {
				return fail(cmd, exitProtoOrData, err)
			}

			asID, err := resolveAccessStructure(hh, accessStructureHex)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			as := hh.engine.AccessStructures()[asID]

			signers := make([]wire.DeviceID, 0, as.Threshold)
			for _, d := range devices {
				if _, known := as.DeviceIndex[d.Engine.ID]; known {
					signers = append(signers, d.Engine.ID)
				}
				if len(signers) == as.Threshold {
					break
				}
			}
			if len(signers) < as.Threshold {
				return fail(cmd, exitProtoOrData, fmt.Errorf("only %d of %d required signers are present", len(signers), as.Threshold))
			}

			var streamID nonce.StreamID
			streamID[0] = 0x01
			for _, d := range devices {
				if err := d.Engine.ReplenishNonces(asID, streamID, 1); err != nil {
					return fail(cmd, exitProtoOrData, err)
				}
			}
			if err := pumpUntilSettled(hh, devices); err != nil {
				return fail(cmd, exitProtoOrData, err)
			}

			sessionID, err := hh.engine.StartSignPlain(asID, message, signers)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			if err := pumpUntilSettled(hh, devices); err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			for _, d := range devices {
				if _, known := as.DeviceIndex[d.Engine.ID]; !known {
					continue
				}
				var isSigner bool
				for _, s := range signers {
					if s == d.Engine.ID {
						isSigner = true
					}
				}
				if !isSigner {
					continue
				}
				if err := d.Engine.ConfirmSign(sessionID); err != nil {
					return fail(cmd, exitProtoOrData, err)
				}
			}
			if err := pumpUntilSettled(hh, devices); err != nil {
				return fail(cmd, exitProtoOrData, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "signing session %x dispatched to %d signer(s)\n", sessionID, len(signers))
			return nil
		},
	}
	cmd.Flags().StringVar(&accessStructureHex, "access-structure", "", "hex access structure id to sign under (defaults to the only one known)")
	return cmd
}

func readMessage(arg string) ([]byte, error) {
	if b, err := hex.DecodeString(arg); err == nil {
		return b, nil
	}
	return os.ReadFile(arg)
}

func resolveAccessStructure(hh *host, hexID string) (wire.AccessStructureID, error) {
	structures := hh.engine.AccessStructures()
	if hexID != "" {
		raw, err := hex.DecodeString(hexID)
		if err != nil || len(raw) != 32 {
			return wire.AccessStructureID{}, fmt.Errorf("invalid access structure id %q", hexID)
		}
		var id wire.AccessStructureID
		copy(id[:], raw)
		if _, ok := structures[id]; !ok {
			return wire.AccessStructureID{}, fmt.Errorf("no access structure %x known", id)
		}
		return id, nil
	}
	if len(structures) != 1 {
		return wire.AccessStructureID{}, fmt.Errorf("%d access structures known; pass --access-structure to disambiguate", len(structures))
	}
	for id := range structures {
		return id, nil
	}
	panic("unreachable")
}

// reopenSimulatedDevices re-opens every device-N directory already present
// under the coordinator's store root, so `sign` and `backup` can operate on
// the same simulated devices a prior `keygen` run created.
func reopenSimulatedDevices(hh *host) ([]*simulator.Device, error) {
	root := filepath.Dir(hh.cfg.StorePath)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > len("device-") && e.Name()[:len("device-")] == "device-" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	devices := make([]*simulator.Device, 0, len(names))
	for _, name := range names {
		d, err := simulator.Open(filepath.Join(root, name), hh.logger)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no simulated devices found under %s; run keygen first", root)
	}
	return devices, nil
}
