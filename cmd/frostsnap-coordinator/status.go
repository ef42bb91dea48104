package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(h func() *host) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report known devices and access structures",
		RunE: func(cmd *cobra.Command, args []string) error {
			hh := h()
			out := cmd.OutOrStdout()

			params, err := hh.cfg.chainParams()
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			fmt.Fprintf(out, "network: %s (%s)\n", hh.cfg.Network, params.Name)

			devices := hh.engine.Devices()
			fmt.Fprintf(out, "%d device(s) announced\n", len(devices))
			for _, id := range devices {
				fmt.Fprintf(out, "  %s\n", id.String())
			}

			structures := hh.engine.AccessStructures()
			fmt.Fprintf(out, "%d access structure(s)\n", len(structures))
			for id, as := range structures {
				fmt.Fprintf(out, "  %x: threshold %d/%d, key id %x\n", id, as.Threshold, len(as.DeviceIndex), as.KeyID)
			}
			return nil
		},
	}
}
