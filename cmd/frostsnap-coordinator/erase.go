package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frostsnap/engine/wire"
)

func newEraseCommand(h func() *host) *cobra.Command {
	return &cobra.Command{
		Use:   "erase <device>",
		Short: "Wipe a simulated device's shares, event log, and nonce slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hh := h()
			devices, err := reopenSimulatedDevices(hh)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			defer closeAll(devices)

			var target *wire.DeviceID
			for _, d := range devices {
				if d.Engine.ID.String() == args[0] {
					id := d.Engine.ID
					target = &id
					if err := d.Engine.Recv(wire.CoordinatorSendMessage{
						TargetDestinations: wire.Devices(id),
						Body:               wire.CoordinatorSendBody{Kind: wire.CoordBodyDataErase, DataErase: &wire.DataEraseMsg{}},
					}); err != nil {
						return fail(cmd, exitProtoOrData, err)
					}
				}
			}
			if target == nil {
				return fail(cmd, exitProtoOrData, fmt.Errorf("no simulated device %q found", args[0]))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "erased device %s\n", target.String())
			return nil
		},
	}
}
