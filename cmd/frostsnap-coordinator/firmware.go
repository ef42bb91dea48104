package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frostsnap/engine/wire"
)

// upgradeChunkSize matches the teacher pack's preference for small,
// serial-link-sized framing chunks rather than one unbounded blob.
const upgradeChunkSize = 4096

func newFirmwareCommand(h func() *host) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firmware",
		Short: "Manage device firmware",
	}
	cmd.AddCommand(newFirmwareUpgradeCommand(h))
	return cmd
}

// newFirmwareUpgradeCommand streams a firmware image to every simulated
// device's transport framing. The upgrade payload itself is out of scope
// (spec.md section 1) -- a device only ever sees UpgradeMessage's envelope,
// never interprets its bytes -- so this only exercises the chunked framing,
// it does not claim to actually reflash anything.
func newFirmwareUpgradeCommand(h func() *host) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <path>",
		Short: "Stream a firmware image to every simulated device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hh := h()
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}

			devices, err := reopenSimulatedDevices(hh)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			defer closeAll(devices)

			for offset := 0; offset < len(image); offset += upgradeChunkSize {
				end := offset + upgradeChunkSize
				if end > len(image) {
					end = len(image)
				}
				msg := wire.CoordinatorSendMessage{
					TargetDestinations: wire.AllDevices(),
					Body: wire.CoordinatorSendBody{
						Kind: wire.CoordBodyUpgrade,
						Upgrade: &wire.UpgradeMessage{
							Chunk:      image[offset:end],
							ChunkIndex: uint32(offset / upgradeChunkSize),
							Final:      end == len(image),
						},
					},
				}
				for _, d := range devices {
					if err := d.Engine.Recv(msg); err != nil {
						return fail(cmd, exitProtoOrData, err)
					}
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "streamed %d-byte firmware image to %d device(s)\n", len(image), len(devices))
			return nil
		},
	}
}
