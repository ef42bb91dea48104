package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/frostsnap/engine/internal/simulator"
	"github.com/frostsnap/engine/wire"
)

func newKeygenCommand(h func() *host) *cobra.Command {
	var threshold int
	var deviceCount int
	var keyName string
	var purpose string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Run a distributed key generation among simulated devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			hh := h()
			if threshold < 1 || threshold > deviceCount {
				return fail(cmd, exitProtoOrData, fmt.Errorf("threshold must be between 1 and --devices"))
			}

			devices, err := openSimulatedDevices(hh, deviceCount)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			defer closeAll(devices)

			for _, d := range devices {
				if err := announce(hh, d); err != nil {
					return fail(cmd, exitProtoOrData, err)
				}
			}

			participants := make(map[wire.DeviceID]uint32, len(devices))
			for i, d := range devices {
				participants[d.Engine.ID] = uint32(i + 1)
			}
			keygenID, err := hh.engine.StartKeygen(threshold, participants, keyName, purpose)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}

			if err := pumpUntilSettled(hh, devices); err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			for _, d := range devices {
				if err := d.Engine.ConfirmKeygen(keygenID); err != nil {
					return fail(cmd, exitProtoOrData, err)
				}
			}
			if err := pumpUntilSettled(hh, devices); err != nil {
				return fail(cmd, exitProtoOrData, err)
			}

			for id, as := range hh.engine.AccessStructures() {
				fmt.Fprintf(cmd.OutOrStdout(), "access structure %x: threshold %d/%d, group key %x\n",
					id, as.Threshold, len(as.DeviceIndex), as.GroupKey.Bytes())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 2, "signing threshold")
	cmd.Flags().IntVar(&deviceCount, "devices", 3, "number of simulated devices to generate a key across")
	cmd.Flags().StringVar(&keyName, "name", "default", "human-readable name for the new key")
	cmd.Flags().StringVar(&purpose, "purpose", "bitcoin", "purpose tag for the new key")
	return cmd
}

// openSimulatedDevices opens (or creates) deviceCount simulated devices
// under the coordinator's store directory, named device-0, device-1, ...
func openSimulatedDevices(hh *host, count int) ([]*simulator.Device, error) {
	root := filepath.Dir(hh.cfg.StorePath)
	devices := make([]*simulator.Device, 0, count)
	for i := 0; i < count; i++ {
		d, err := simulator.Open(filepath.Join(root, fmt.Sprintf("device-%d", i)), hh.logger)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func closeAll(devices []*simulator.Device) {
	for _, d := range devices {
		_ = d.Close()
	}
}

func announce(hh *host, d *simulator.Device) error {
	return hh.engine.ProcessDeviceMessage(wire.DeviceSendMessage{
		From: d.Engine.ID,
		Body: wire.DeviceSendBody{Kind: wire.DeviceBodyAnnounce, Announce: &wire.AnnounceMsg{}},
	})
}

// pumpUntilSettled repeatedly drains the coordinator's outbox to the
// devices and the devices' outboxes back to the coordinator until neither
// side has anything left to deliver.
func pumpUntilSettled(hh *host, devices []*simulator.Device) error {
	for {
		progressed := false

		for _, item := range hh.engine.DrainOutbox() {
			if msg, ok := item.ToDevice.(wire.CoordinatorSendMessage); ok {
				progressed = true
				for _, d := range devices {
					if !msg.TargetDestinations.Matches(d.Engine.ID) {
						continue
					}
					if err := d.Engine.Recv(msg); err != nil {
						return err
					}
				}
			}
		}

		for _, d := range devices {
			for _, item := range d.Engine.DrainOutbox() {
				msg, ok := item.ToDevice.(wire.DeviceSendMessage)
				if !ok {
					continue
				}
				progressed = true
				if err := hh.engine.ProcessDeviceMessage(msg); err != nil {
					return err
				}
			}
		}

		if !progressed {
			return nil
		}
	}
}
