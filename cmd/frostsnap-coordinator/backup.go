package main

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/internal/simulator"
	"github.com/frostsnap/engine/restore"
	"github.com/frostsnap/engine/wire"
)

func newBackupCommand(h func() *host) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Display or restore a physical backup",
	}
	cmd.AddCommand(newBackupDisplayCommand(h), newBackupRestoreCommand(h))
	return cmd
}

func newBackupDisplayCommand(h func() *host) *cobra.Command {
	var accessStructureHex string

	cmd := &cobra.Command{
		Use:   "display <device>",
		Short: "Render a device's share as a human-writable backup phrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hh := h()
			devices, err := reopenSimulatedDevices(hh)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			defer closeAll(devices)

			var target *simulator.Device
			for _, d := range devices {
				if filepath.Base(d.Dir) == args[0] || d.Engine.ID.String() == args[0] {
					target = d
				}
			}
			if target == nil {
				return fail(cmd, exitProtoOrData, fmt.Errorf("no simulated device %q found", args[0]))
			}

			asID, err := resolveAccessStructure(hh, accessStructureHex)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			phrase, err := target.Engine.DisplayBackup(asID)
			if err != nil {
				return fail(cmd, exitProtoOrData, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), phrase)
			target.Engine.ConfirmBackupDisplayed(asID)
			return nil
		},
	}
	cmd.Flags().StringVar(&accessStructureHex, "access-structure", "", "hex access structure id to display (defaults to the only one known)")
	return cmd
}

func newBackupRestoreCommand(h func() *host) *cobra.Command {
	var threshold int
	var shares []string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Reconstruct an access structure from held backup phrases",
		RunE: func(cmd *cobra.Command, args []string) error {
			hh := h()
			if threshold < 1 {
				return fail(cmd, exitProtoOrData, fmt.Errorf("--threshold must be at least 1"))
			}
			if len(shares) < threshold {
				return fail(cmd, exitProtoOrData, fmt.Errorf("need at least %d --share entries, got %d", threshold, len(shares)))
			}

			hh.engine.BeginRestore(threshold)
			for i, words := range shares {
				held, err := restore.EnterPhysicalBackup(fmt.Sprintf("restored-%d", i), words)
				if err != nil {
					return fail(cmd, exitProtoOrData, err)
				}
				id := deviceIDFromIndex(held.ShareIndex)
				// A restoring device must be known to the coordinator's
				// device table before its held share can be attributed to
				// it, so announce its synthesized identity first.
				if err := hh.engine.ProcessDeviceMessage(wire.DeviceSendMessage{
					From: id,
					Body: wire.DeviceSendBody{Kind: wire.DeviceBodyAnnounce, Announce: &wire.AnnounceMsg{}},
				}); err != nil {
					return fail(cmd, exitProtoOrData, err)
				}
				hh.engine.DrainOutbox()
				if err := hh.engine.ProcessDeviceMessage(wire.DeviceSendMessage{
					From: id,
					Body: wire.DeviceSendBody{Kind: wire.DeviceBodyCore, Core: &wire.DeviceToCoordinatorMessage{
						Kind:      wire.DeviceHeldShare,
						HeldShare: &wire.HeldShareMsg{ShareIndex: held.ShareIndex, ShareValue: held.ShareValue},
					}},
				}); err != nil {
					return fail(cmd, exitProtoOrData, err)
				}
			}

			for id, as := range hh.engine.AccessStructures() {
				fmt.Fprintf(cmd.OutOrStdout(), "reconstructed access structure %x: threshold %d, group key %x\n",
					id, as.Threshold, as.GroupKey.Bytes())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 2, "number of shares required to reconstruct")
	cmd.Flags().StringArrayVar(&shares, "share", nil, "a physical backup phrase (repeatable)")
	return cmd
}

// deviceIDFromIndex synthesizes a stand-in device identity for a restored
// share: restoration happens without the original device present to
// announce itself, so there is no real DeviceID to attribute the held
// share to. It derives a deterministic (but otherwise meaningless) keypair
// from the share index purely so the coordinator's announce/decompress
// plumbing has a validly-encoded compressed point to work with.
func deviceIDFromIndex(shareIndex uint32) wire.DeviceID {
	var seed [4]byte
	binary.BigEndian.PutUint32(seed[:], shareIndex)
	digest := sha256.Sum256(append([]byte("frostsnap/restore-device/"), seed[:]...))
	secret := curve.ScalarFromBytes(digest[:])
	point := curve.EcBaseMul(secret)

	var id wire.DeviceID
	copy(id[:], point.PubKey().SerializeCompressed())
	return id
}
