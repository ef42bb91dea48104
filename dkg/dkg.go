// Package dkg implements encpedpop, the encrypted Pedersen VSS distributed
// key generation protocol: a simplified, non-retryable variant of GJKR with
// no complaint/accusation phase. It is grounded on the phase-structured
// member/group idiom of the teacher's gjkr package (newGroup, the
// ephemeralKeyPairGeneratingMember -> symmetricKeyGeneratingMember chain)
// but the accusation-resolution machinery in gjkr/evidence_log.go has no
// home here: any inconsistency this protocol detects aborts the whole
// session rather than opening a complaint round (see DESIGN.md).
package dkg

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/frostsnap/engine/bip340"
	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/frost"
	"github.com/frostsnap/engine/frosterr"
	"github.com/frostsnap/engine/share"
)

// Logger is the minimal structured-logging surface dkg accepts, filling the
// gap left by the teacher's gjkr.member, which declared a `logger Logger`
// field but never defined or constructed the interface it referred to.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type discardLogger struct{}

func (discardLogger) Debugf(string, ...interface{}) {}
func (discardLogger) Warnf(string, ...interface{})  {}

// Contribution is one participant's round-1 broadcast: a Pedersen VSS
// commitment to their secret polynomial, plus one encrypted share per other
// participant.
type Contribution struct {
	Index           frost.ShareIndex
	Commitment      []curve.Point // coefficients C_0..C_{t-1}, C_0 is this participant's contribution to the group key
	EncryptedShares map[frost.ShareIndex]share.EncryptedShare
	PoP             bip340.Signature // proof of possession over C_0's x-only bytes, signed by the device's long-term key
}

// BeginKeygen generates this participant's polynomial and produces their
// round-1 contribution, encrypting one share per recipient's long-term
// public key.
func BeginKeygen(
	self frost.ShareIndex,
	threshold int,
	recipients map[frost.ShareIndex]curve.Point,
	longTermSecret *big.Int,
	rng randReader,
) (Contribution, map[frost.ShareIndex]*big.Int, error) {
	coeffs := make([]*big.Int, threshold)
	for i := range coeffs {
		coeffs[i] = curve.SampleScalar()
	}
	commitment := make([]curve.Point, threshold)
	for i, c := range coeffs {
		commitment[i] = curve.EcBaseMul(c)
	}

	rawShares := make(map[frost.ShareIndex]*big.Int, len(recipients))
	encShares := make(map[frost.ShareIndex]share.EncryptedShare, len(recipients))
	for idx, pub := range recipients {
		val := evalPoly(coeffs, idx)
		rawShares[idx] = val
		if idx == self {
			continue
		}
		sealed, err := share.SealShare(pub, rng, val)
		if err != nil {
			return Contribution{}, nil, err
		}
		encShares[idx] = sealed
	}

	c0 := commitment[0].XOnlyBytes()
	var aux [32]byte
	pop, err := bip340.Sign(longTermSecret, c0[:], aux)
	if err != nil {
		return Contribution{}, nil, err
	}

	return Contribution{
		Index:           self,
		Commitment:      commitment,
		EncryptedShares: encShares,
		PoP:             pop,
	}, rawShares, nil
}

type randReader interface {
	Read(p []byte) (n int, err error)
}

func evalPoly(coeffs []*big.Int, x frost.ShareIndex) *big.Int {
	xScalar := big.NewInt(int64(x))
	result := big.NewInt(0)
	power := big.NewInt(1)
	for _, c := range coeffs {
		term := new(big.Int).Mul(c, power)
		result.Add(result, term)
		result.Mod(result, curve.Order)
		power.Mul(power, xScalar)
		power.Mod(power, curve.Order)
	}
	return result
}

// Transcript collects every participant's round-1 contribution so the
// aggregation step can verify shares against commitments and compute a
// session hash that detects a coordinator substituting a different
// polynomial for any participant (spec.md's malicious-coordinator scenario).
type Transcript struct {
	Threshold     int
	Contributions map[frost.ShareIndex]Contribution
	LongTermKeys  map[frost.ShareIndex]curve.Point
}

// NewTranscript constructs an empty transcript for the given participant
// set and their long-term device keys.
func NewTranscript(threshold int, longTermKeys map[frost.ShareIndex]curve.Point) *Transcript {
	return &Transcript{
		Threshold:     threshold,
		Contributions: make(map[frost.ShareIndex]Contribution),
		LongTermKeys:  longTermKeys,
	}
}

// Add records a participant's round-1 contribution, verifying its proof of
// possession up front so a malformed PoP aborts immediately rather than
// surfacing later as an unexplained share mismatch.
func (tr *Transcript) Add(c Contribution) error {
	longTermKey, ok := tr.LongTermKeys[c.Index]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "contribution from unknown participant index"}
	}
	if len(c.Commitment) != tr.Threshold {
		return &frosterr.InvalidMessage{Reason: "contribution commitment has the wrong degree"}
	}
	c0 := c.Commitment[0].XOnlyBytes()
	if !bip340.Verify(longTermKey, c0[:], c.PoP) {
		return &frosterr.InvalidMessage{Reason: "contribution proof of possession failed to verify"}
	}
	tr.Contributions[c.Index] = c
	return nil
}

// SessionHash hashes every participant's commitment list in index order.
// Every honest participant computes the same value iff the coordinator
// relayed identical commitments to everyone; comparing session hashes
// during the confirm round is how a substituted-polynomial attack is
// detected.
func (tr *Transcript) SessionHash() [32]byte {
	indices := make([]frost.ShareIndex, 0, len(tr.Contributions))
	for idx := range tr.Contributions {
		indices = append(indices, idx)
	}
	sortIndices(indices)

	h := sha256.New()
	for _, idx := range indices {
		c := tr.Contributions[idx]
		var ib [4]byte
		binary.BigEndian.PutUint32(ib[:], uint32(idx))
		h.Write(ib[:])
		for _, p := range c.Commitment {
			h.Write(p.Bytes())
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func sortIndices(idx []frost.ShareIndex) {
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && idx[j-1] > idx[j]; j-- {
			idx[j-1], idx[j] = idx[j], idx[j-1]
		}
	}
}

// AggregateShares decrypts self's share from every other participant's
// contribution, verifies each against its sender's commitment, and sums
// them into this participant's final secret key share. It also computes
// the resulting group public key and every participant's public
// verification share, needed later by package signing's VerifyShare.
func (tr *Transcript) AggregateShares(
	self frost.ShareIndex,
	selfLongTermSecret *big.Int,
	selfRawShares map[frost.ShareIndex]*big.Int,
) (secretKeyShare *big.Int, groupKey curve.Point, verificationShares map[frost.ShareIndex]curve.Point, err error) {
	if len(tr.Contributions) == 0 {
		return nil, curve.Point{}, nil, errors.New("dkg: empty transcript")
	}

	secretKeyShare = big.NewInt(0)
	for idx, c := range tr.Contributions {
		var val *big.Int
		if idx == self {
			v, ok := selfRawShares[self]
			if !ok {
				return nil, curve.Point{}, nil, errors.New("dkg: missing self share for own contribution")
			}
			val = v
		} else {
			sealed, ok := c.EncryptedShares[self]
			if !ok {
				return nil, curve.Point{}, nil, &frosterr.InvalidMessage{Reason: "contribution is missing this participant's encrypted share"}
			}
			v, err := sealed.Open(selfLongTermSecret)
			if err != nil {
				return nil, curve.Point{}, nil, err
			}
			val = v
		}

		if !verifyShareAgainstCommitment(val, self, c.Commitment) {
			return nil, curve.Point{}, nil, &frosterr.InvalidMessage{Reason: "share from participant does not match their published polynomial commitment"}
		}

		secretKeyShare.Add(secretKeyShare, val)
		secretKeyShare.Mod(secretKeyShare, curve.Order)
	}

	indices := make([]frost.ShareIndex, 0, len(tr.Contributions))
	for idx := range tr.Contributions {
		indices = append(indices, idx)
	}

	var gk curve.Point
	first := true
	for _, c := range tr.Contributions {
		if first {
			gk = c.Commitment[0]
			first = false
			continue
		}
		gk = curve.EcAdd(gk, c.Commitment[0])
	}
	groupKey = gk

	verificationShares = make(map[frost.ShareIndex]curve.Point, len(indices))
	for _, participant := range indices {
		var vs curve.Point
		firstTerm := true
		for _, c := range tr.Contributions {
			term := evalCommitment(c.Commitment, participant)
			if firstTerm {
				vs = term
				firstTerm = false
				continue
			}
			vs = curve.EcAdd(vs, term)
		}
		verificationShares[participant] = vs
	}

	var negated bool
	groupKey, verificationShares, negated = NormalizeGroupKey(groupKey, verificationShares)
	if negated {
		secretKeyShare = new(big.Int).Mod(new(big.Int).Sub(curve.Order, secretKeyShare), curve.Order)
	}

	return secretKeyShare, groupKey, verificationShares, nil
}

// NormalizeGroupKey forces a DKG-derived group public key to even-Y, the
// BIP340 sign convention frost.computeChallenge and bip340.Verify both
// assume: the raw sum of every participant's C_0 lands on odd-Y about half
// the time, and without this normalisation z*G = R + e*P only satisfies
// BIP340 verification when both R and P happen to already be even-Y.
// Negating the group secret to flip its public key's parity negates the
// whole underlying sharing polynomial, so every verification share --
// itself a public evaluation of that polynomial -- must be negated in
// lockstep; a caller holding the corresponding secret share (see
// AggregateShares) negates it identically, using the reported bool.
func NormalizeGroupKey(groupKey curve.Point, verificationShares map[frost.ShareIndex]curve.Point) (curve.Point, map[frost.ShareIndex]curve.Point, bool) {
	if curve.HasEvenY(groupKey) {
		return groupKey, verificationShares, false
	}
	negated := make(map[frost.ShareIndex]curve.Point, len(verificationShares))
	for idx, vs := range verificationShares {
		negated[idx] = curve.Negate(vs)
	}
	return curve.Negate(groupKey), negated, true
}

// verifyShareAgainstCommitment checks share*G == sum_k commitment[k] * x^k,
// the Feldman VSS verification equation.
func verifyShareAgainstCommitment(shareValue *big.Int, x frost.ShareIndex, commitment []curve.Point) bool {
	lhs := curve.EcBaseMul(shareValue)
	rhs := evalCommitment(commitment, x)
	return curve.Equal(lhs, rhs)
}

func evalCommitment(commitment []curve.Point, x frost.ShareIndex) curve.Point {
	xScalar := big.NewInt(int64(x))
	power := big.NewInt(1)
	var acc curve.Point
	for i, c := range commitment {
		term := curve.EcMul(c, power)
		if i == 0 {
			acc = term
		} else {
			acc = curve.EcAdd(acc, term)
		}
		power.Mul(power, xScalar)
		power.Mod(power, curve.Order)
	}
	return acc
}

// ConfirmationSignature signs the transcript's session hash with a
// participant's long-term device key, the round-3 acknowledgement every
// participant broadcasts before the group key is considered final.
func ConfirmationSignature(longTermSecret *big.Int, sessionHash [32]byte) (bip340.Signature, error) {
	var aux [32]byte
	return bip340.Sign(longTermSecret, sessionHash[:], aux)
}

// Finalize checks that every participant's confirmation signature is valid
// over the same session hash. A single mismatched or missing signature
// aborts the keygen non-retryably, per spec.md's encpedpop failure
// semantics -- there is no complaint round to recover into.
func Finalize(
	sessionHash [32]byte,
	confirmations map[frost.ShareIndex]bip340.Signature,
	longTermKeys map[frost.ShareIndex]curve.Point,
) error {
	for idx, longTermKey := range longTermKeys {
		sig, ok := confirmations[idx]
		if !ok {
			return &frosterr.InvalidMessage{Reason: "missing confirmation signature from a participant"}
		}
		if !bip340.Verify(longTermKey, sessionHash[:], sig) {
			return &frosterr.InvalidMessage{Reason: "confirmation signature failed to verify"}
		}
	}
	return nil
}
