// Package frost implements the two-round FROST threshold Schnorr signing
// protocol over secp256k1/BIP340, generalising the teacher's ciphersuite-
// abstracted frost package down to the single ciphersuite this engine needs
// while keeping its function-by-function structure and its habit of quoting
// the underlying draft's pseudocode in doc comments.
package frost

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/frostsnap/engine/bip340"
	"github.com/frostsnap/engine/curve"
)

// ShareIndex identifies a participant's position on the secret sharing
// polynomial. It is never zero.
type ShareIndex uint32

func (i ShareIndex) scalar() *big.Int { return big.NewInt(int64(i)) }

// NonceCommitment is the Round One public output of a single signer: the
// hiding and binding nonce commitments, tagged with the signer that produced
// them.
type NonceCommitment struct {
	Signer  ShareIndex
	Hiding  curve.Point
	Binding curve.Point
}

// SignerNonces are the Round One secret outputs. Each value must be used for
// at most one Round2 call; package nonce is responsible for enforcing that
// at the stream level.
type SignerNonces struct {
	Hiding, Binding *big.Int
}

// Signature is a complete aggregated FROST signature, encodable as a plain
// BIP340 signature.
type Signature struct {
	GroupCommitment curve.Point
	Z               *big.Int
}

// Bytes returns the BIP340 encoding (R.x || z) of the signature.
func (sig Signature) Bytes() bip340.Signature {
	rb := sig.GroupCommitment.XOnlyBytes()
	return bip340.Signature{R: rb, S: curve.ScalarToBytes32(sig.Z)}
}

// Signer holds one participant's long-term secret key share.
type Signer struct {
	Index          ShareIndex
	SecretKeyShare *big.Int
	GroupPublicKey curve.Point
}

// Round1 produces a commitment pair from externally supplied nonce scalars.
// Unlike the teacher's Signer.Round1, nonce generation itself is NOT done
// here: nonces come from package nonce's ratchet so they survive power loss
// without ever repeating, which plain crypto/rand cannot guarantee across
// restarts.
func Round1(nonces SignerNonces) (curve.Point, curve.Point) {
	return curve.EcBaseMul(nonces.Hiding), curve.EcBaseMul(nonces.Binding)
}

// computeBindingFactors implements the FROST binding-factor computation
// (draft section 4.4): rho_i = H1(group_pk || H4(msg) || H5(commitment_list) || i).
func computeBindingFactors(
	groupKey curve.Point,
	message []byte,
	commitments []NonceCommitment,
) map[ShareIndex]*big.Int {
	groupKeyEnc := groupKey.Bytes()
	msgHash := bip340.H4(message)
	commEnc := encodeGroupCommitment(commitments)
	commHash := bip340.H5(commEnc)

	prefix := concat(groupKeyEnc, msgHash[:], commHash[:])

	out := make(map[ShareIndex]*big.Int, len(commitments))
	for _, c := range commitments {
		input := make([]byte, len(prefix), len(prefix)+4)
		copy(input, prefix)
		input = binary.BigEndian.AppendUint32(input, uint32(c.Signer))
		out[c.Signer] = bip340.H1(input)
	}
	return out
}

// computeGroupCommitment implements FROST's group-commitment computation
// (draft section 4.5): R = sum_i (hiding_i + rho_i * binding_i).
func computeGroupCommitment(
	commitments []NonceCommitment,
	bindingFactors map[ShareIndex]*big.Int,
) curve.Point {
	var groupCommitment curve.Point
	first := true
	for _, c := range commitments {
		bn := curve.EcMul(c.Binding, bindingFactors[c.Signer])
		term := curve.EcAdd(c.Hiding, bn)
		if first {
			groupCommitment = term
			first = false
			continue
		}
		groupCommitment = curve.EcAdd(groupCommitment, term)
	}
	return groupCommitment
}

// encodeGroupCommitment implements the FROST list-encoding helper (draft
// section 4.3): the canonical byte string fed into H5.
func encodeGroupCommitment(commitments []NonceCommitment) []byte {
	out := make([]byte, 0, len(commitments)*(4+64+64))
	for _, c := range commitments {
		out = binary.BigEndian.AppendUint32(out, uint32(c.Signer))
		out = append(out, c.Hiding.Bytes()...)
		out = append(out, c.Binding.Bytes()...)
	}
	return out
}

// DeriveInterpolatingValue implements FROST's Lagrange coefficient (draft
// section 4.2): lambda_i = prod_{j in L, j != i} x_j / (x_j - x_i).
func DeriveInterpolatingValue(xi ShareIndex, participants []ShareIndex) *big.Int {
	num := big.NewInt(1)
	den := big.NewInt(1)
	for _, xj := range participants {
		if xj == xi {
			continue
		}
		num.Mul(num, xj.scalar())
		num.Mod(num, curve.Order)
		diff := new(big.Int).Sub(xj.scalar(), xi.scalar())
		den.Mul(den, diff)
		den.Mod(den, curve.Order)
	}
	denInv := new(big.Int).ModInverse(den, curve.Order)
	if denInv == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mod(new(big.Int).Mul(num, denInv), curve.Order)
}

// computeChallenge implements FROST's Schnorr challenge (draft section 4.6),
// identical to the plain BIP340 challenge hash.
func computeChallenge(groupKey curve.Point, message []byte, groupCommitment curve.Point) *big.Int {
	rb := groupCommitment.XOnlyBytes()
	pb := groupKey.XOnlyBytes()
	return bip340.H2(rb[:], pb[:], message)
}

// validateCommitments checks the four structural requirements FROST places
// on a commitment list: non-nil, on-curve, ascending order by signer index,
// and (for a signer) self-presence. It returns the sorted participant list
// on success.
func validateCommitments(commitments []NonceCommitment, self *ShareIndex) ([]ShareIndex, error) {
	var errs []error
	participants := make([]ShareIndex, len(commitments))
	found := self == nil
	last := ShareIndex(0)
	for i, c := range commitments {
		if c.Signer <= last && i > 0 {
			errs = append(errs, fmt.Errorf("commitments not sorted ascending at index %d", i))
		}
		last = c.Signer
		participants[i] = c.Signer
		if self != nil && c.Signer == *self {
			found = true
		}
		if !c.Hiding.IsOnCurve() || curve.IsInfinity(c.Hiding) {
			errs = append(errs, fmt.Errorf("hiding commitment from signer %d is not a valid point", c.Signer))
		}
		if !c.Binding.IsOnCurve() || curve.IsInfinity(c.Binding) {
			errs = append(errs, fmt.Errorf("binding commitment from signer %d is not a valid point", c.Signer))
		}
	}
	if !found {
		errs = append(errs, errors.New("this signer's commitment is not present in the commitment list"))
	}
	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}
	return participants, nil
}

// needsNegation reports whether the group commitment R must be treated as
// negated to land on the even-Y point BIP340 verification requires (R and
// -R share an X coordinate, so only Y parity is at stake, and negating R
// here is what makes z*G = R + e*P hold for an even-Y R without ever
// resampling a nonce). Every participant computes this from the same public
// commitment list, so the decision is identical everywhere it is made
// without any extra round.
func needsNegation(groupCommitment curve.Point) bool {
	return !curve.HasEvenY(groupCommitment)
}

// Round2 implements FROST's signature-share generation (draft section 5.2).
func (s *Signer) Round2(message []byte, nonces SignerNonces, commitments []NonceCommitment) (*big.Int, error) {
	participants, err := validateCommitments(commitments, &s.Index)
	if err != nil {
		return nil, err
	}

	bindingFactors := computeBindingFactors(s.GroupPublicKey, message, commitments)
	bindingFactor := bindingFactors[s.Index]
	groupCommitment := computeGroupCommitment(commitments, bindingFactors)
	lambda := DeriveInterpolatingValue(s.Index, participants)
	challenge := computeChallenge(s.GroupPublicKey, message, groupCommitment)

	hiding, binding := nonces.Hiding, nonces.Binding
	if needsNegation(groupCommitment) {
		hiding = new(big.Int).Sub(curve.Order, hiding)
		binding = new(big.Int).Sub(curve.Order, binding)
	}

	bnbf := new(big.Int).Mul(binding, bindingFactor)
	lski := new(big.Int).Mul(lambda, s.SecretKeyShare)
	lskic := new(big.Int).Mul(lski, challenge)

	sigShare := new(big.Int).Add(hiding, new(big.Int).Add(bnbf, lskic))
	return sigShare.Mod(sigShare, curve.Order), nil
}

// Aggregate implements FROST's signature-share aggregation (draft section
// 5.3). The caller is expected to have already validated each signature
// share against its signer's public verification share (see VerifyShare);
// Aggregate itself only re-derives the group commitment and sums.
func Aggregate(
	groupKey curve.Point,
	message []byte,
	commitments []NonceCommitment,
	shares []*big.Int,
) (Signature, error) {
	if _, err := validateCommitments(commitments, nil); err != nil {
		return Signature{}, err
	}
	bindingFactors := computeBindingFactors(groupKey, message, commitments)
	groupCommitment := computeGroupCommitment(commitments, bindingFactors)
	if needsNegation(groupCommitment) {
		groupCommitment = curve.Negate(groupCommitment)
	}

	z := big.NewInt(0)
	for _, zi := range shares {
		z.Add(z, zi)
		z.Mod(z, curve.Order)
	}
	return Signature{GroupCommitment: groupCommitment, Z: z}, nil
}

// VerifyShare checks a single signer's signature share against its public
// verification share (groupKey's contribution reconstructed from the public
// polynomial commitments kept since DKG). Package signing uses it to reject
// an invalid share before Aggregate is reached; the session is then
// aborted, and the misbehaving signer is not replaced.
func VerifyShare(
	verificationShare curve.Point,
	groupKey curve.Point,
	message []byte,
	commitments []NonceCommitment,
	self ShareIndex,
	share *big.Int,
) (bool, error) {
	participants, err := validateCommitments(commitments, nil)
	if err != nil {
		return false, err
	}
	bindingFactors := computeBindingFactors(groupKey, message, commitments)
	groupCommitment := computeGroupCommitment(commitments, bindingFactors)
	challenge := computeChallenge(groupKey, message, groupCommitment)
	lambda := DeriveInterpolatingValue(self, participants)

	var commitment NonceCommitment
	for _, c := range commitments {
		if c.Signer == self {
			commitment = c
			break
		}
	}
	bindingFactor := bindingFactors[self]
	expectedCommitment := curve.EcAdd(commitment.Hiding, curve.EcMul(commitment.Binding, bindingFactor))
	if needsNegation(groupCommitment) {
		expectedCommitment = curve.Negate(expectedCommitment)
	}

	lhs := curve.EcBaseMul(share)
	rhs := curve.EcAdd(expectedCommitment, curve.EcMul(verificationShare, new(big.Int).Mul(lambda, challenge)))
	return curve.Equal(lhs, rhs), nil
}

// VerifySignature checks a complete aggregated signature against the group
// public key, delegating to plain BIP340 verification since a FROST
// signature is by construction a valid BIP340 signature.
func VerifySignature(groupKey curve.Point, message []byte, sig Signature) bool {
	return bip340.Verify(groupKey, message, sig.Bytes())
}

func concat(a []byte, bs ...[]byte) []byte {
	out := make([]byte, len(a))
	copy(out, a)
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}
