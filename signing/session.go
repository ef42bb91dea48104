// Package signing implements the per-session signing coordinator state
// machine described in spec.md section 4.3: a device's nonce offer is
// collected until every input has enough commitments, then its signature
// share is verified against its long-term verification share and is either
// stored or aborts the session outright. This generalises the teacher's
// toy RoastExecution/coordinator.go prototype (its per-round commitment
// map) from single-message signing to spec.md's per-(device,input) share
// matrix, trading ROAST's exclude-and-retry robustness for the spec's
// simpler any-bad-share-kills-the-session contract.
package signing

import (
	"math/big"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/frost"
	"github.com/frostsnap/engine/frosterr"
	"github.com/frostsnap/engine/signtask"
)

// State is a signing session's coarse progress, logged the way the
// teacher's member.go logged its iota-valued behaviour constants.
type State int

const (
	AwaitingNonces State = iota
	NoncesAllocated
	AwaitingShares
	Finalising
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case AwaitingNonces:
		return "awaiting_nonces"
	case NoncesAllocated:
		return "nonces_allocated"
	case AwaitingShares:
		return "awaiting_shares"
	case Finalising:
		return "finalising"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Session coordinates one signing request across a set of devices and every
// input of the transaction it covers.
type Session struct {
	ID                 [32]byte
	Task               signtask.Task
	Threshold          int
	GroupKey           curve.Point
	VerificationShares map[frost.ShareIndex]curve.Point

	sigHashes   [][32]byte
	commitments map[int]map[frost.ShareIndex]frost.NonceCommitment // input -> signer -> commitment
	shares      map[int]map[frost.ShareIndex]*big.Int              // input -> signer -> share
	signatures  []frost.Signature

	State State
}

// NewSession begins a signing session for an already-checked task.
func NewSession(
	id [32]byte,
	task signtask.Task,
	threshold int,
	groupKey curve.Point,
	verificationShares map[frost.ShareIndex]curve.Point,
	sigHashes [][32]byte,
) *Session {
	return &Session{
		ID:                 id,
		Task:               task,
		Threshold:          threshold,
		GroupKey:           groupKey,
		VerificationShares: verificationShares,
		sigHashes:          sigHashes,
		commitments:        make(map[int]map[frost.ShareIndex]frost.NonceCommitment),
		shares:             make(map[int]map[frost.ShareIndex]*big.Int),
		State:              AwaitingNonces,
	}
}

// OfferNonces records one device's nonce commitment for every input. A
// device offers a distinct commitment (one nonce-stream slot) per input,
// so perInput must hold exactly one entry for each sighash.
func (s *Session) OfferNonces(signer frost.ShareIndex, perInput []frost.NonceCommitment) error {
	if s.State == Aborted {
		return &frosterr.InvalidMessage{Reason: "session already aborted"}
	}
	if len(perInput) != len(s.sigHashes) {
		return &frosterr.InvalidMessage{Reason: "nonce offer does not cover every input"}
	}
	for i, c := range perInput {
		if c.Signer != signer {
			return &frosterr.InvalidMessage{Reason: "nonce offer signer index mismatch"}
		}
		if s.commitments[i] == nil {
			s.commitments[i] = make(map[frost.ShareIndex]frost.NonceCommitment)
		}
		s.commitments[i][signer] = c
	}
	if s.readyForShares() {
		s.State = NoncesAllocated
	}
	return nil
}

func (s *Session) readyForShares() bool {
	for i := range s.sigHashes {
		if len(s.commitments[i]) < s.Threshold {
			return false
		}
	}
	return true
}

// CommitmentsFor returns the sorted commitment list a device needs in order
// to produce its Round 2 signature shares for the given input.
func (s *Session) CommitmentsFor(input int) []frost.NonceCommitment {
	byIndex := s.commitments[input]
	out := make([]frost.NonceCommitment, 0, len(byIndex))
	for _, c := range byIndex {
		out = append(out, c)
	}
	sortCommitments(out)
	return out
}

func sortCommitments(cs []frost.NonceCommitment) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j-1].Signer > cs[j].Signer; j-- {
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
}

// ReceiveShare processes one device's signature share for one input,
// verifying it against the signer's long-term verification share before
// storing it. Per spec.md section 4.3, any invalid share aborts the whole
// session rather than merely excluding its sender: the caller must tear
// down the session on error rather than solicit a replacement.
func (s *Session) ReceiveShare(signer frost.ShareIndex, input int, sigShare *big.Int) error {
	if s.State == Aborted {
		return &frosterr.InvalidMessage{Reason: "session already aborted"}
	}
	if input < 0 || input >= len(s.sigHashes) {
		return &frosterr.InvalidMessage{Reason: "share references an out-of-range input"}
	}
	commitments := s.CommitmentsFor(input)
	verificationShare, ok := s.VerificationShares[signer]
	if !ok {
		s.State = Aborted
		return &frosterr.InvalidMessage{Reason: "share from a signer with no known verification share"}
	}

	valid, err := frost.VerifyShare(verificationShare, s.GroupKey, s.sigHashes[input][:], commitments, signer, sigShare)
	if err != nil {
		s.State = Aborted
		return err
	}
	if !valid {
		s.State = Aborted
		return &frosterr.InvalidMessage{Reason: "signature share failed verification; session aborted"}
	}

	if s.shares[input] == nil {
		s.shares[input] = make(map[frost.ShareIndex]*big.Int)
	}
	s.shares[input][signer] = sigShare

	if s.readyToFinalize() {
		s.State = Finalising
	}
	return nil
}

func (s *Session) readyToFinalize() bool {
	for i := range s.sigHashes {
		if len(s.shares[i]) < s.Threshold {
			return false
		}
	}
	return true
}

// Finalize aggregates every input's signature shares into a complete
// signature set, one BIP340 signature per transaction input.
func (s *Session) Finalize() ([]frost.Signature, error) {
	if !s.readyToFinalize() {
		return nil, &frosterr.InvalidMessage{Reason: "not enough shares to finalize"}
	}
	sigs := make([]frost.Signature, len(s.sigHashes))
	for i, digest := range s.sigHashes {
		commitments := s.CommitmentsFor(i)
		shares := make([]*big.Int, 0, len(s.shares[i]))
		for _, sh := range s.shares[i] {
			shares = append(shares, sh)
		}
		sig, err := frost.Aggregate(s.GroupKey, digest[:], commitments, shares)
		if err != nil {
			return nil, err
		}
		if !frost.VerifySignature(s.GroupKey, digest[:], sig) {
			return nil, &frosterr.InvalidMessage{Reason: "aggregated signature failed to verify despite all shares passing individual verification"}
		}
		sigs[i] = sig
	}
	s.signatures = sigs
	s.State = Done
	return sigs, nil
}
