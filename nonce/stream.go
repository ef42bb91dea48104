// Package nonce implements the per-device nonce stream: a deterministic,
// persistent generator of FROST signing nonces that must never produce the
// same nonce twice, even across arbitrary power loss. It is grounded on the
// ratchet/reservation protocol described in the original Rust
// frostsnap_core/tests/nonce_generation.rs (SecretNonceSlot's
// ratchet_prg_seed_material field and NonceJobBatch API), reimplemented in
// idiomatic Go rather than transliterated.
package nonce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/frosterr"
)

// StreamID identifies one nonce stream. A device holds one stream per key
// it has a share in.
type StreamID [16]byte

// Seed is a ratchet PRG seed. Seed material is conditioned TRNG output on
// first use and HMAC-derived thereafter; it is never the same value twice
// for two different indices.
type Seed [32]byte

// ratchet derives the seed for the next index from the current one. This is
// a one-way function: knowing seed N does not reveal seed N-1, so a
// compromised later slot cannot be used to recover earlier nonces.
func (s Seed) ratchet(index uint32) Seed {
	mac := hmac.New(sha256.New, s[:])
	mac.Write([]byte("frostsnap/nonce-ratchet"))
	var ib [4]byte
	binary.BigEndian.PutUint32(ib[:], index)
	mac.Write(ib[:])
	var out Seed
	copy(out[:], mac.Sum(nil))
	return out
}

// scalars derives the hiding and binding nonce scalars for a slot from its
// seed, the same H3(random_bytes || secret) construction the teacher's
// frost.Signer.generateNonce used, except here "random_bytes" is the
// deterministic ratchet output rather than crypto/rand, which is what makes
// the stream replayable after a crash without ever repeating a value.
func (s Seed) scalars(secretKeyShare *big.Int) (hiding, binding *big.Int) {
	skBytes := curve.ScalarToBytes32(secretKeyShare)
	hiding = h3(append(append([]byte{}, s[:]...), 'H'), skBytes[:])
	binding = h3(append(append([]byte{}, s[:]...), 'B'), skBytes[:])
	return hiding, binding
}

func h3(randomBytes, secret []byte) *big.Int {
	mac := hmac.New(sha256.New, secret)
	mac.Write(randomBytes)
	return curve.ScalarFromBytes(mac.Sum(nil))
}

// Slot is one reserved, not-yet-spent nonce in a stream.
type Slot struct {
	Index    uint32
	StreamID StreamID
	Seed     Seed
	Used     bool
	// SigningState, when non-nil, records the in-flight signing session this
	// slot has been committed to -- set the instant a commitment is sent and
	// cleared only once a signature share has been produced, so a restart
	// mid-session resumes rather than silently reusing the nonce for a
	// different message.
	SigningState *SigningState
}

// SigningState pins a reserved slot to the session it was offered for.
type SigningState struct {
	SessionID      [32]byte
	MessageDigest  [32]byte
}

// Hiding and Binding derive this slot's nonce scalars. SecretKeyShare is
// passed in rather than stored on the slot: slots are cheap, ephemeral
// values and the engine never persists a raw secret key share alongside
// them.
func (s Slot) Hiding(secretKeyShare *big.Int) *big.Int {
	h, _ := s.Seed.scalars(secretKeyShare)
	return h
}

func (s Slot) Binding(secretKeyShare *big.Int) *big.Int {
	_, b := s.Seed.scalars(secretKeyShare)
	return b
}

// Stream is one device's nonce stream for one key. NextIndex is the next
// slot index that has not yet been reserved; everything below it has
// already been (at least) ratcheted past and must never be regenerated.
// currentSeed holds only the seed material for NextIndex onward -- the
// seed material for every earlier index is overwritten the moment it is
// ratcheted past, per spec.md section 4.1's forward-secrecy requirement:
// a captured flash image must reveal only future nonces, never past ones.
type Stream struct {
	ID          StreamID
	currentSeed Seed
	NextIndex   uint32
	reserved    map[uint32]*Slot
}

// NewStream constructs a stream rooted at a fresh, hardware-sourced seed.
// The caller is responsible for persisting the seed (via an AEAD-wrapped
// mutation record) before the stream is used, since it is the sole source
// of the stream's first nonce; every later seed derives from it and is then
// persisted in its place (see CurrentSeed).
func NewStream(id StreamID, rootSeed Seed) *Stream {
	return &Stream{ID: id, currentSeed: rootSeed, reserved: make(map[uint32]*Slot)}
}

// Resume reconstructs a stream from previously persisted ratchet state: the
// seed material for the next index to be reserved, and that index. No
// earlier seed material is needed, or available -- forgetting it is the
// entire point of the ratchet.
func Resume(id StreamID, currentSeed Seed, nextIndex uint32) *Stream {
	return &Stream{ID: id, currentSeed: currentSeed, NextIndex: nextIndex, reserved: make(map[uint32]*Slot)}
}

// CurrentSeed returns the seed material for the next index Reserve will
// hand out. The caller persists this value in place of whatever it had
// persisted before -- overwriting, never appending -- so that durable
// storage never retains more than one step of past seed material either.
func (s *Stream) CurrentSeed() Seed {
	return s.currentSeed
}

// Reserve advances NextIndex by n and returns n freshly-derived slots,
// ratcheting currentSeed forward one step per slot and overwriting it in
// place: once a slot's seed has been derived, the seed material that
// produced it is gone from the Stream. The caller MUST durably persist the
// new CurrentSeed/NextIndex (a mutation record) before sending any of the
// resulting public nonce commitments -- persisting after sending risks, on
// power loss, re-deriving and resending the same commitments for a future
// session, which is exactly the repeated-nonce failure this whole package
// exists to prevent.
func (s *Stream) Reserve(n int) []Slot {
	out := make([]Slot, n)
	for i := 0; i < n; i++ {
		idx := s.NextIndex
		s.currentSeed = s.currentSeed.ratchet(idx)
		slot := &Slot{Index: idx, StreamID: s.ID, Seed: s.currentSeed}
		s.reserved[idx] = slot
		out[i] = *slot
		s.NextIndex++
	}
	return out
}

// Available reports how many unused reserved slots remain.
func (s *Stream) Available() int {
	n := 0
	for _, slot := range s.reserved {
		if !slot.Used {
			n++
		}
	}
	return n
}

// RequireAvailable returns InsufficientNonces if fewer than need slots are
// reserved and unused.
func (s *Stream) RequireAvailable(need int) error {
	if have := s.Available(); have < need {
		return &frosterr.InsufficientNonces{StreamID: string(s.ID[:]), Have: have, Need: need}
	}
	return nil
}

// Commit marks a reserved slot as bound to a specific signing session,
// guarding against the slot being offered again for a different message
// while a response is outstanding.
func (s *Stream) Commit(index uint32, sessionID, messageDigest [32]byte) error {
	slot, ok := s.reserved[index]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "commit references an unreserved nonce slot"}
	}
	if slot.Used {
		return &frosterr.InvalidMessage{Reason: "commit references an already-spent nonce slot"}
	}
	slot.SigningState = &SigningState{SessionID: sessionID, MessageDigest: messageDigest}
	return nil
}

// Spend marks a committed slot as permanently used. Once spent, Reserve will
// never hand this index out again because NextIndex has already advanced
// past it.
func (s *Stream) Spend(index uint32) error {
	slot, ok := s.reserved[index]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "spend references an unreserved nonce slot"}
	}
	slot.Used = true
	slot.SigningState = nil
	return nil
}

// Slot looks up a previously reserved slot by index.
func (s *Stream) Slot(index uint32) (Slot, bool) {
	slot, ok := s.reserved[index]
	if !ok {
		return Slot{}, false
	}
	return *slot, true
}
