package device

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/dkg"
	"github.com/frostsnap/engine/frost"
	"github.com/frostsnap/engine/mutation"
	"github.com/frostsnap/engine/nonce"
	"github.com/frostsnap/engine/wire"
)

// fakeLog is an in-memory stand-in for hw.EventLog, recording every pushed
// record in append order for tests to inspect.
type fakeLog struct {
	records []mutation.Record
}

func (l *fakeLog) Push(record any) error {
	r, ok := record.(mutation.Record)
	if !ok {
		return nil
	}
	l.records = append(l.records, r)
	return nil
}

func (l *fakeLog) Replay(decode func(raw []byte) error) error { return nil }

// fakeSlot is an in-memory stand-in for hw.Slot, round-tripping through CBOR
// the same way the real ABSlot does.
type fakeSlot struct {
	body    []byte
	written bool
}

func (s *fakeSlot) Write(value any) error {
	body, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	s.body = body
	s.written = true
	return nil
}

func (s *fakeSlot) Read(dst any) (bool, error) {
	if !s.written {
		return false, nil
	}
	return true, cbor.Unmarshal(s.body, dst)
}

// fakeHmac is a deterministic stand-in for a device's hardware HMAC
// peripheral: a single SHA-256 evaluation keyed by a fixed per-device secret.
type fakeHmac struct {
	key [32]byte
}

func (h fakeHmac) Sum(msg []byte) [32]byte {
	return sha256.Sum256(append(append([]byte{}, h.key[:]...), msg...))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	secret := curve.SampleScalar()
	var hmacKey [32]byte
	if _, err := rand.Read(hmacKey[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return NewEngine(secret, &fakeLog{}, &fakeSlot{}, fakeHmac{key: hmacKey}, rand.Reader, nil)
}

// drainCore drains e's outbox and returns the single DeviceSendMessage of
// the given core kind it expects to find there.
func drainCore(t *testing.T, e *Engine, kind wire.DeviceCoreKind) wire.DeviceSendMessage {
	t.Helper()
	items := e.DrainOutbox()
	for _, it := range items {
		if msg, ok := it.ToDevice.(wire.DeviceSendMessage); ok && msg.Body.Kind == wire.DeviceBodyCore &&
			msg.Body.Core != nil && msg.Body.Core.Kind == kind {
			return msg
		}
	}
	t.Fatalf("no %s message found in outbox", kind)
	return wire.DeviceSendMessage{}
}

// TestTwoOfTwoKeygenAndSignRoundTrip drives two device engines through a
// complete keygen (rounds 1-3) and a subsequent signing session, checking
// that the resulting FROST signature verifies under the group key both
// devices agreed on -- the device-level analogue of dkg_test.go's
// TestTwoOfThreeKeygenRoundTrip.
func TestTwoOfTwoKeygenAndSignRoundTrip(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	keygenID := [32]byte{0xAA}
	deviceToShareIndex := map[wire.DeviceID]uint32{a.ID: 1, b.ID: 2}
	begin := wire.CoordinatorSendMessage{
		TargetDestinations: wire.AllDevices(),
		Body: wire.CoordinatorSendBody{
			Kind: wire.CoordBodyCore,
			Core: &wire.CoordinatorToDeviceMessage{
				Kind: wire.CoordKeygenBegin,
				BeginKeygen: &wire.BeginKeygenMsg{
					KeygenID:           keygenID,
					Threshold:          2,
					DeviceToShareIndex: deviceToShareIndex,
				},
			},
		},
	}
	if err := a.Recv(begin); err != nil {
		t.Fatalf("a.Recv(begin): %v", err)
	}
	if err := b.Recv(begin); err != nil {
		t.Fatalf("b.Recv(begin): %v", err)
	}

	contribA := *drainCore(t, a, wire.DeviceKeygenContribution).Body.Core.KeygenContribution
	contribB := *drainCore(t, b, wire.DeviceKeygenContribution).Body.Core.KeygenContribution

	agg := wire.CoordinatorSendMessage{
		TargetDestinations: wire.AllDevices(),
		Body: wire.CoordinatorSendBody{
			Kind: wire.CoordBodyCore,
			Core: &wire.CoordinatorToDeviceMessage{
				Kind: wire.CoordKeygenAgg,
				KeygenAgg: &wire.KeygenAggMsg{
					KeygenID: keygenID,
					Contributions: map[uint32]dkg.Contribution{
						1: contribA,
						2: contribB,
					},
					DeviceIndex: map[uint32]wire.DeviceID{1: a.ID, 2: b.ID},
				},
			},
		},
	}
	if err := a.Recv(agg); err != nil {
		t.Fatalf("a.Recv(agg): %v", err)
	}
	if err := b.Recv(agg); err != nil {
		t.Fatalf("b.Recv(agg): %v", err)
	}

	pkA, ok := a.pendingKeygens[keygenID]
	if !ok {
		t.Fatalf("device a has no pending keygen after agg")
	}
	pkB, ok := b.pendingKeygens[keygenID]
	if !ok {
		t.Fatalf("device b has no pending keygen after agg")
	}
	if pkA.sessionHash != pkB.sessionHash {
		t.Fatalf("devices computed different session hashes: %x vs %x", pkA.sessionHash, pkB.sessionHash)
	}
	if !curve.Equal(pkA.groupKey, pkB.groupKey) {
		t.Fatalf("devices computed different group keys")
	}

	if err := a.ConfirmKeygen(keygenID); err != nil {
		t.Fatalf("a.ConfirmKeygen: %v", err)
	}
	if err := b.ConfirmKeygen(keygenID); err != nil {
		t.Fatalf("b.ConfirmKeygen: %v", err)
	}
	_ = drainCore(t, a, wire.DeviceKeygenAck)
	_ = drainCore(t, b, wire.DeviceKeygenAck)

	keyID := wire.KeyID{0xBB}
	asID := wire.AccessStructureID{0xCC}
	finalize := wire.CoordinatorSendMessage{
		TargetDestinations: wire.AllDevices(),
		Body: wire.CoordinatorSendBody{
			Kind: wire.CoordBodyCore,
			Core: &wire.CoordinatorToDeviceMessage{
				Kind: wire.CoordKeygenFinalize,
				KeygenFinalize: &wire.KeygenFinalizeMsg{
					KeygenID:          keygenID,
					KeyID:             keyID,
					AccessStructureID: asID,
				},
			},
		},
	}
	if err := a.Recv(finalize); err != nil {
		t.Fatalf("a.Recv(finalize): %v", err)
	}
	if err := b.Recv(finalize); err != nil {
		t.Fatalf("b.Recv(finalize): %v", err)
	}

	shareA, ok := a.shares[asID]
	if !ok {
		t.Fatalf("device a did not persist its share")
	}
	shareB, ok := b.shares[asID]
	if !ok {
		t.Fatalf("device b did not persist its share")
	}
	groupKey := shareA.GroupKey
	if !curve.Equal(groupKey, shareB.GroupKey) {
		t.Fatalf("persisted shares disagree on group key")
	}
	if logA := a.log.(*fakeLog); len(logA.records) != 2 {
		t.Fatalf("expected 2 log records on device a (new key, new access structure), got %d", len(logA.records))
	}

	streamID := nonce.StreamID{0x01}
	if err := a.ReplenishNonces(asID, streamID, 1); err != nil {
		t.Fatalf("a.ReplenishNonces: %v", err)
	}
	if err := b.ReplenishNonces(asID, streamID, 1); err != nil {
		t.Fatalf("b.ReplenishNonces: %v", err)
	}
	offerA := *drainCore(t, a, wire.DeviceNonceOffer).Body.Core.NonceOffer
	offerB := *drainCore(t, b, wire.DeviceNonceOffer).Body.Core.NonceOffer

	commitments := []frost.NonceCommitment{offerA.Commitments[0], offerB.Commitments[0]}
	if commitments[0].Signer > commitments[1].Signer {
		commitments[0], commitments[1] = commitments[1], commitments[0]
	}

	sessionID := [32]byte{0xDD}
	var sigHash [32]byte
	sha256Sum := sha256.Sum256([]byte("two-of-two device engine sign test"))
	copy(sigHash[:], sha256Sum[:])

	signReq := wire.CoordinatorSendMessage{
		TargetDestinations: wire.AllDevices(),
		Body: wire.CoordinatorSendBody{
			Kind: wire.CoordBodyCore,
			Core: &wire.CoordinatorToDeviceMessage{
				Kind: wire.CoordSignRequest,
				SignRequest: &wire.SignRequestMsg{
					SessionID:         sessionID,
					AccessStructureID: asID,
					TaskKind:          wire.SignTaskPlain,
					PlainMessage:      []byte("two-of-two device engine sign test"),
					SigHashes:         [][32]byte{sigHash},
					NonceAllocation: wire.NonceRange{
						StreamID: streamID,
						Start:    offerA.Start,
						End:      offerA.Start + 1,
					},
					Commitments: map[int][]frost.NonceCommitment{0: commitments},
				},
			},
		},
	}
	if err := a.Recv(signReq); err != nil {
		t.Fatalf("a.Recv(signReq): %v", err)
	}
	if err := b.Recv(signReq); err != nil {
		t.Fatalf("b.Recv(signReq): %v", err)
	}

	if err := a.ConfirmSign(sessionID); err != nil {
		t.Fatalf("a.ConfirmSign: %v", err)
	}
	if err := b.ConfirmSign(sessionID); err != nil {
		t.Fatalf("b.ConfirmSign: %v", err)
	}

	sharesMsgA := *drainCore(t, a, wire.DeviceSignatureShares).Body.Core.SignatureShares
	sharesMsgB := *drainCore(t, b, wire.DeviceSignatureShares).Body.Core.SignatureShares

	byIndex := map[frost.ShareIndex]*big.Int{
		sharesMsgA.Signer: sharesMsgA.Shares[0],
		sharesMsgB.Signer: sharesMsgB.Shares[0],
	}
	orderedShares := make([]*big.Int, len(commitments))
	for i, c := range commitments {
		orderedShares[i] = byIndex[c.Signer]
	}

	sig, err := frost.Aggregate(groupKey, sigHash[:], commitments, orderedShares)
	if err != nil {
		t.Fatalf("frost.Aggregate: %v", err)
	}
	if !frost.VerifySignature(groupKey, sigHash[:], sig) {
		t.Fatalf("aggregated signature failed to verify")
	}
}

// TestReplenishNoncesReusesExistingStream checks that calling ReplenishNonces
// twice for the same access structure and stream does not re-provision a
// fresh root seed, and that the second batch of reserved nonces picks up
// where the first left off rather than overlapping it -- a repeat index
// there would mean two signing sessions sharing a nonce, the exact failure
// this package's ratchet exists to prevent. Each call still durably logs its
// own NonceReplenished record, since every batch ratchets the stream's seed
// forward and the newest record must supersede the last-persisted one.
func TestReplenishNoncesReusesExistingStream(t *testing.T) {
	a := newTestEngine(t)

	// Manually install a finished share, bypassing keygen, since only the
	// nonce-stream bookkeeping is under test here.
	asID := wire.AccessStructureID{0x01}
	a.shares[asID] = &Share{
		AccessStructureID: asID,
		ShareIndex:        1,
		Threshold:         2,
		SecretKeyShare:    curve.SampleScalar(),
		GroupKey:          curve.EcBaseMul(curve.SampleScalar()),
	}

	streamID := nonce.StreamID{0x02}
	if err := a.ReplenishNonces(asID, streamID, 1); err != nil {
		t.Fatalf("first ReplenishNonces: %v", err)
	}
	firstOffer := *drainCore(t, a, wire.DeviceNonceOffer).Body.Core.NonceOffer

	if err := a.ReplenishNonces(asID, streamID, 1); err != nil {
		t.Fatalf("second ReplenishNonces: %v", err)
	}
	secondOffer := *drainCore(t, a, wire.DeviceNonceOffer).Body.Core.NonceOffer

	if secondOffer.Start == firstOffer.Start {
		t.Fatalf("second replenish reused the first batch's nonce index %d", firstOffer.Start)
	}

	log := a.log.(*fakeLog)
	var replenished []*mutation.NonceReplenished
	for _, r := range log.records {
		if r.Kind == mutation.KindNonceStreamReplenished {
			replenished = append(replenished, r.NonceReplenished)
		}
	}
	if len(replenished) != 2 {
		t.Fatalf("expected one nonce_stream_replenished record per ReplenishNonces call, got %d", len(replenished))
	}
	if replenished[0].NextIndex != 1 {
		t.Fatalf("expected first record to advance NextIndex to 1, got %d", replenished[0].NextIndex)
	}
	if replenished[1].NextIndex != 2 {
		t.Fatalf("expected second record to advance NextIndex to 2, got %d", replenished[1].NextIndex)
	}
	if replenished[0].Seed == replenished[1].Seed {
		t.Fatalf("expected the second record's seed to differ from the first, ratcheted forward")
	}
}
