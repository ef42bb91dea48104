package coordinator

import (
	"crypto/rand"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/device"
	"github.com/frostsnap/engine/internal/testutils"
	"github.com/frostsnap/engine/mutation"
	"github.com/frostsnap/engine/wire"
)

// fakeLog, fakeSlot, and fakeHmac are the same in-memory stand-ins for
// hw.EventLog/hw.Slot/hw.Hmac that package device's own tests use, needed
// here only to construct real device.Engine peers for this package's
// coordinator-side tests.
type fakeLog struct{ records []mutation.Record }

func (l *fakeLog) Push(record any) error {
	r, ok := record.(mutation.Record)
	if !ok {
		return nil
	}
	l.records = append(l.records, r)
	return nil
}

func (l *fakeLog) Replay(decode func(raw []byte) error) error { return nil }

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

type fakeHmac struct{ key [32]byte }

func (h fakeHmac) Sum(msg []byte) [32]byte {
	return sha256.Sum256(append(append([]byte{}, h.key[:]...), msg...))
}

func newTestDevice(t *testing.T) *device.Engine {
	t.Helper()
	secret := curve.SampleScalar()
	var hmacKey [32]byte
	if _, err := rand.Read(hmacKey[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return device.NewEngine(secret, &fakeLog{}, &fakeSlot{}, fakeHmac{key: hmacKey}, rand.Reader, nil)
}

// drainDeviceToCoord drains d's outbox and returns every resulting
// DeviceSendMessage, the shape coord.ProcessDeviceMessage consumes.
func drainDeviceToCoord(d *device.Engine) []wire.DeviceSendMessage {
	var out []wire.DeviceSendMessage
	for _, it := range d.DrainOutbox() {
		if msg, ok := it.ToDevice.(wire.DeviceSendMessage); ok {
			out = append(out, msg)
		}
	}
	return out
}

// drainCoordToDevices drains e's outbox and returns every resulting
// CoordinatorSendMessage.
func drainCoordToDevices(e *Engine) []wire.CoordinatorSendMessage {
	var out []wire.CoordinatorSendMessage
	for _, it := range e.DrainOutbox() {
		if msg, ok := it.ToDevice.(wire.CoordinatorSendMessage); ok {
			out = append(out, msg)
		}
	}
	return out
}

func deliverToDevices(t *testing.T, msgs []wire.CoordinatorSendMessage, devices ...*device.Engine) {
	t.Helper()
	for _, msg := range msgs {
		for _, d := range devices {
			if err := d.Recv(msg); err != nil {
				t.Fatalf("device.Recv: %v", err)
			}
		}
	}
}

func deliverToCoordinator(t *testing.T, e *Engine, devices ...*device.Engine) {
	t.Helper()
	for _, d := range devices {
		for _, msg := range drainDeviceToCoord(d) {
			if err := e.ProcessDeviceMessage(msg); err != nil {
				t.Fatalf("coordinator.ProcessDeviceMessage from %s: %v", msg.From, err)
			}
		}
	}
}

// TestCoordinatorTwoOfTwoKeygenAndSign drives a coordinator Engine and two
// real device.Engine peers through a full keygen (spec.md section 4.2's
// three rounds) followed by a plain-message signing session, checking the
// coordinator's bookkeeping is consistent at every step and that the
// session closes once both devices' shares are in.
func TestCoordinatorTwoOfTwoKeygenAndSign(t *testing.T) {
	coordSecret := curve.SampleScalar()
	coord := NewEngine(coordSecret, nil)

	a := newTestDevice(t)
	b := newTestDevice(t)

	for _, d := range []*device.Engine{a, b} {
		announce := wire.DeviceSendMessage{From: d.ID, Body: wire.DeviceSendBody{
			Kind:     wire.DeviceBodyAnnounce,
			Announce: &wire.AnnounceMsg{},
		}}
		if err := coord.ProcessDeviceMessage(announce); err != nil {
			t.Fatalf("announce from %s: %v", d.ID, err)
		}
	}
	coord.DrainOutbox() // AnnounceCoordinator replies, irrelevant to this test

	keygenID, err := coord.StartKeygen(2, map[wire.DeviceID]uint32{a.ID: 1, b.ID: 2}, "test-key", "test-purpose")
	if err != nil {
		t.Fatalf("StartKeygen: %v", err)
	}
	deliverToDevices(t, drainCoordToDevices(coord), a, b)
	deliverToCoordinator(t, coord, a, b)

	pk, ok := coord.pendingKeygens[keygenID]
	if !ok {
		t.Fatalf("coordinator has no pending keygen after both contributions")
	}
	if pk.groupKey.X == nil {
		t.Fatalf("coordinator did not compute a group key from the round-1 contributions")
	}

	deliverToDevices(t, drainCoordToDevices(coord), a, b)

	if err := a.ConfirmKeygen(keygenID); err != nil {
		t.Fatalf("a.ConfirmKeygen: %v", err)
	}
	if err := b.ConfirmKeygen(keygenID); err != nil {
		t.Fatalf("b.ConfirmKeygen: %v", err)
	}
	deliverToCoordinator(t, coord, a, b)

	if _, stillPending := coord.pendingKeygens[keygenID]; stillPending {
		t.Fatalf("keygen still pending after both acknowledgements")
	}
	if len(coord.accessStructures) != 1 {
		t.Fatalf("expected exactly one access structure, got %d", len(coord.accessStructures))
	}
	var asID wire.AccessStructureID
	var as *AccessStructure
	for id, rec := range coord.accessStructures {
		asID, as = id, rec
	}
	if as.Threshold != 2 {
		t.Fatalf("access structure threshold = %d, want 2", as.Threshold)
	}

	deliverToDevices(t, drainCoordToDevices(coord), a, b)

	streamID := [16]byte{0x01}
	if err := a.ReplenishNonces(asID, streamID, 1); err != nil {
		t.Fatalf("a.ReplenishNonces: %v", err)
	}
	if err := b.ReplenishNonces(asID, streamID, 1); err != nil {
		t.Fatalf("b.ReplenishNonces: %v", err)
	}
	deliverToCoordinator(t, coord, a, b)

	if len(coord.nonceOffers[asID]) != 2 {
		t.Fatalf("expected both devices' nonce offers recorded, got %d", len(coord.nonceOffers[asID]))
	}

	sessionID, err := coord.StartSignPlain(asID, []byte("hello from the coordinator test"), []wire.DeviceID{a.ID, b.ID})
	if err != nil {
		t.Fatalf("StartSignPlain: %v", err)
	}
	if _, ok := coord.sessions[sessionID]; !ok {
		t.Fatalf("coordinator has no session record after StartSignPlain")
	}

	deliverToDevices(t, drainCoordToDevices(coord), a, b)

	if err := a.ConfirmSign(sessionID); err != nil {
		t.Fatalf("a.ConfirmSign: %v", err)
	}
	if err := b.ConfirmSign(sessionID); err != nil {
		t.Fatalf("b.ConfirmSign: %v", err)
	}

	var finalized bool
	for _, d := range []*device.Engine{a, b} {
		for _, msg := range drainDeviceToCoord(d) {
			if err := coord.ProcessDeviceMessage(msg); err != nil {
				t.Fatalf("coordinator.ProcessDeviceMessage(signature shares): %v", err)
			}
		}
	}
	for _, it := range coord.DrainOutbox() {
		if it.ToUser != nil && strings.Contains(it.ToUser.Text, "signature") {
			finalized = true
		}
	}
	if !finalized {
		t.Fatalf("coordinator never reported a finalized signing session")
	}
	if _, stillOpen := coord.sessions[sessionID]; stillOpen {
		t.Fatalf("signing session was not closed out after finalising")
	}
}

// TestCoordinatorReconstructsAccessStructureFromHeldShares exercises spec.md
// section 8 scenario 5: two surviving devices stream their held shares and
// the coordinator reconstructs an access structure without either device
// ever revealing its share to the other.
func TestCoordinatorReconstructsAccessStructureFromHeldShares(t *testing.T) {
	coord := NewEngine(curve.SampleScalar(), nil)

	d1 := newTestDevice(t)
	d2 := newTestDevice(t)
	for _, d := range []*device.Engine{d1, d2} {
		if err := coord.ProcessDeviceMessage(wire.DeviceSendMessage{From: d.ID, Body: wire.DeviceSendBody{
			Kind: wire.DeviceBodyAnnounce, Announce: &wire.AnnounceMsg{},
		}}); err != nil {
			t.Fatalf("announce: %v", err)
		}
	}
	coord.DrainOutbox()

	secret := curve.SampleScalar()
	shares := testutils.GenerateKeyShares(secret, 3, 2, curve.Order)

	coord.BeginRestore(2)
	coord.DrainOutbox()

	if err := coord.ProcessDeviceMessage(wire.DeviceSendMessage{From: d1.ID, Body: wire.DeviceSendBody{
		Kind: wire.DeviceBodyCore,
		Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceHeldShare, HeldShare: &wire.HeldShareMsg{
			ShareIndex: 1, ShareValue: shares[0],
		}},
	}}); err != nil {
		t.Fatalf("held share from d1: %v", err)
	}
	if len(coord.accessStructures) != 0 {
		t.Fatalf("coordinator reconstructed an access structure from only one held share")
	}

	if err := coord.ProcessDeviceMessage(wire.DeviceSendMessage{From: d2.ID, Body: wire.DeviceSendBody{
		Kind: wire.DeviceBodyCore,
		Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceHeldShare, HeldShare: &wire.HeldShareMsg{
			ShareIndex: 2, ShareValue: shares[1],
		}},
	}}); err != nil {
		t.Fatalf("held share from d2: %v", err)
	}

	if len(coord.accessStructures) != 1 {
		t.Fatalf("expected coordinator to reconstruct exactly one access structure, got %d", len(coord.accessStructures))
	}
	var as *AccessStructure
	for _, rec := range coord.accessStructures {
		as = rec
	}
	if !curve.Equal(as.GroupKey, curve.EcBaseMul(secret)) {
		t.Fatalf("reconstructed group key does not match the original secret's public key")
	}
	if as.Threshold != 2 {
		t.Fatalf("reconstructed threshold = %d, want 2", as.Threshold)
	}
	if len(coord.heldShares) != 0 {
		t.Fatalf("held shares were not cleared after reconstruction")
	}

	var sawNewAccessStructure bool
	for _, it := range coord.DrainOutbox() {
		msg, ok := it.ToDevice.(wire.CoordinatorSendMessage)
		if !ok || msg.Body.Core == nil {
			continue
		}
		if msg.Body.Core.Kind == wire.CoordNewAccessStructure {
			sawNewAccessStructure = true
		}
	}
	if !sawNewAccessStructure {
		t.Fatalf("coordinator did not push the reconstructed access structure back to any device")
	}
}
