// Package device implements the device-side engine, component 15 of
// SPEC_FULL.md: the top-level synchronous recv/drain_outbox loop wiring
// packages dkg, frost, nonce, share, tweak, mutation, and restore into the
// single API surface a firmware binary actually calls. Grounded on
// spec.md section 5's cooperative, non-blocking single-threaded model:
// Recv never sleeps or blocks, and every durable write it makes happens
// before the corresponding outbound message is queued.
package device

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/dkg"
	"github.com/frostsnap/engine/frost"
	"github.com/frostsnap/engine/frosterr"
	"github.com/frostsnap/engine/hw"
	"github.com/frostsnap/engine/mutation"
	"github.com/frostsnap/engine/nonce"
	"github.com/frostsnap/engine/outbox"
	"github.com/frostsnap/engine/restore"
	"github.com/frostsnap/engine/share"
	"github.com/frostsnap/engine/tweak"
	"github.com/frostsnap/engine/wire"
)

// Share is a completed, persisted access structure membership: this
// device's secret key share plus what it needs to sign and derive
// addresses under it.
type Share struct {
	AccessStructureID wire.AccessStructureID
	ShareIndex        frost.ShareIndex
	Threshold         int
	SecretKeyShare    *big.Int
	GroupKey          curve.Point
	MasterAppkey      tweak.MasterAppkey
}

// pendingKeygen tracks an in-flight DKG this device has started but not
// yet finalised.
type pendingKeygen struct {
	threshold      int
	transcript     *dkg.Transcript
	selfIndex      frost.ShareIndex
	rawShares      map[frost.ShareIndex]*big.Int
	sessionHash    [32]byte
	secretKeyShare *big.Int
	groupKey       curve.Point
}

// pendingSign tracks a signing request awaiting the user's hold-to-confirm
// before any signature share is produced.
type pendingSign struct {
	accessStructureID wire.AccessStructureID
	sigHashes         [][32]byte
	commitments       map[int][]frost.NonceCommitment
	streamID          nonce.StreamID
	start, end        uint32
}

// Engine is the device-side protocol state machine. It is not safe for
// concurrent use from multiple goroutines (spec.md section 5).
type Engine struct {
	ID             wire.DeviceID
	longTermSecret *big.Int
	longTermPubkey curve.Point

	shares         map[wire.AccessStructureID]*Share
	streams        *nonce.Pool
	pendingKeygens map[[32]byte]*pendingKeygen
	pendingSigns   map[[32]byte]*pendingSign
	heldShares     []restore.HeldShare

	log       hw.EventLog
	shareSlot hw.Slot
	hmac      hw.Hmac
	rng       hw.RNG
	logger    *logrus.Entry

	out *outbox.Outbox
}

// discardEntry returns a logrus entry writing nowhere, for callers that
// pass a nil logger.
func discardEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// NewEngine constructs a device engine around its long-term identity
// keypair and its durable collaborators. logger may be nil, in which case
// the engine logs nowhere.
func NewEngine(longTermSecret *big.Int, log hw.EventLog, shareSlot hw.Slot, hmacPeripheral hw.Hmac, rng hw.RNG, logger *logrus.Entry) *Engine {
	if rng == nil {
		rng = rand.Reader
	}
	if logger == nil {
		logger = discardEntry()
	}
	pub := curve.EcBaseMul(longTermSecret)
	var id wire.DeviceID
	copy(id[:], pub.PubKey().SerializeCompressed())

	return &Engine{
		ID:             id,
		longTermSecret: longTermSecret,
		longTermPubkey: pub,
		shares:         make(map[wire.AccessStructureID]*Share),
		streams:        nonce.NewPool(nonce.DefaultPoolCapacity),
		pendingKeygens: make(map[[32]byte]*pendingKeygen),
		pendingSigns:   make(map[[32]byte]*pendingSign),
		log:            log,
		shareSlot:      shareSlot,
		hmac:           hmacPeripheral,
		rng:            rng,
		logger:         logger,
		out:            &outbox.Outbox{},
	}
}

// DrainOutbox returns and clears every pending outbound item.
func (e *Engine) DrainOutbox() []outbox.Item { return e.out.Drain() }

// Recv processes one inbound coordinator message, the device side's half
// of spec.md section 4.7's recv/drain_outbox loop.
func (e *Engine) Recv(msg wire.CoordinatorSendMessage) error {
	err := e.recv(msg)
	if err != nil {
		e.logger.WithError(err).Warn("coordinator message rejected")
	}
	return err
}

func (e *Engine) recv(msg wire.CoordinatorSendMessage) error {
	if !msg.TargetDestinations.Matches(e.ID) {
		return nil
	}
	switch msg.Body.Kind {
	case wire.CoordBodyCore:
		if msg.Body.Core == nil {
			return &frosterr.InvalidMessage{Reason: "core message body missing"}
		}
		return e.recvCore(*msg.Body.Core)
	case wire.CoordBodyCancel:
		return nil
	case wire.CoordBodyDataErase:
		e.eraseAll()
		e.out.PushToDevice(wire.DeviceSendMessage{From: e.ID, Body: wire.DeviceSendBody{
			Kind: wire.DeviceBodyMisc,
			Misc: &wire.CommsMiscMsg{Kind: wire.MiscEraseConfirmed},
		}})
		return nil
	default:
		return nil
	}
}

func (e *Engine) eraseAll() {
	e.shares = make(map[wire.AccessStructureID]*Share)
	e.streams = nonce.NewPool(nonce.DefaultPoolCapacity)
	e.pendingKeygens = make(map[[32]byte]*pendingKeygen)
	e.pendingSigns = make(map[[32]byte]*pendingSign)
	e.heldShares = nil
}

func (e *Engine) recvCore(m wire.CoordinatorToDeviceMessage) error {
	switch m.Kind {
	case wire.CoordKeygenBegin:
		return e.beginKeygen(*m.BeginKeygen)
	case wire.CoordKeygenAgg:
		return e.aggKeygen(*m.KeygenAgg)
	case wire.CoordKeygenFinalize:
		return e.finalizeKeygen(*m.KeygenFinalize)
	case wire.CoordSignRequest:
		return e.startSign(*m.SignRequest)
	case wire.CoordVerifyAddress:
		return e.verifyAddress(*m.VerifyAddress)
	case wire.CoordCheckShare:
		return e.checkShare(*m.CheckShare)
	case wire.CoordRequestHeldShares:
		e.replyHeldShares()
		return nil
	case wire.CoordSendName:
		return nil
	case wire.CoordNewAccessStructure:
		return e.persistRestoredAccessStructure(*m.NewAccessStructure)
	default:
		return &frosterr.WrongKind{Expected: "known CoordToDeviceKind", Got: string(m.Kind)}
	}
}

// beginKeygen is round 1 of spec.md section 4.2: sample a polynomial,
// commit to it, and encrypt one share per other participant.
func (e *Engine) beginKeygen(m wire.BeginKeygenMsg) error {
	selfIdx, ok := m.DeviceToShareIndex[e.ID]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "keygen does not name this device"}
	}
	recipients := make(map[frost.ShareIndex]curve.Point, len(m.DeviceToShareIndex))
	longTermKeys := make(map[frost.ShareIndex]curve.Point, len(m.DeviceToShareIndex))
	for id, idx := range m.DeviceToShareIndex {
		pub, err := decompress(id)
		if err != nil {
			return err
		}
		recipients[frost.ShareIndex(idx)] = pub
		longTermKeys[frost.ShareIndex(idx)] = pub
	}

	contribution, rawShares, err := dkg.BeginKeygen(frost.ShareIndex(selfIdx), m.Threshold, recipients, e.longTermSecret, e.rng)
	if err != nil {
		return err
	}

	transcript := dkg.NewTranscript(m.Threshold, longTermKeys)
	if err := transcript.Add(contribution); err != nil {
		return err
	}

	e.pendingKeygens[m.KeygenID] = &pendingKeygen{
		threshold:  m.Threshold,
		transcript: transcript,
		selfIndex:  frost.ShareIndex(selfIdx),
		rawShares:  rawShares,
	}

	e.out.PushToDevice(wire.DeviceSendMessage{From: e.ID, Body: wire.DeviceSendBody{
		Kind: wire.DeviceBodyCore,
		Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceKeygenContribution, KeygenContribution: &contribution},
	}})
	return nil
}

// aggKeygen is round 2: verify every contribution, confirm this device's
// own contribution was relayed unmodified (spec.md section 8 scenario 6),
// and present the session hash to the user for confirmation.
func (e *Engine) aggKeygen(m wire.KeygenAggMsg) error {
	pk, ok := e.pendingKeygens[m.KeygenID]
	if !ok {
		return &frosterr.WrongKind{Expected: "an active keygen", Got: "none"}
	}

	selfContribution, hadSelf := m.Contributions[uint32(pk.selfIndex)]
	if !hadSelf || !samePolynomial(selfContribution, pk.transcript.Contributions[pk.selfIndex]) {
		return &frosterr.InvalidMessage{Reason: "coordinator told us we are using a different polynomial than we expected"}
	}

	for idx, c := range m.Contributions {
		if frost.ShareIndex(idx) == pk.selfIndex {
			continue
		}
		if err := pk.transcript.Add(c); err != nil {
			return err
		}
	}

	secretShare, groupKey, _, err := pk.transcript.AggregateShares(pk.selfIndex, e.longTermSecret, pk.rawShares)
	if err != nil {
		return err
	}
	pk.secretKeyShare = secretShare
	pk.groupKey = groupKey
	pk.sessionHash = pk.transcript.SessionHash()

	e.out.PushToUser(outbox.Prompt{
		Kind:        outbox.PromptConfirmKeygenSessionHash,
		SessionHash: pk.sessionHash,
		DeviceID:    e.ID.String(),
		Text:        "confirm this session hash matches every other device before continuing",
	})
	return nil
}

// ConfirmKeygen is called once the user has visually confirmed the session
// hash on this device's display, completing round 3's acknowledgement.
func (e *Engine) ConfirmKeygen(keygenID [32]byte) error {
	pk, ok := e.pendingKeygens[keygenID]
	if !ok {
		return &frosterr.WrongKind{Expected: "an active keygen awaiting confirmation", Got: "none"}
	}
	sig, err := dkg.ConfirmationSignature(e.longTermSecret, pk.sessionHash)
	if err != nil {
		return err
	}
	e.out.PushToDevice(wire.DeviceSendMessage{From: e.ID, Body: wire.DeviceSendBody{
		Kind: wire.DeviceBodyCore,
		Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceKeygenAck, KeygenAck: &wire.KeygenAckMsg{
			KeygenID: keygenID, SessionHash: pk.sessionHash, Signature: sig,
		}},
	}})
	return nil
}

// finalizeKeygen commits the pending keygen's share to durable storage,
// per spec.md section 4.2 round 3: "each device atomically commits its
// share to the A/B share slot and appends a NewKey + NewAccessStructure +
// SaveShare mutation."
func (e *Engine) finalizeKeygen(m wire.KeygenFinalizeMsg) error {
	pk, ok := e.pendingKeygens[m.KeygenID]
	if !ok {
		return &frosterr.WrongKind{Expected: "an active keygen awaiting finalize", Got: "none"}
	}

	key := share.DeriveKey(e.hmac.Sum, string(m.AccessStructureID[:]))
	plaintext := curve.ScalarToBytes32(pk.secretKeyShare)
	sealed, err := share.Seal(key, plaintext[:])
	if err != nil {
		return err
	}
	sealedBytes, err := encodeAtRest(sealed)
	if err != nil {
		return err
	}

	if err := e.shareSlot.Write(mutation.SaveShare{
		AccessStructureID: m.AccessStructureID,
		ShareIndex:        uint32(pk.selfIndex),
		EncryptedShare:    sealedBytes,
	}); err != nil {
		return err
	}

	e.log.Push(mutation.Record{Kind: mutation.KindNewKey, NewKey: &mutation.NewKey{KeyID: [32]byte(m.KeyID)}})
	e.log.Push(mutation.Record{Kind: mutation.KindNewAccessStructure, NewAccessStructure: &mutation.NewAccessStructure{
		AccessStructureID: m.AccessStructureID, Threshold: pk.threshold,
	}})

	e.shares[m.AccessStructureID] = &Share{
		AccessStructureID: m.AccessStructureID,
		ShareIndex:        pk.selfIndex,
		Threshold:         pk.threshold,
		SecretKeyShare:    pk.secretKeyShare,
		GroupKey:          pk.groupKey,
	}
	delete(e.pendingKeygens, m.KeygenID)
	e.logger.WithField("access_structure", fmt.Sprintf("%x", m.AccessStructureID[:])).Info("keygen finalized")
	return nil
}

// startSign reserves the requested nonce range (spec.md section 4.1's
// reservation protocol) and raises a confirmation prompt; the actual
// signature shares are produced only once ConfirmSign is called.
func (e *Engine) startSign(m wire.SignRequestMsg) error {
	sh, ok := e.shares[m.AccessStructureID]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "sign request references an access structure this device does not hold"}
	}
	stream, ok := e.streams.Get(string(m.AccessStructureID[:]), m.NonceAllocation.StreamID)
	if !ok {
		return &frosterr.InsufficientNonces{StreamID: string(m.NonceAllocation.StreamID[:]), Have: 0, Need: int(m.NonceAllocation.End - m.NonceAllocation.Start)}
	}
	for idx := m.NonceAllocation.Start; idx < m.NonceAllocation.End; idx++ {
		if err := stream.Commit(idx, m.SessionID, m.SigHashes[idx-m.NonceAllocation.Start]); err != nil {
			return err
		}
	}
	_ = sh

	e.pendingSigns[m.SessionID] = &pendingSign{
		accessStructureID: m.AccessStructureID,
		sigHashes:         m.SigHashes,
		commitments:       m.Commitments,
		streamID:          m.NonceAllocation.StreamID,
		start:             m.NonceAllocation.Start,
		end:               m.NonceAllocation.End,
	}

	e.out.PushToUser(outbox.Prompt{
		Kind:     outbox.PromptConfirmSignTask,
		DeviceID: e.ID.String(),
		Text:     renderTaskSummary(m),
	})
	return nil
}

// ConfirmSign is called once the user holds-to-confirm the rendered
// SignTask, producing and emitting this device's signature shares and
// permanently spending the reserved nonces.
func (e *Engine) ConfirmSign(sessionID [32]byte) error {
	ps, ok := e.pendingSigns[sessionID]
	if !ok {
		return &frosterr.WrongKind{Expected: "an active sign session awaiting confirmation", Got: "none"}
	}
	sh, ok := e.shares[ps.accessStructureID]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "share was removed before signing completed"}
	}
	stream, _ := e.streams.Get(string(ps.accessStructureID[:]), ps.streamID)

	signer := &frost.Signer{Index: sh.ShareIndex, SecretKeyShare: sh.SecretKeyShare, GroupPublicKey: sh.GroupKey}
	shares := make(map[int]*big.Int, len(ps.sigHashes))
	for i, digest := range ps.sigHashes {
		idx := ps.start + uint32(i)
		slot, ok := stream.Slot(idx)
		if !ok {
			return &frosterr.InvalidMessage{Reason: "signing references an unreserved nonce slot"}
		}
		nonces := frost.SignerNonces{Hiding: slot.Hiding(sh.SecretKeyShare), Binding: slot.Binding(sh.SecretKeyShare)}
		z, err := signer.Round2(digest[:], nonces, ps.commitments[i])
		if err != nil {
			return err
		}
		shares[i] = z
		if err := stream.Spend(idx); err != nil {
			return err
		}
	}

	e.out.PushToDevice(wire.DeviceSendMessage{From: e.ID, Body: wire.DeviceSendBody{
		Kind: wire.DeviceBodyCore,
		Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceSignatureShares, SignatureShares: &wire.SignatureSharesMsg{
			SessionID: sessionID, Signer: sh.ShareIndex, Shares: shares,
		}},
	}})
	delete(e.pendingSigns, sessionID)
	return nil
}

// ReplenishNonces reserves a fresh batch of public nonces on a stream and
// ships them to the coordinator, independent of any in-flight signing
// session, per spec.md section 4.1's public-nonce replenishment.
func (e *Engine) ReplenishNonces(accessStructureID wire.AccessStructureID, streamID nonce.StreamID, count int) error {
	sh, ok := e.shares[accessStructureID]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "cannot replenish nonces for an unknown access structure"}
	}
	stream, ok := e.streams.Get(string(accessStructureID[:]), streamID)
	if !ok {
		var seed nonce.Seed
		if _, err := rand.Read(seed[:]); err != nil {
			return err
		}
		stream = nonce.NewStream(streamID, seed)
		e.streams.Put(string(accessStructureID[:]), stream)
	}
	slots := stream.Reserve(count)
	// Persist the stream's ratchet state after it has advanced past every
	// seed this batch consumed, not before: this record's Seed/NextIndex
	// always supersede whatever was persisted for this StreamID earlier, so
	// a captured snapshot of durable storage exposes only seed material for
	// NextIndex onward, never the seeds these just-reserved slots used.
	e.log.Push(mutation.Record{Kind: mutation.KindNonceStreamReplenished, NonceReplenished: &mutation.NonceReplenished{
		StreamID: streamID, Seed: stream.CurrentSeed(), NextIndex: stream.NextIndex,
	}})
	commitments := make([]frost.NonceCommitment, len(slots))
	for i, slot := range slots {
		hiding, binding := frost.Round1(frost.SignerNonces{Hiding: slot.Hiding(sh.SecretKeyShare), Binding: slot.Binding(sh.SecretKeyShare)})
		commitments[i] = frost.NonceCommitment{Signer: sh.ShareIndex, Hiding: hiding, Binding: binding}
	}
	e.out.PushToDevice(wire.DeviceSendMessage{From: e.ID, Body: wire.DeviceSendBody{
		Kind: wire.DeviceBodyCore,
		Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceNonceOffer, NonceOffer: &wire.NonceOfferMsg{
			AccessStructureID: accessStructureID, StreamID: streamID, Start: slots[0].Index, Commitments: commitments,
		}},
	}})
	return nil
}

func (e *Engine) verifyAddress(m wire.VerifyAddressMsg) error {
	params, err := networkParams(m.Network)
	if err != nil {
		return err
	}
	matched, err := tweak.VerifyAddress(m.MasterAppkey, m.Path, params, m.Expected)
	if err != nil {
		return err
	}
	e.out.PushToUser(outbox.Prompt{Kind: outbox.PromptVerifyAddress, DeviceID: e.ID.String(), Text: m.Expected})
	e.out.PushToDevice(wire.DeviceSendMessage{From: e.ID, Body: wire.DeviceSendBody{
		Kind: wire.DeviceBodyCore,
		Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceVerifyAddressOK, VerifyAddressResult: &wire.VerifyAddressResultMsg{Matched: matched}},
	}})
	return nil
}

func (e *Engine) checkShare(m wire.CheckShareMsg) error {
	sh, ok := e.shares[m.AccessStructureID]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "check-share references an access structure this device does not hold"}
	}
	ok = restore.CheckShare(sh.SecretKeyShare, uint32(sh.ShareIndex), m.Commitment)
	e.out.PushToDevice(wire.DeviceSendMessage{From: e.ID, Body: wire.DeviceSendBody{
		Kind: wire.DeviceBodyCore,
		Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceCheckShareOK, CheckShareResult: &wire.CheckShareResultMsg{OK: ok}},
	}})
	return nil
}

// EnterPhysicalBackup decodes a physical backup string entered by the user
// on a blank device and queues it to stream to the coordinator, per
// spec.md section 4.5.
func (e *Engine) EnterPhysicalBackup(words string) error {
	hs, err := restore.EnterPhysicalBackup(e.ID.String(), words)
	if err != nil {
		return err
	}
	e.heldShares = append(e.heldShares, hs)
	e.replyHeldShares()
	return nil
}

func (e *Engine) replyHeldShares() {
	for _, hs := range e.heldShares {
		e.out.PushToDevice(wire.DeviceSendMessage{From: e.ID, Body: wire.DeviceSendBody{
			Kind: wire.DeviceBodyCore,
			Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceHeldShare, HeldShare: &wire.HeldShareMsg{
				ShareIndex: hs.ShareIndex, ShareValue: hs.ShareValue,
			}},
		}})
	}
}

func (e *Engine) persistRestoredAccessStructure(m wire.NewAccessStructureMsg) error {
	idx, ok := m.DeviceIndex[e.ID]
	if !ok {
		return nil
	}
	var heldValue *big.Int
	for _, hs := range e.heldShares {
		if hs.ShareIndex == idx {
			heldValue = hs.ShareValue
			break
		}
	}
	if heldValue == nil {
		return &frosterr.InvalidMessage{Reason: "restored access structure does not match any held share on this device"}
	}

	key := share.DeriveKey(e.hmac.Sum, string(m.AccessStructureID[:]))
	plaintext := curve.ScalarToBytes32(heldValue)
	sealed, err := share.Seal(key, plaintext[:])
	if err != nil {
		return err
	}
	sealedBytes, err := encodeAtRest(sealed)
	if err != nil {
		return err
	}
	if err := e.shareSlot.Write(mutation.SaveShare{
		AccessStructureID: m.AccessStructureID, ShareIndex: idx, EncryptedShare: sealedBytes,
	}); err != nil {
		return err
	}
	e.log.Push(mutation.Record{Kind: mutation.KindNewAccessStructure, NewAccessStructure: &mutation.NewAccessStructure{
		AccessStructureID: m.AccessStructureID, Threshold: m.Threshold,
	}})
	e.shares[m.AccessStructureID] = &Share{
		AccessStructureID: m.AccessStructureID,
		ShareIndex:        frost.ShareIndex(idx),
		Threshold:         m.Threshold,
		SecretKeyShare:    heldValue,
		MasterAppkey:      m.MasterAppkey,
	}
	return nil
}

// DisplayBackup re-encodes a held share as its physical backup string for
// the device to show the user, requiring confirmation on the device
// itself before the coordinator is told it happened.
func (e *Engine) DisplayBackup(accessStructureID wire.AccessStructureID) (string, error) {
	sh, ok := e.shares[accessStructureID]
	if !ok {
		return "", &frosterr.InvalidMessage{Reason: "display-backup references an unknown access structure"}
	}
	return restore.DisplayBackup(uint32(sh.ShareIndex), sh.SecretKeyShare)
}

// ConfirmBackupDisplayed acknowledges the user confirmed their backup
// words on-device, completing the display-backup UiProtocol.
func (e *Engine) ConfirmBackupDisplayed(accessStructureID wire.AccessStructureID) {
	sh, ok := e.shares[accessStructureID]
	if !ok {
		return
	}
	e.out.PushToDevice(wire.DeviceSendMessage{From: e.ID, Body: wire.DeviceSendBody{
		Kind: wire.DeviceBodyCore,
		Core: &wire.DeviceToCoordinatorMessage{Kind: wire.DeviceBackupDisplayed, BackupDisplayed: &wire.BackupDisplayedMsg{
			AccessStructureID: accessStructureID, ShareIndex: uint32(sh.ShareIndex),
		}},
	}})
}

func samePolynomial(a, b dkg.Contribution) bool {
	if len(a.Commitment) != len(b.Commitment) {
		return false
	}
	for i := range a.Commitment {
		if !curve.Equal(a.Commitment[i], b.Commitment[i]) {
			return false
		}
	}
	return true
}

func decompress(id wire.DeviceID) (curve.Point, error) {
	// A DeviceID is a 33-byte compressed secp256k1 public key; this is the
	// one place in the engine that needs the compressed (not uncompressed
	// X||Y) encoding, since device identities are exchanged over the wire
	// in compressed form.
	pub, err := curve.PointFromCompressed(id[:])
	if err != nil {
		return curve.Point{}, &frosterr.InvalidMessage{Reason: "device id is not a valid compressed public key"}
	}
	return pub, nil
}

// renderTaskSummary renders the exact semantics a user must confirm before
// a device will sign, per spec.md's confirmation binding invariant: for a
// Bitcoin task this is every input's derivation path and value and every
// output's destination and value, never the raw transaction bytes.
func renderTaskSummary(m wire.SignRequestMsg) string {
	switch m.TaskKind {
	case wire.SignTaskPlain:
		return "sign plain message: " + string(m.PlainMessage)
	case wire.SignTaskNostr:
		return "sign nostr event: " + string(m.NostrEvent)
	case wire.SignTaskBitcoin:
		var b strings.Builder
		b.WriteString("sign bitcoin transaction\n")
		for i, in := range m.BitcoinTxSummary.Inputs {
			fmt.Fprintf(&b, "  input %d: %d sats from m/%d/%d/%d/%d/%d\n",
				i, in.ValueSats, in.Path.App, in.Path.Account, in.Path.AccountIndex, in.Path.Keychain, in.Path.AddressIndex)
		}
		for i, out := range m.BitcoinTxSummary.Outputs {
			fmt.Fprintf(&b, "  output %d: %d sats to %s\n", i, out.ValueSats, out.Address)
		}
		fmt.Fprintf(&b, "  fee: %d sats", m.BitcoinTxSummary.FeeSats)
		return b.String()
	default:
		return "sign unknown task"
	}
}

func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, &frosterr.InvalidMessage{Reason: "unknown network: " + network}
	}
}

// encodeAtRest serialises a share.AtRest envelope to the CBOR-opaque bytes
// mutation.SaveShare.EncryptedShare holds, matching how package mutation
// encodes every other persisted record.
func encodeAtRest(a share.AtRest) ([]byte, error) {
	return cbor.Marshal(a)
}

// decodeAtRest is the inverse of encodeAtRest, used when a restart needs
// to re-open a previously sealed share.
func decodeAtRest(raw []byte) (share.AtRest, error) {
	var a share.AtRest
	err := cbor.Unmarshal(raw, &a)
	return a, err
}
