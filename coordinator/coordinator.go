// Package coordinator implements the coordinator-side top-level engine,
// component 16 of SPEC_FULL.md: the counterpart to package device's
// recv/drain_outbox loop, but holding no secret key material of its own.
// It relays DKG rounds, drives signing sessions through package signing
// (which aborts a session on any invalid signature share), and reconstructs
// access structures during physical backup recovery. Grounded on the teacher's roast.go/
// coordinator.go prototype (a central party that aggregates contributions
// and tracks which members have misbehaved) generalised from one
// toy-protocol round to spec.md section 4's full keygen/sign/restore
// lifecycle.
package coordinator

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"github.com/frostsnap/engine/bip340"
	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/dkg"
	"github.com/frostsnap/engine/frost"
	"github.com/frostsnap/engine/frosterr"
	"github.com/frostsnap/engine/mutation"
	"github.com/frostsnap/engine/nonce"
	"github.com/frostsnap/engine/outbox"
	"github.com/frostsnap/engine/restore"
	"github.com/frostsnap/engine/signing"
	"github.com/frostsnap/engine/signtask"
	"github.com/frostsnap/engine/tweak"
	"github.com/frostsnap/engine/wire"
)

// deviceRecord is what the coordinator keeps about a device it has seen
// announce itself.
type deviceRecord struct {
	ID   wire.DeviceID
	Name string
	Key  curve.Point
}

// pendingKeygen tracks a DKG the coordinator is relaying but has not yet
// finalised.
type pendingKeygen struct {
	threshold    int
	deviceIndex  map[wire.DeviceID]uint32
	longTermKeys map[frost.ShareIndex]curve.Point

	contributions map[uint32]dkg.Contribution
	confirmations map[frost.ShareIndex]bip340.Signature

	sessionHash  [32]byte
	groupKey     curve.Point
	verification map[frost.ShareIndex]curve.Point

	keyName, purpose string
}

// AccessStructure is everything the coordinator retains about a finished
// DKG or restoration: enough to start signing sessions and derive
// addresses, never a secret share.
type AccessStructure struct {
	KeyID              wire.KeyID
	AccessStructureID  wire.AccessStructureID
	Threshold          int
	GroupKey           curve.Point
	MasterAppkey       tweak.MasterAppkey
	VerificationShares map[frost.ShareIndex]curve.Point
	DeviceIndex        map[wire.DeviceID]uint32
	IndexDevice        map[frost.ShareIndex]wire.DeviceID
}

// queuedNonce is one unconsumed entry from a device's nonce-offer batch.
type queuedNonce struct {
	index      uint32
	commitment frost.NonceCommitment
}

// noncePool is the unconsumed tail of one device's offered nonces for one
// stream on one access structure.
type noncePool struct {
	streamID nonce.StreamID
	queue    []queuedNonce
}

// Engine is the coordinator-side protocol state machine. Like package
// device's Engine, it is not safe for concurrent use from multiple
// goroutines (spec.md section 5); a host runs one per signing network.
type Engine struct {
	ID             wire.DeviceID
	longTermSecret *big.Int

	devices map[wire.DeviceID]*deviceRecord

	// collectingKeygenID is the keygen currently awaiting round-1
	// contributions, if any. A device's KeygenContribution carries no
	// keygen identifier of its own (unlike KeygenAckMsg, which does), so
	// only one keygen may be collecting contributions at a time.
	collectingKeygenID *[32]byte
	pendingKeygens      map[[32]byte]*pendingKeygen
	accessStructures    map[wire.AccessStructureID]*AccessStructure

	sessions       map[[32]byte]*signing.Session
	sessionDevices map[[32]byte][]wire.DeviceID

	nonceOffers map[wire.AccessStructureID]map[frost.ShareIndex]*noncePool

	restoreThreshold  int
	heldShares        []restore.HeldShare
	heldShareDevices  map[string]wire.DeviceID

	logger *logrus.Entry
	out    *outbox.Outbox
}

func discardEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// NewEngine constructs a coordinator engine around its own long-term
// identity keypair (used only to announce itself to devices, never to hold
// a key share). It takes no storage collaborator; all state is held in
// memory. logger may be nil.
func NewEngine(longTermSecret *big.Int, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = discardEntry()
	}
	pub := curve.EcBaseMul(longTermSecret)
	var id wire.DeviceID
	copy(id[:], pub.PubKey().SerializeCompressed())

	return &Engine{
		ID:               id,
		longTermSecret:   longTermSecret,
		devices:          make(map[wire.DeviceID]*deviceRecord),
		pendingKeygens:   make(map[[32]byte]*pendingKeygen),
		accessStructures: make(map[wire.AccessStructureID]*AccessStructure),
		sessions:         make(map[[32]byte]*signing.Session),
		sessionDevices:   make(map[[32]byte][]wire.DeviceID),
		nonceOffers:      make(map[wire.AccessStructureID]map[frost.ShareIndex]*noncePool),
		heldShareDevices: make(map[string]wire.DeviceID),
		logger:           logger,
		out:              &outbox.Outbox{},
	}
}

// DrainOutbox returns and clears every pending outbound item.
func (e *Engine) DrainOutbox() []outbox.Item { return e.out.Drain() }

// AccessStructures returns every access structure this coordinator currently
// knows about, keyed by its ID. Used by host-level status reporting (see
// cmd/frostsnap-coordinator); the returned map is the engine's own, so
// callers must not mutate it.
func (e *Engine) AccessStructures() map[wire.AccessStructureID]*AccessStructure {
	return e.accessStructures
}

// Devices returns the device IDs that have announced themselves to this
// coordinator so far.
func (e *Engine) Devices() []wire.DeviceID {
	ids := make([]wire.DeviceID, 0, len(e.devices))
	for id := range e.devices {
		ids = append(ids, id)
	}
	return ids
}

// ProcessDeviceMessage handles one inbound device message, the coordinator
// side's half of spec.md section 4.7's recv/drain_outbox loop.
func (e *Engine) ProcessDeviceMessage(msg wire.DeviceSendMessage) error {
	err := e.recv(msg)
	if err != nil {
		e.logger.WithError(err).WithField("device", msg.From.String()).Warn("device message rejected")
	}
	return err
}

func (e *Engine) recv(msg wire.DeviceSendMessage) error {
	switch msg.Body.Kind {
	case wire.DeviceBodyAnnounce:
		if msg.Body.Announce == nil {
			return &frosterr.InvalidMessage{Reason: "announce body missing"}
		}
		return e.handleAnnounce(msg.From, *msg.Body.Announce)
	case wire.DeviceBodyDebug:
		if msg.Body.Debug != nil {
			e.logger.WithField("device", msg.From.String()).Debug(msg.Body.Debug.Message)
		}
		return nil
	case wire.DeviceBodyMisc:
		if msg.Body.Misc != nil {
			e.logger.WithFields(logrus.Fields{"device": msg.From.String(), "kind": msg.Body.Misc.Kind}).Info("device acknowledgement")
		}
		return nil
	case wire.DeviceBodyCore:
		if msg.Body.Core == nil {
			return &frosterr.InvalidMessage{Reason: "core message body missing"}
		}
		return e.recvCore(msg.From, *msg.Body.Core)
	default:
		return &frosterr.WrongKind{Expected: "known DeviceBodyKind", Got: string(msg.Body.Kind)}
	}
}

func (e *Engine) recvCore(from wire.DeviceID, m wire.DeviceToCoordinatorMessage) error {
	switch m.Kind {
	case wire.DeviceKeygenContribution:
		return e.handleKeygenContribution(from, *m.KeygenContribution)
	case wire.DeviceKeygenAck:
		return e.handleKeygenAck(from, *m.KeygenAck)
	case wire.DeviceNonceOffer:
		return e.handleNonceOffer(from, *m.NonceOffer)
	case wire.DeviceSignatureShares:
		return e.handleSignatureShares(from, *m.SignatureShares)
	case wire.DeviceHeldShare:
		return e.handleHeldShare(from, *m.HeldShare)
	case wire.DeviceVerifyAddressOK:
		e.out.PushToUser(outbox.Prompt{Kind: outbox.PromptVerifyAddress, DeviceID: from.String(),
			Text: fmt.Sprintf("address verification matched=%v", m.VerifyAddressResult.Matched)})
		return nil
	case wire.DeviceCheckShareOK:
		e.out.PushToUser(outbox.Prompt{Kind: outbox.PromptProgress, DeviceID: from.String(),
			Text: fmt.Sprintf("check-share result ok=%v", m.CheckShareResult.OK)})
		return nil
	case wire.DeviceBackupDisplayed:
		e.out.PushToUser(outbox.Prompt{Kind: outbox.PromptConfirmBackupDisplay, DeviceID: from.String(),
			Text: "physical backup displayed and confirmed"})
		return nil
	case wire.DeviceInvalidMessage:
		reason := ""
		if m.InvalidMessage != nil {
			reason = m.InvalidMessage.Reason
		}
		e.logger.WithField("device", from.String()).Warn("device reported invalid message: " + reason)
		e.out.PushToUser(outbox.Prompt{Kind: outbox.PromptAbort, DeviceID: from.String(), Text: reason})
		return nil
	default:
		return &frosterr.WrongKind{Expected: "known DeviceCoreKind", Got: string(m.Kind)}
	}
}

func (e *Engine) handleAnnounce(from wire.DeviceID, m wire.AnnounceMsg) error {
	pub, err := decompress(from)
	if err != nil {
		return err
	}
	e.devices[from] = &deviceRecord{ID: from, Key: pub}
	e.out.PushToDevice(wire.CoordinatorSendMessage{
		TargetDestinations: wire.Devices(from),
		Body: wire.CoordinatorSendBody{
			Kind:                wire.CoordBodyAnnounceCoordinator,
			AnnounceCoordinator: &wire.AnnounceCoordinatorMsg{CoordinatorID: e.ID},
		},
	})
	if m.RecoveryMode {
		e.out.PushToDevice(wire.CoordinatorSendMessage{
			TargetDestinations: wire.Devices(from),
			Body: wire.CoordinatorSendBody{
				Kind: wire.CoordBodyCore,
				Core: &wire.CoordinatorToDeviceMessage{Kind: wire.CoordRequestHeldShares, RequestHeldShares: &wire.RequestHeldSharesMsg{}},
			},
		})
	}
	return nil
}

// StartKeygen begins a DKG among the named participants, each already
// announced to this coordinator, per spec.md section 4.2 round 1. Only one
// keygen may be collecting round-1 contributions at a time.
func (e *Engine) StartKeygen(threshold int, participants map[wire.DeviceID]uint32, keyName, purpose string) ([32]byte, error) {
	if e.collectingKeygenID != nil {
		return [32]byte{}, &frosterr.WrongKind{Expected: "no keygen in progress", Got: "a keygen is already collecting contributions"}
	}
	if threshold <= 0 || threshold > len(participants) {
		return [32]byte{}, &frosterr.InvalidMessage{Reason: "keygen threshold must be between 1 and the number of participants"}
	}

	longTermKeys := make(map[frost.ShareIndex]curve.Point, len(participants))
	ids := make([]wire.DeviceID, 0, len(participants))
	for id, idx := range participants {
		rec, ok := e.devices[id]
		if !ok {
			return [32]byte{}, &frosterr.InvalidMessage{Reason: "keygen names a device that has not announced itself"}
		}
		longTermKeys[frost.ShareIndex(idx)] = rec.Key
		ids = append(ids, id)
	}

	var keygenID [32]byte
	if _, err := rand.Read(keygenID[:]); err != nil {
		return [32]byte{}, err
	}

	e.pendingKeygens[keygenID] = &pendingKeygen{
		threshold:     threshold,
		deviceIndex:   participants,
		longTermKeys:  longTermKeys,
		contributions: make(map[uint32]dkg.Contribution),
		confirmations: make(map[frost.ShareIndex]bip340.Signature),
		keyName:       keyName,
		purpose:       purpose,
	}
	e.collectingKeygenID = &keygenID

	e.out.PushToDevice(wire.CoordinatorSendMessage{
		TargetDestinations: wire.Devices(ids...),
		Body: wire.CoordinatorSendBody{
			Kind: wire.CoordBodyCore,
			Core: &wire.CoordinatorToDeviceMessage{Kind: wire.CoordKeygenBegin, BeginKeygen: &wire.BeginKeygenMsg{
				KeygenID: keygenID, Threshold: threshold, DeviceToShareIndex: participants, KeyName: keyName, Purpose: purpose,
			}},
		},
	})
	return keygenID, nil
}

func (e *Engine) handleKeygenContribution(from wire.DeviceID, c dkg.Contribution) error {
	if e.collectingKeygenID == nil {
		return &frosterr.WrongKind{Expected: "a keygen collecting contributions", Got: "none"}
	}
	keygenID := *e.collectingKeygenID
	pk := e.pendingKeygens[keygenID]
	if _, ok := pk.deviceIndex[from]; !ok {
		return &frosterr.InvalidMessage{Reason: "contribution from a device not part of this keygen"}
	}
	pk.contributions[uint32(c.Index)] = c
	if len(pk.contributions) != len(pk.deviceIndex) {
		return nil
	}

	transcript := dkg.NewTranscript(pk.threshold, pk.longTermKeys)
	for _, contrib := range pk.contributions {
		if err := transcript.Add(contrib); err != nil {
			return err
		}
	}
	pk.sessionHash = transcript.SessionHash()
	rawGroupKey, rawVerification := groupKeyAndVerificationShares(pk.contributions)
	pk.groupKey, pk.verification, _ = dkg.NormalizeGroupKey(rawGroupKey, rawVerification)
	e.collectingKeygenID = nil

	deviceIndex := make(map[uint32]wire.DeviceID, len(pk.deviceIndex))
	for id, idx := range pk.deviceIndex {
		deviceIndex[idx] = id
	}

	ids := make([]wire.DeviceID, 0, len(pk.deviceIndex))
	for id := range pk.deviceIndex {
		ids = append(ids, id)
	}
	e.out.PushToDevice(wire.CoordinatorSendMessage{
		TargetDestinations: wire.Devices(ids...),
		Body: wire.CoordinatorSendBody{
			Kind: wire.CoordBodyCore,
			Core: &wire.CoordinatorToDeviceMessage{Kind: wire.CoordKeygenAgg, KeygenAgg: &wire.KeygenAggMsg{
				KeygenID: keygenID, Contributions: pk.contributions, DeviceIndex: deviceIndex,
			}},
		},
	})
	return nil
}

func (e *Engine) handleKeygenAck(from wire.DeviceID, m wire.KeygenAckMsg) error {
	pk, ok := e.pendingKeygens[m.KeygenID]
	if !ok {
		return &frosterr.WrongKind{Expected: "an active keygen awaiting acknowledgement", Got: "none"}
	}
	idx, ok := pk.deviceIndex[from]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "acknowledgement from a device not part of this keygen"}
	}
	if m.SessionHash != pk.sessionHash {
		return &frosterr.InvalidMessage{Reason: "device acknowledged a different session hash than the coordinator relayed"}
	}
	if !bip340.Verify(pk.longTermKeys[frost.ShareIndex(idx)], m.SessionHash[:], m.Signature) {
		return &frosterr.InvalidMessage{Reason: "keygen acknowledgement signature failed to verify"}
	}
	pk.confirmations[frost.ShareIndex(idx)] = m.Signature
	if len(pk.confirmations) != len(pk.deviceIndex) {
		return nil
	}

	if err := dkg.Finalize(pk.sessionHash, pk.confirmations, pk.longTermKeys); err != nil {
		return err
	}

	var keyID wire.KeyID
	if _, err := rand.Read(keyID[:]); err != nil {
		return err
	}
	var accessStructureID wire.AccessStructureID
	if _, err := rand.Read(accessStructureID[:]); err != nil {
		return err
	}

	deviceIndex := make(map[wire.DeviceID]uint32, len(pk.deviceIndex))
	indexDevice := make(map[frost.ShareIndex]wire.DeviceID, len(pk.deviceIndex))
	for id, i := range pk.deviceIndex {
		deviceIndex[id] = i
		indexDevice[frost.ShareIndex(i)] = id
	}

	e.accessStructures[accessStructureID] = &AccessStructure{
		KeyID:              keyID,
		AccessStructureID:  accessStructureID,
		Threshold:          pk.threshold,
		GroupKey:           pk.groupKey,
		MasterAppkey:       tweak.MasterAppkey{Point: pk.groupKey, ChainCode: deriveChainCode(pk.sessionHash)},
		VerificationShares: pk.verification,
		DeviceIndex:        deviceIndex,
		IndexDevice:        indexDevice,
	}

	e.out.PushToStorage(mutation.Record{Kind: mutation.KindNewKey, NewKey: &mutation.NewKey{
		KeyID: [32]byte(keyID), KeyName: pk.keyName, Purpose: pk.purpose,
	}})
	e.out.PushToStorage(mutation.Record{Kind: mutation.KindNewAccessStructure, NewAccessStructure: &mutation.NewAccessStructure{
		AccessStructureID: [32]byte(accessStructureID), Threshold: pk.threshold,
	}})

	ids := make([]wire.DeviceID, 0, len(pk.deviceIndex))
	for id := range pk.deviceIndex {
		ids = append(ids, id)
	}
	e.out.PushToDevice(wire.CoordinatorSendMessage{
		TargetDestinations: wire.Devices(ids...),
		Body: wire.CoordinatorSendBody{
			Kind: wire.CoordBodyCore,
			Core: &wire.CoordinatorToDeviceMessage{Kind: wire.CoordKeygenFinalize, KeygenFinalize: &wire.KeygenFinalizeMsg{
				KeygenID: m.KeygenID, KeyID: keyID, AccessStructureID: accessStructureID,
			}},
		},
	})
	e.out.PushToUser(outbox.Prompt{Kind: outbox.PromptProgress, Text: "keygen finalized"})
	delete(e.pendingKeygens, m.KeygenID)
	e.logger.WithField("access_structure", fmt.Sprintf("%x", accessStructureID[:])).Info("keygen finalized")
	return nil
}

func (e *Engine) handleNonceOffer(from wire.DeviceID, m wire.NonceOfferMsg) error {
	as, ok := e.accessStructures[m.AccessStructureID]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "nonce offer references an unknown access structure"}
	}
	signer, ok := as.DeviceIndex[from]
	if !ok {
		return &frosterr.InvalidMessage{Reason: "nonce offer from a device not part of this access structure"}
	}
	byDevice, ok := e.nonceOffers[m.AccessStructureID]
	if !ok {
		byDevice = make(map[frost.ShareIndex]*noncePool)
		e.nonceOffers[m.AccessStructureID] = byDevice
	}
	pool, ok := byDevice[frost.ShareIndex(signer)]
	if !ok || pool.streamID != m.StreamID {
		pool = &noncePool{streamID: m.StreamID}
		byDevice[frost.ShareIndex(signer)] = pool
	}
	for i, c := range m.Commitments {
		pool.queue = append(pool.queue, queuedNonce{index: m.Start + uint32(i), commitment: c})
	}
	return nil
}

func (e *Engine) handleSignatureShares(from wire.DeviceID, m wire.SignatureSharesMsg) error {
	session, ok := e.sessions[m.SessionID]
	if !ok {
		return &frosterr.WrongKind{Expected: "an active signing session", Got: "none"}
	}
	for input, share := range m.Shares {
		if err := session.ReceiveShare(m.Signer, input, share); err != nil {
			if session.State == signing.Aborted {
				e.out.PushToStorage(mutation.Record{Kind: mutation.KindCloseSignSession, CloseSignSession: &mutation.CloseSignSession{
					SessionID: m.SessionID, Finalised: false,
				}})
				delete(e.sessions, m.SessionID)
				delete(e.sessionDevices, m.SessionID)
			}
			return err
		}
	}
	e.out.PushToStorage(mutation.Record{Kind: mutation.KindGotSignatureShares, GotSignatureShares: &mutation.GotSignatureShares{
		SessionID: m.SessionID, DeviceID: from.String(),
	}})

	if session.State != signing.Finalising {
		return nil
	}
	sigs, err := session.Finalize()
	if err != nil {
		return err
	}
	e.out.PushToStorage(mutation.Record{Kind: mutation.KindCloseSignSession, CloseSignSession: &mutation.CloseSignSession{
		SessionID: m.SessionID, Finalised: true,
	}})
	e.out.PushToUser(outbox.Prompt{Kind: outbox.PromptProgress, Text: fmt.Sprintf("signing session produced %d signature(s)", len(sigs))})
	delete(e.sessions, m.SessionID)
	delete(e.sessionDevices, m.SessionID)
	return nil
}

func (e *Engine) handleHeldShare(from wire.DeviceID, m wire.HeldShareMsg) error {
	e.heldShares = append(e.heldShares, restore.HeldShare{
		DeviceID: from.String(), ShareIndex: m.ShareIndex, ShareValue: m.ShareValue,
	})
	if e.restoreThreshold == 0 || len(e.heldShares) < e.restoreThreshold {
		return nil
	}

	rec, err := restore.ReconstructAccessStructure(e.heldShares, e.restoreThreshold)
	if err != nil {
		return err
	}

	var keyID wire.KeyID
	if _, err := rand.Read(keyID[:]); err != nil {
		return err
	}
	var accessStructureID wire.AccessStructureID
	if _, err := rand.Read(accessStructureID[:]); err != nil {
		return err
	}

	deviceIndex := make(map[wire.DeviceID]uint32, len(rec.DeviceIndex))
	indexDevice := make(map[frost.ShareIndex]wire.DeviceID, len(rec.DeviceIndex))
	verification := make(map[frost.ShareIndex]curve.Point, len(rec.VerificationShares))
	var ids []wire.DeviceID
	for idStr, idx := range rec.DeviceIndex {
		var id wire.DeviceID
		for _, dr := range e.devices {
			if dr.ID.String() == idStr {
				id = dr.ID
			}
		}
		deviceIndex[id] = idx
		indexDevice[frost.ShareIndex(idx)] = id
		ids = append(ids, id)
	}
	for idx, p := range rec.VerificationShares {
		verification[frost.ShareIndex(idx)] = p
	}

	chainCode := deriveChainCode(sha256.Sum256(rec.GroupKey.Bytes()))
	e.accessStructures[accessStructureID] = &AccessStructure{
		KeyID:              keyID,
		AccessStructureID:  accessStructureID,
		Threshold:          rec.Threshold,
		GroupKey:           rec.GroupKey,
		MasterAppkey:       tweak.MasterAppkey{Point: rec.GroupKey, ChainCode: chainCode},
		VerificationShares: verification,
		DeviceIndex:        deviceIndex,
		IndexDevice:        indexDevice,
	}

	e.out.PushToStorage(mutation.Record{Kind: mutation.KindNewKey, NewKey: &mutation.NewKey{
		KeyID: [32]byte(keyID), KeyName: "restored", Purpose: "restoration",
	}})
	e.out.PushToStorage(mutation.Record{Kind: mutation.KindNewAccessStructure, NewAccessStructure: &mutation.NewAccessStructure{
		AccessStructureID: [32]byte(accessStructureID), Threshold: rec.Threshold,
	}})

	for id, idx := range deviceIndex {
		// A restored device's own verification share is the only
		// "polynomial" the coordinator can hand back to it: with the
		// original coefficients lost, CheckShare's equation degrades to
		// confirming a device's stored share matches its own known
		// public point, per restore.Reconstructed's doc comment.
		commitment := []curve.Point{verification[frost.ShareIndex(idx)]}
		e.out.PushToDevice(wire.CoordinatorSendMessage{
			TargetDestinations: wire.Devices(id),
			Body: wire.CoordinatorSendBody{
				Kind: wire.CoordBodyCore,
				Core: &wire.CoordinatorToDeviceMessage{Kind: wire.CoordNewAccessStructure, NewAccessStructure: &wire.NewAccessStructureMsg{
					KeyID: keyID, AccessStructureID: accessStructureID, Threshold: rec.Threshold,
					DeviceIndex: deviceIndex, Commitment: commitment, MasterAppkey: e.accessStructures[accessStructureID].MasterAppkey,
				}},
			},
		})
	}
	_ = ids
	e.heldShares = nil
	e.restoreThreshold = 0
	return nil
}

// BeginRestore asks every connected device whether it holds a share with no
// known access structure, and remembers the threshold needed to reconstruct
// one, per spec.md section 4.5's "wait for recovery" flow.
func (e *Engine) BeginRestore(threshold int) {
	e.restoreThreshold = threshold
	e.heldShares = nil
	e.out.PushToDevice(wire.CoordinatorSendMessage{
		TargetDestinations: wire.AllDevices(),
		Body: wire.CoordinatorSendBody{
			Kind: wire.CoordBodyCore,
			Core: &wire.CoordinatorToDeviceMessage{Kind: wire.CoordRequestHeldShares, RequestHeldShares: &wire.RequestHeldSharesMsg{}},
		},
	})
}

// StartSign opens a signing session for task against the named access
// structure, using signers' previously-offered nonces, per spec.md section
// 4.3. Every signer must already have at least len(task.Inputs) unconsumed
// nonces queued on the same stream, all at the same starting index -- this
// coordinator requires signers to replenish in lockstep rather than
// supporting per-device nonce ranges, since SignRequestMsg carries a single
// shared NonceRange (see DESIGN.md).
func (e *Engine) StartSign(
	accessStructureID wire.AccessStructureID,
	task signtask.Task,
	prevValues []btcutil.Amount,
	prevOutputs []*btcwire.TxOut,
	signers []wire.DeviceID,
	params *chaincfg.Params,
) ([32]byte, error) {
	as, ok := e.accessStructures[accessStructureID]
	if !ok {
		return [32]byte{}, &frosterr.InvalidMessage{Reason: "sign request references an unknown access structure"}
	}
	if err := task.Check(prevValues); err != nil {
		return [32]byte{}, err
	}
	sigHashes, err := task.SigHashes(prevOutputs)
	if err != nil {
		return [32]byte{}, err
	}

	var sessionID [32]byte
	copy(sessionID[:], task.TxID()[:])

	return e.openSignSession(accessStructureID, as, task, signers, sessionID, wire.SignRequestMsg{
		TaskKind:         wire.SignTaskBitcoin,
		BitcoinTxSummary: buildTxSummary(task, prevValues, params),
		SigHashes:        sigHashes,
	})
}

// StartSignPlain opens a signing session over a plain message, the simplest
// of spec.md section 3's three SignTask variants: a single sighash with no
// Bitcoin-specific input/output checking.
func (e *Engine) StartSignPlain(accessStructureID wire.AccessStructureID, message []byte, signers []wire.DeviceID) ([32]byte, error) {
	as, ok := e.accessStructures[accessStructureID]
	if !ok {
		return [32]byte{}, &frosterr.InvalidMessage{Reason: "sign request references an unknown access structure"}
	}

	digest := sha256.Sum256(message)
	sessionID := sha256.Sum256(append([]byte("frostsnap/plain-session/"), digest[:]...))

	return e.openSignSession(accessStructureID, as, signtask.Task{}, signers, sessionID, wire.SignRequestMsg{
		TaskKind:     wire.SignTaskPlain,
		PlainMessage: message,
		SigHashes:    [][32]byte{digest},
	})
}

// StartSignNostr opens a signing session over a pre-serialized NIP-01 event
// (the canonical JSON array the original implementation's
// frostsnap_core/src/nostr.rs hashes before signing), the second of
// spec.md section 3's three SignTask variants. event is expected to already
// be that canonical serialization; this coordinator does not itself
// construct or canonicalize Nostr events.
func (e *Engine) StartSignNostr(accessStructureID wire.AccessStructureID, event []byte, signers []wire.DeviceID) ([32]byte, error) {
	as, ok := e.accessStructures[accessStructureID]
	if !ok {
		return [32]byte{}, &frosterr.InvalidMessage{Reason: "sign request references an unknown access structure"}
	}

	digest := sha256.Sum256(event)
	sessionID := sha256.Sum256(append([]byte("frostsnap/nostr-session/"), digest[:]...))

	return e.openSignSession(accessStructureID, as, signtask.Task{}, signers, sessionID, wire.SignRequestMsg{
		TaskKind:   wire.SignTaskNostr,
		NostrEvent: event,
		SigHashes:  [][32]byte{digest},
	})
}

// openSignSession holds the nonce allocation, session bookkeeping, and
// outbox wiring common to every SignTask variant; callers fill in template
// with TaskKind, the per-variant summary fields, and (for non-Bitcoin
// tasks) SigHashes directly -- Bitcoin's sighashes are instead computed by
// the caller from task.SigHashes before this is reached.
func (e *Engine) openSignSession(
	accessStructureID wire.AccessStructureID,
	as *AccessStructure,
	task signtask.Task,
	signers []wire.DeviceID,
	sessionID [32]byte,
	template wire.SignRequestMsg,
) ([32]byte, error) {
	if len(signers) < as.Threshold {
		return [32]byte{}, &frosterr.InvalidMessage{Reason: "not enough signers to meet the access structure threshold"}
	}
	sigHashes := template.SigHashes

	need := len(sigHashes)
	streamID, start, perSigner, err := e.allocateNonces(accessStructureID, as, signers, need)
	if err != nil {
		return [32]byte{}, err
	}

	if _, ok := e.sessions[sessionID]; ok {
		// Extremely unlikely id collision across concurrent sessions; fold
		// in fresh randomness rather than failing outright.
		if _, err := rand.Read(sessionID[:]); err != nil {
			return [32]byte{}, err
		}
	}

	session := signing.NewSession(sessionID, task, as.Threshold, as.GroupKey, as.VerificationShares, sigHashes)
	for signer, commitments := range perSigner {
		if err := session.OfferNonces(signer, commitments); err != nil {
			return [32]byte{}, err
		}
	}
	e.sessions[sessionID] = session
	e.sessionDevices[sessionID] = signers

	deviceNames := make([]string, len(signers))
	for i, id := range signers {
		deviceNames[i] = id.String()
	}
	var txID [32]byte
	if template.TaskKind == wire.SignTaskBitcoin {
		txID = [32]byte(task.TxID())
	}
	e.out.PushToStorage(mutation.Record{Kind: mutation.KindNewSigningSession, NewSigningSession: &mutation.NewSigningSession{
		SessionID: sessionID, AccessStructureID: [32]byte(accessStructureID), TxID: txID, Devices: deviceNames,
	}})

	commitments := make(map[int][]frost.NonceCommitment, need)
	for i := range sigHashes {
		commitments[i] = session.CommitmentsFor(i)
	}

	template.SessionID = sessionID
	template.AccessStructureID = accessStructureID
	template.NonceAllocation = wire.NonceRange{StreamID: streamID, Start: start, End: start + uint32(need)}
	template.Commitments = commitments

	e.out.PushToDevice(wire.CoordinatorSendMessage{
		TargetDestinations: wire.Devices(signers...),
		Body: wire.CoordinatorSendBody{
			Kind: wire.CoordBodyCore,
			Core: &wire.CoordinatorToDeviceMessage{Kind: wire.CoordSignRequest, SignRequest: &template},
		},
	})
	return sessionID, nil
}

// allocateNonces pops `need` contiguous nonces from the front of every
// signer's queue on the access structure's stream, requiring every signer's
// queue to start at the same absolute index.
func (e *Engine) allocateNonces(accessStructureID wire.AccessStructureID, as *AccessStructure, signers []wire.DeviceID, need int) (nonce.StreamID, uint32, map[frost.ShareIndex][]frost.NonceCommitment, error) {
	byDevice := e.nonceOffers[accessStructureID]
	perSigner := make(map[frost.ShareIndex][]frost.NonceCommitment, len(signers))
	var streamID nonce.StreamID
	var start uint32
	first := true

	for _, id := range signers {
		idx, ok := as.DeviceIndex[id]
		if !ok {
			return nonce.StreamID{}, 0, nil, &frosterr.InvalidMessage{Reason: "signer is not part of this access structure"}
		}
		signer := frost.ShareIndex(idx)
		pool := byDevice[signer]
		if pool == nil || len(pool.queue) < need {
			have := 0
			if pool != nil {
				have = len(pool.queue)
			}
			return nonce.StreamID{}, 0, nil, &frosterr.InsufficientNonces{StreamID: id.String(), Have: have, Need: need}
		}
		if first {
			streamID = pool.streamID
			start = pool.queue[0].index
			first = false
		} else if pool.streamID != streamID || pool.queue[0].index != start {
			return nonce.StreamID{}, 0, nil, &frosterr.InvalidMessage{Reason: "signers' nonce pools are not aligned; replenish before signing"}
		}

		commitments := make([]frost.NonceCommitment, need)
		for i := 0; i < need; i++ {
			commitments[i] = pool.queue[i].commitment
		}
		perSigner[signer] = commitments
		pool.queue = pool.queue[need:]
	}
	return streamID, start, perSigner, nil
}

// buildTxSummary renders exactly what spec.md's confirmation binding
// invariant requires a device to display before it may sign: every input's
// derivation path and value, and every output's destination address and
// value, never the raw transaction bytes.
func buildTxSummary(task signtask.Task, prevValues []btcutil.Amount, params *chaincfg.Params) wire.BitcoinTxSummary {
	inputs := make([]wire.BitcoinInputSummary, len(task.Inputs))
	for i, in := range task.Inputs {
		value := int64(0)
		if i < len(prevValues) {
			value = int64(prevValues[i])
		}
		inputs[i] = wire.BitcoinInputSummary{Path: in.Path, ValueSats: value}
	}
	outputs := make([]wire.BitcoinOutputSummary, len(task.Tx.TxOut))
	for i, out := range task.Tx.TxOut {
		outputs[i] = wire.BitcoinOutputSummary{Address: addressFromPkScript(out.PkScript, params), ValueSats: out.Value}
	}
	fee := task.Fee(prevValues)
	return wire.BitcoinTxSummary{Inputs: inputs, Outputs: outputs, FeeSats: int64(fee)}
}

// addressFromPkScript decodes an output script into the address a human
// recognises; an output script the coordinator does not understand renders
// as hex rather than silently vanishing from the confirmation screen.
func addressFromPkScript(pkScript []byte, params *chaincfg.Params) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return fmt.Sprintf("unparsed script %x", pkScript)
	}
	return addrs[0].EncodeAddress()
}

// groupKeyAndVerificationShares sums every participant's contribution the
// same way dkg.Transcript.AggregateShares does, without the secret-share
// half that function also computes: the coordinator never holds a secret
// share, only the public commitments every device already broadcast.
func groupKeyAndVerificationShares(contributions map[uint32]dkg.Contribution) (curve.Point, map[frost.ShareIndex]curve.Point) {
	indices := make([]uint32, 0, len(contributions))
	for idx := range contributions {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	var groupKey curve.Point
	for i, idx := range indices {
		c0 := contributions[idx].Commitment[0]
		if i == 0 {
			groupKey = c0
			continue
		}
		groupKey = curve.EcAdd(groupKey, c0)
	}

	verification := make(map[frost.ShareIndex]curve.Point, len(indices))
	for _, participant := range indices {
		var vs curve.Point
		for i, idx := range indices {
			term := evalCommitmentAt(contributions[idx].Commitment, frost.ShareIndex(participant))
			if i == 0 {
				vs = term
				continue
			}
			vs = curve.EcAdd(vs, term)
		}
		verification[frost.ShareIndex(participant)] = vs
	}
	return groupKey, verification
}

func evalCommitmentAt(commitment []curve.Point, x frost.ShareIndex) curve.Point {
	xScalar := new(big.Int).SetUint64(uint64(x))
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

// deriveChainCode derives a BIP32-style chain code for a freshly-generated
// group key from its DKG session hash. The original implementation's
// master appkey chain code comes from a fixed derivation the DKG transcript
// has no equivalent of here; domain-separating a hash of the session hash
// both parties already computed gives every participant the same value
// without a fourth round.
func deriveChainCode(sessionHash [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte("frostsnap/chaincode"))
	h.Write(sessionHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func decompress(id wire.DeviceID) (curve.Point, error) {
	return curve.PointFromCompressed(id[:])
}
