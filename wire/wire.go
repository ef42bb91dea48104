// Package wire defines the full message taxonomy exchanged between a
// coordinator and a device: the top-level envelopes, the kind tags each
// envelope carries, and the Versioned[T] wrapper that lets new fields be
// added to a persisted or transmitted record without breaking decoders of
// older records. Grounded on spec.md section 6 and on the teacher's habit
// (frost/ciphersuite.go, gjkr/message.go) of keeping wire types as small,
// exhaustively-tagged structs rather than Go interfaces, so a frame can be
// decoded without first knowing its dynamic type.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"math/big"

	"github.com/frostsnap/engine/bip340"
	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/dkg"
	"github.com/frostsnap/engine/frost"
	"github.com/frostsnap/engine/frosterr"
	"github.com/frostsnap/engine/nonce"
	"github.com/frostsnap/engine/tweak"
)

// DeviceID is a device's long-term identity: the compressed encoding of its
// factory-provisioned secp256k1 public key.
type DeviceID [33]byte

func (d DeviceID) String() string { return fmt.Sprintf("%x", d[:]) }

// KeyID identifies one FROST group key, independent of which access
// structures (threshold configurations) realise it.
type KeyID [32]byte

// AccessStructureID identifies one named threshold configuration over a
// KeyID.
type AccessStructureID [32]byte

// MagicUpstream and MagicDownstream distinguish coordinator->device framing
// from device->coordinator framing at session start, per spec.md section 6.
var (
	MagicUpstream   = [4]byte{'f', 's', 'u', '1'}
	MagicDownstream = [4]byte{'f', 's', 'd', '1'}
)

// WriteMagic writes the fixed magic byte sequence that must precede the
// first frame of a session.
func WriteMagic(w io.Writer, magic [4]byte) error {
	_, err := w.Write(magic[:])
	return err
}

// ReadMagic reads and checks the magic byte sequence at session start.
func ReadMagic(r io.Reader, want [4]byte) error {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return err
	}
	if got != want {
		return &frosterr.InvalidMessage{Reason: fmt.Sprintf("bad session magic: got %x, want %x", got, want)}
	}
	return nil
}

// EncodeFrame gob-encodes v and writes it length-prefixed (4-byte
// little-endian byte count), the wire codec spec.md section 6 calls for
// (ported here as gob rather than bincode, per SPEC_FULL.md's domain stack
// notes).
func EncodeFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	var lengthPrefix [4]byte
	binary.LittleEndian.PutUint32(lengthPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeFrame reads one length-prefixed frame and gob-decodes it into v.
func DecodeFrame(r *bufio.Reader, v any) error {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return err
	}
	length := binary.LittleEndian.Uint32(lengthPrefix[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return &frosterr.InvalidMessage{Reason: "truncated frame body"}
	}
	return gob.NewDecoder(bytes.NewReader(body)).Decode(v)
}

// Versioned wraps any persisted or transmitted record with an explicit
// version tag, so a future field can be added to T (under a new Version
// value) without breaking decoders that only understand V0. Matches
// spec.md section 4.6's "every persisted top-level record is wrapped in
// Versioned<T> (V0 {...})".
type Versioned[T any] struct {
	Version uint8
	V0      T
}

// V0 wraps value as a version-0 record.
func V0[T any](value T) Versioned[T] {
	return Versioned[T]{Version: 0, V0: value}
}

// TargetDestinations selects which devices a CoordinatorSendMessage is
// addressed to.
type TargetDestinations struct {
	All        bool
	Particular []DeviceID
}

// AllDevices builds a TargetDestinations matching every connected device.
func AllDevices() TargetDestinations { return TargetDestinations{All: true} }

// Devices builds a TargetDestinations matching exactly the given set.
func Devices(ids ...DeviceID) TargetDestinations {
	return TargetDestinations{Particular: ids}
}

// Matches reports whether id is one of the addressed destinations.
func (t TargetDestinations) Matches(id DeviceID) bool {
	if t.All {
		return true
	}
	for _, d := range t.Particular {
		if d == id {
			return true
		}
	}
	return false
}

// CoordinatorSendMessage is the top-level outbound record from a
// coordinator to its transport.
type CoordinatorSendMessage struct {
	TargetDestinations TargetDestinations
	Body               CoordinatorSendBody
}

// CoordBodyKind tags the variant held by a CoordinatorSendBody.
type CoordBodyKind string

const (
	CoordBodyCore                CoordBodyKind = "core"
	CoordBodyAnnounceCoordinator CoordBodyKind = "announce_coordinator"
	CoordBodyCancel              CoordBodyKind = "cancel"
	CoordBodyDataErase           CoordBodyKind = "data_erase"
	CoordBodyUpgrade             CoordBodyKind = "upgrade"
	CoordBodyNaming              CoordBodyKind = "naming"
)

// CoordinatorSendBody is the tagged union of everything a coordinator can
// send, per spec.md section 6.
type CoordinatorSendBody struct {
	Kind                CoordBodyKind
	Core                *CoordinatorToDeviceMessage
	AnnounceCoordinator *AnnounceCoordinatorMsg
	Cancel              *CancelMsg
	DataErase           *DataEraseMsg
	Upgrade             *UpgradeMessage
	Naming              *NamingMessage
}

// AnnounceCoordinatorMsg greets a newly-connected device so it learns which
// coordinator it is now trusting, per spec.md's "a device trusts exactly
// one upstream coordinator at a time".
type AnnounceCoordinatorMsg struct {
	CoordinatorID DeviceID
}

// CancelMsg tells a device to drop any pending request for a session,
// emitted by a UiProtocol's cancel() per spec.md section 4.7.
type CancelMsg struct {
	SessionID [32]byte
}

// DataEraseMsg instructs a device to wipe its share, event log, and nonce
// slots. Devices respond with CommsMisc{EraseConfirmed}.
type DataEraseMsg struct{}

// UpgradeMessage carries an out-of-scope firmware OTA payload; only its
// envelope shape is specified here (see spec.md section 1's scope note).
type UpgradeMessage struct {
	Chunk      []byte
	ChunkIndex uint32
	Final      bool
}

// NamingMessage lets a coordinator assign a human-readable label to a
// device.
type NamingMessage struct {
	Name string
}

// CoordToDeviceKind tags the variant held by a CoordinatorToDeviceMessage.
type CoordToDeviceKind string

const (
	CoordKeygenBegin       CoordToDeviceKind = "keygen_begin"
	CoordKeygenAgg         CoordToDeviceKind = "keygen_agg"
	CoordKeygenFinalize    CoordToDeviceKind = "keygen_finalize"
	CoordSignRequest       CoordToDeviceKind = "sign_request"
	CoordRequestHeldShares CoordToDeviceKind = "request_held_shares"
	CoordNewAccessStructure CoordToDeviceKind = "new_access_structure"
	CoordVerifyAddress     CoordToDeviceKind = "verify_address"
	CoordCheckShare        CoordToDeviceKind = "check_share"
	CoordSendName          CoordToDeviceKind = "send_name"
)

// CoordinatorToDeviceMessage is the sum over every keygen, signing,
// restoration, verify-address, check-share, request-held-shares, and
// send-name message a coordinator addresses to the engine proper (as
// opposed to the transport-level CoordinatorSendBody variants above).
type CoordinatorToDeviceMessage struct {
	Kind               CoordToDeviceKind
	BeginKeygen        *BeginKeygenMsg
	KeygenAgg          *KeygenAggMsg
	KeygenFinalize     *KeygenFinalizeMsg
	SignRequest        *SignRequestMsg
	RequestHeldShares  *RequestHeldSharesMsg
	NewAccessStructure *NewAccessStructureMsg
	VerifyAddress      *VerifyAddressMsg
	CheckShare         *CheckShareMsg
	SendName           *SendNameMsg
}

// BeginKeygenMsg starts a DKG, per spec.md section 4.2 round 1.
type BeginKeygenMsg struct {
	KeygenID           [32]byte
	Threshold          int
	DeviceToShareIndex map[DeviceID]uint32
	KeyName            string
	Purpose            string
}

// KeygenAggMsg relays every participant's round-1 contribution to every
// device, per spec.md section 4.2 round 2. DeviceIndex lets a device map a
// sender's share index back to the DeviceID it already trusts.
type KeygenAggMsg struct {
	KeygenID      [32]byte
	Contributions map[uint32]dkg.Contribution
	DeviceIndex   map[uint32]DeviceID
}

// KeygenFinalizeMsg completes a DKG once every device has acked the same
// session hash, per spec.md section 4.2 round 3.
type KeygenFinalizeMsg struct {
	KeygenID          [32]byte
	KeyID             KeyID
	AccessStructureID AccessStructureID
}

// SignRequestMsg asks a set of devices to produce signature shares for a
// signing session, per spec.md section 4.3.
type SignRequestMsg struct {
	SessionID         [32]byte
	AccessStructureID AccessStructureID
	TaskKind          SignTaskKind
	PlainMessage      []byte
	NostrEvent        []byte
	BitcoinTxSummary  BitcoinTxSummary
	SigHashes         [][32]byte
	NonceAllocation   NonceRange
	// Commitments holds, per input index, every participating signer's
	// Round 1 nonce commitment (drawn from each device's previously-shipped
	// NonceOfferMsg pool), so a device can compute its Round 2 share
	// without a separate commitment-exchange round.
	Commitments map[int][]frost.NonceCommitment
}

// SignTaskKind tags which of spec.md's three SignTask variants a request
// carries.
type SignTaskKind string

const (
	SignTaskPlain    SignTaskKind = "plain"
	SignTaskNostr    SignTaskKind = "nostr"
	SignTaskBitcoin  SignTaskKind = "bitcoin"
)

// BitcoinTxSummary is the human-renderable summary of a Bitcoin SignTask a
// device displays before hold-to-confirm, per spec.md's confirmation
// binding invariant: amounts, destinations, and bip32 paths, never the raw
// transaction bytes.
type BitcoinTxSummary struct {
	Inputs  []BitcoinInputSummary
	Outputs []BitcoinOutputSummary
	FeeSats int64
}

// BitcoinInputSummary names one owned input's derivation path so the user
// can confirm which key the device is about to sign with.
type BitcoinInputSummary struct {
	Path       tweak.Path
	ValueSats  int64
}

// BitcoinOutputSummary names one destination and amount.
type BitcoinOutputSummary struct {
	Address   string
	ValueSats int64
}

// NonceRange names a contiguous block of nonce-stream indices reserved for
// one device's contribution to a signing session.
type NonceRange struct {
	StreamID nonce.StreamID
	Start    uint32
	End      uint32
}

// RequestHeldSharesMsg asks every connected device whether it holds a share
// with no known access structure (the restoration engine's "wait for
// recovery" flow).
type RequestHeldSharesMsg struct{}

// NewAccessStructureMsg lets the coordinator push a reconstructed access
// structure to a device after restoration (spec.md section 4.5's physical
// backup entry flow).
type NewAccessStructureMsg struct {
	KeyID             KeyID
	AccessStructureID AccessStructureID
	Threshold         int
	DeviceIndex       map[DeviceID]uint32
	Commitment        []curve.Point
	MasterAppkey      tweak.MasterAppkey
}

// VerifyAddressMsg asks a device to re-derive and display an address for
// visual confirmation, per spec.md section 4.4.
type VerifyAddressMsg struct {
	MasterAppkey tweak.MasterAppkey
	Path         tweak.Path
	Network      string
	Expected     string
}

// CheckShareMsg asks a device to confirm its stored share still matches a
// known polynomial commitment, without revealing the share itself.
type CheckShareMsg struct {
	AccessStructureID AccessStructureID
	Commitment        []curve.Point
}

// SendNameMsg assigns a human-readable label to a device, mirrored at the
// engine layer from the transport-level NamingMessage.
type SendNameMsg struct {
	Name string
}

// DeviceSendMessage is the top-level inbound record to a coordinator.
type DeviceSendMessage struct {
	From DeviceID
	Body DeviceSendBody
}

// DeviceBodyKind tags the variant held by a DeviceSendBody.
type DeviceBodyKind string

const (
	DeviceBodyCore     DeviceBodyKind = "core"
	DeviceBodyAnnounce DeviceBodyKind = "announce"
	DeviceBodyDebug    DeviceBodyKind = "debug"
	DeviceBodyMisc     DeviceBodyKind = "misc"
)

// DeviceSendBody is the tagged union of everything a device can send.
type DeviceSendBody struct {
	Kind     DeviceBodyKind
	Core     *DeviceToCoordinatorMessage
	Announce *AnnounceMsg
	Debug    *DebugMsg
	Misc     *CommsMiscMsg
}

// AnnounceMsg is the first message a device sends on connecting.
type AnnounceMsg struct {
	FirmwareDigest [32]byte
	RecoveryMode   bool
}

// DebugMsg carries a free-text diagnostic string, never parsed by the
// engine.
type DebugMsg struct {
	Message string
}

// CommsMiscKind enumerates CommsMisc's small acknowledgement variants.
type CommsMiscKind string

const (
	MiscEraseConfirmed        CommsMiscKind = "erase_confirmed"
	MiscAckUpgradeMode        CommsMiscKind = "ack_upgrade_mode"
	MiscDisplayBackupConfirmed CommsMiscKind = "display_backup_confirmed"
)

// CommsMiscMsg wraps one CommsMiscKind acknowledgement.
type CommsMiscMsg struct {
	Kind CommsMiscKind
}

// DeviceToCoordinatorMessage is the sum over every message a device sends
// back in response to a CoordinatorToDeviceMessage.
type DeviceToCoordinatorMessage struct {
	Kind                 DeviceCoreKind
	KeygenContribution   *dkg.Contribution
	KeygenAck            *KeygenAckMsg
	NonceOffer           *NonceOfferMsg
	SignatureShares      *SignatureSharesMsg
	HeldShare            *HeldShareMsg
	VerifyAddressResult  *VerifyAddressResultMsg
	CheckShareResult     *CheckShareResultMsg
	BackupDisplayed      *BackupDisplayedMsg
	InvalidMessage       *InvalidMessageMsg
}

// DeviceCoreKind tags the variant held by a DeviceToCoordinatorMessage.
type DeviceCoreKind string

const (
	DeviceKeygenContribution DeviceCoreKind = "keygen_contribution"
	DeviceKeygenAck          DeviceCoreKind = "keygen_ack"
	DeviceNonceOffer         DeviceCoreKind = "nonce_offer"
	DeviceSignatureShares    DeviceCoreKind = "signature_shares"
	DeviceHeldShare          DeviceCoreKind = "held_share"
	DeviceVerifyAddressOK    DeviceCoreKind = "verify_address_result"
	DeviceCheckShareOK       DeviceCoreKind = "check_share_result"
	DeviceBackupDisplayed    DeviceCoreKind = "backup_displayed"
	DeviceInvalidMessage     DeviceCoreKind = "invalid_message"
)

// KeygenAckMsg is round 3's per-device confirmation, per spec.md section
// 4.2.
type KeygenAckMsg struct {
	KeygenID    [32]byte
	SessionHash [32]byte
	Signature   bip340.Signature
}

// NonceOfferMsg is a batch of freshly-ratcheted public nonces a device
// ships independently of any signing session, per spec.md section 4.1's
// public-nonce replenishment.
type NonceOfferMsg struct {
	AccessStructureID AccessStructureID
	StreamID          nonce.StreamID
	Start             uint32
	Commitments       []frost.NonceCommitment
}

// SignatureSharesMsg carries one device's signature shares for every input
// of a signing session, per spec.md section 4.3.
type SignatureSharesMsg struct {
	SessionID [32]byte
	Signer    frost.ShareIndex
	Shares    map[int]*big.Int // input index -> signature share
}

// HeldShareMsg streams a restored share to the coordinator during physical
// backup entry, per spec.md section 4.5. Unlike every other share-bearing
// message, ShareValue genuinely carries the raw secret scalar: the device
// holding it is blank and not yet a member of any access structure, so
// there is no verification-share machinery yet for it to lean on, and
// restore.ReconstructAccessStructure's consistency check has no other way
// to confirm t held shares lie on one polynomial before any device trusts
// the reconstructed group key.
type HeldShareMsg struct {
	ShareIndex         uint32
	ShareValue         *big.Int
	Commitment         []curve.Point // this device cannot know the full polynomial, only its own evaluation point; Commitment is nil here and filled in once the coordinator reconstructs it
	AccessStructureRef *AccessStructureID
}

// VerifyAddressResultMsg reports whether a device's re-derivation matched
// the coordinator-supplied address.
type VerifyAddressResultMsg struct {
	Matched bool
}

// CheckShareResultMsg reports whether a device's stored share still
// matches the given commitment.
type CheckShareResultMsg struct {
	OK bool
}

// BackupDisplayedMsg confirms a device displayed (and the user confirmed)
// its physical backup words.
type BackupDisplayedMsg struct {
	AccessStructureID AccessStructureID
	ShareIndex        uint32
}

// InvalidMessageMsg lets a device report a detected protocol violation back
// to the coordinator (e.g. spec.md section 8 scenario 6, "coordinator told
// us we are using a different polynomial than we expected") rather than
// silently dropping the connection.
type InvalidMessageMsg struct {
	Reason string
}
