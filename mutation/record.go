package mutation

// Kind tags every record this package persists, the way the original
// implementation's `KeyMutation` enum and this codebase's `frost.Signer`
// iota-valued state constants both use a small closed tag set rather than
// a type switch over interface{} alone.
type Kind string

const (
	KindNewKey                 Kind = "new_key"
	KindNewAccessStructure     Kind = "new_access_structure"
	KindSaveShare              Kind = "save_share"
	KindNonceStreamReplenished Kind = "nonce_stream_replenished"
	KindNewSigningSession      Kind = "new_signing_session"
	KindGotSignatureShares     Kind = "got_signature_shares"
	KindCloseSignSession       Kind = "close_sign_session"
)

// Record is one entry in a mutation.Log: a tagged union over the state
// changes a device or coordinator can durably record, mirroring the
// original Rust `KeyMutation` enum's NewKey/NewAccessStructure/SaveShare/
// NewSigningSession/GotSignatureShares/CloseSignSession cases (spec.md
// section 3's MutationRecord), generalised with a nonce-stream-replenished
// case this codebase's nonce package needs that the original folds into
// its flash-specific nonce slot bookkeeping instead of the shared mutation
// log.
type Record struct {
	Kind Kind `cbor:"kind"`

	NewKey             *NewKey             `cbor:"new_key,omitempty"`
	NewAccessStructure *NewAccessStructure `cbor:"new_access_structure,omitempty"`
	SaveShare          *SaveShare          `cbor:"save_share,omitempty"`
	NonceReplenished   *NonceReplenished   `cbor:"nonce_replenished,omitempty"`
	NewSigningSession  *NewSigningSession  `cbor:"new_signing_session,omitempty"`
	GotSignatureShares *GotSignatureShares `cbor:"got_signature_shares,omitempty"`
	CloseSignSession   *CloseSignSession   `cbor:"close_sign_session,omitempty"`
}

// NewKey records that a key (an app-level wallet identity) was created.
type NewKey struct {
	KeyID   [32]byte
	KeyName string
	Purpose string
}

// NewAccessStructure records that a DKG finished and produced a new
// (threshold, group-key) access structure under an existing key.
type NewAccessStructure struct {
	AccessStructureID [32]byte
	Threshold         int
}

// SaveShare records a device persisting its secret key share after a
// successful DKG or restoration. The device writes it when the coordinator
// finalizes the DKG, after the device has acknowledged the session hash;
// callers route it through an ABSlot rather than the append-only Log.
type SaveShare struct {
	AccessStructureID [32]byte
	ShareIndex        uint32
	EncryptedShare    []byte // share.AtRest, CBOR-opaque here
}

// NonceReplenished records a nonce stream's current ratchet state: the seed
// material for the next index Reserve will hand out, and that index. Each
// replenishment overwrites the previous record for the same StreamID rather
// than appending beside it -- the whole point of the ratchet is that a
// restored device never has access to seed material for an index it has
// already reserved past, so persisting its superseded seed would defeat it.
type NonceReplenished struct {
	StreamID  [16]byte
	Seed      [32]byte
	NextIndex uint32
}

// NewSigningSession records that the coordinator started a signing session,
// persisted before any nonce request is sent so a restart can recognise the
// session rather than accidentally starting a duplicate one (spec.md
// section 4.3).
type NewSigningSession struct {
	SessionID         [32]byte
	AccessStructureID [32]byte
	TxID              [32]byte
	Devices           []string
}

// GotSignatureShares records that the coordinator received and verified a
// device's signature shares for a session, so a restart mid-session does
// not need the device to resend what was already durably received.
type GotSignatureShares struct {
	SessionID [32]byte
	DeviceID  string
}

// CloseSignSession records that a signing session reached a terminal state
// (finalised or aborted), so the coordinator's session table can be
// compacted without replaying completed sessions' intermediate shares.
type CloseSignSession struct {
	SessionID [32]byte
	Finalised bool
}
