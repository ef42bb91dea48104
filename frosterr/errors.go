// Package frosterr defines the closed error taxonomy shared by every engine
// package. Callers use errors.As/errors.Is to dispatch rather than matching
// on strings.
package frosterr

import "fmt"

// InvalidMessage indicates a received message failed structural or
// cryptographic validation (bad signature, malformed fields, unknown sender).
type InvalidMessage struct {
	Reason string
}

func (e *InvalidMessage) Error() string { return "invalid message: " + e.Reason }

// WrongKind indicates a message arrived with a kind tag that does not match
// the session or phase that is currently active.
type WrongKind struct {
	Expected, Got string
}

func (e *WrongKind) Error() string {
	return fmt.Sprintf("wrong message kind: expected %s, got %s", e.Expected, e.Got)
}

// InsufficientNonces indicates a signing session could not be started because
// a device's nonce stream has fewer unused, reserved nonces than required.
type InsufficientNonces struct {
	StreamID string
	Have     int
	Need     int
}

func (e *InsufficientNonces) Error() string {
	return fmt.Sprintf("insufficient nonces on stream %s: have %d, need %d", e.StreamID, e.Have, e.Need)
}

// ShareBackupKind enumerates the ways a physical backup can fail to parse.
type ShareBackupKind int

const (
	InvalidBip39Word ShareBackupKind = iota
	WordsChecksumFailed
	PolyChecksumFailed
	InvalidShareIndex
	NotEnoughWords
	TooManyWords
)

func (k ShareBackupKind) String() string {
	switch k {
	case InvalidBip39Word:
		return "invalid bip39 word"
	case WordsChecksumFailed:
		return "words checksum failed"
	case PolyChecksumFailed:
		return "polynomial checksum failed"
	case InvalidShareIndex:
		return "invalid share index"
	case NotEnoughWords:
		return "not enough words"
	case TooManyWords:
		return "too many words"
	default:
		return "unknown backup error"
	}
}

// ShareBackupError wraps a ShareBackupKind with the offending detail.
type ShareBackupError struct {
	Kind   ShareBackupKind
	Detail string
}

func (e *ShareBackupError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

// DeviceDisconnected indicates the transport lost contact with a device
// mid-protocol. The session persists in the outbox until the device returns
// or the coordinator cancels it.
type DeviceDisconnected struct {
	DeviceID string
}

func (e *DeviceDisconnected) Error() string { return "device disconnected: " + e.DeviceID }

// HardwareFault indicates an external collaborator (RNG, HMAC peripheral,
// flash) reported an error the engine cannot recover from on its own.
type HardwareFault struct {
	Component string
	Err       error
}

func (e *HardwareFault) Error() string { return fmt.Sprintf("hardware fault in %s: %v", e.Component, e.Err) }
func (e *HardwareFault) Unwrap() error { return e.Err }

// StorageCorruption indicates the mutation log or a nonce slot failed a
// fingerprint or ordering check on load. It is never recoverable in place.
type StorageCorruption struct {
	Detail string
}

func (e *StorageCorruption) Error() string { return "storage corruption: " + e.Detail }
