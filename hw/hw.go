// Package hw declares the thin collaborator interfaces the engine depends
// on but never implements itself: durable storage, the device's hardware
// HMAC peripheral, a source of randomness, and the serial transport. Per
// spec.md section 1, these are "external collaborators whose interfaces
// only are specified"; concrete implementations (a real flash driver, a
// file-backed simulator, a USB-serial framer) live outside this module.
// Grounded on the teacher's small-interface style (frost/ciphersuite.go's
// Curve interface) rather than one large host interface.
package hw

import "io"

// EventLog is the durable append-only store backing a mutation.Log,
// narrowed to the two operations the engine actually calls.
type EventLog interface {
	Push(record any) error
	Replay(decode func(raw []byte) error) error
}

// Slot is the durable A/B store backing a mutation.ABSlot: a share slot or
// one nonce stream's root-seed slot, per spec.md section 4.1 and 4.6.
type Slot interface {
	Write(value any) error
	Read(dst any) (present bool, err error)
}

// Hmac is the exclusive hardware HMAC peripheral a device uses to derive
// its share-at-rest encryption key, per spec.md section 5's "Shared
// resources" note that this peripheral is accessed through exactly one
// collaborator interface. Named DeviceSymmetricKeyGen in spec.md; Sum is
// its sole call.
type Hmac interface {
	Sum(msg []byte) [32]byte
}

// RNG is a source of cryptographically secure randomness. In production
// this is backed by a hardware TRNG; tests pass crypto/rand or a
// deterministic reader.
type RNG = io.Reader

// Transport is the serial-framed link to a single peer. It is responsible
// for byte-level framing and delivery ordering only (spec.md section 5:
// "the engine assumes [in-order delivery] by the transport"); it knows
// nothing about message contents.
type Transport interface {
	Send(frame []byte) error
	Recv() (frame []byte, err error)
	Close() error
}

// Clock is an optional, host-supplied source of wall-clock time. The
// engine itself is clock-free (spec.md section 5); only a host's own
// timeout logic ever calls this.
type Clock interface {
	NowUnix() int64
}
