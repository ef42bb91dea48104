package share

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/frostsnap/engine/frosterr"
)

// SymmetricKey is a 32-byte AEAD key, typically derived from a hardware
// HMAC peripheral keyed by device-unique secret material (see package hw's
// HMAC collaborator) rather than stored directly in flash.
type SymmetricKey [32]byte

// AtRest is an authenticated ciphertext protecting a fixed-size plaintext
// record (a share, a nonce-stream seed) while it sits in flash, matching the
// original Rust symmetric_encryption.rs's ChaCha20Poly1305-based
// Ciphertext<N, T>.
type AtRest struct {
	Nonce      [chacha20poly1305.NonceSize]byte
	Ciphertext []byte // includes the 16-byte Poly1305 tag
}

// Seal encrypts plaintext under key, generating a fresh random nonce.
func Seal(key SymmetricKey, plaintext []byte) (AtRest, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return AtRest{}, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return AtRest{}, err
	}
	ciphertext := aead.Seal(nil, nonce[:], plaintext, nil)
	return AtRest{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Open decrypts and authenticates the ciphertext under key. A failure here
// is reported to the caller as frosterr.StorageCorruption: at-rest
// ciphertext that fails to authenticate means the flash partition backing
// it is corrupt or has been tampered with.
func (a AtRest) Open(key SymmetricKey) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, a.Nonce[:], a.Ciphertext, nil)
	if err != nil {
		return nil, &frosterr.StorageCorruption{Detail: "share: at-rest ciphertext failed to authenticate"}
	}
	return plaintext, nil
}

// DeriveKey derives a SymmetricKey for a given purpose label from a
// 32-byte device master secret via a single HMAC-SHA256 evaluation. The
// actual HMAC computation is delegated to the hw.Hmac collaborator so this
// package never touches the raw device secret.
func DeriveKey(hmacSum func(msg []byte) [32]byte, purpose string) SymmetricKey {
	label := make([]byte, 0, len(purpose)+4)
	label = binary.BigEndian.AppendUint32(label, uint32(len(purpose)))
	label = append(label, purpose...)
	return SymmetricKey(hmacSum(label))
}
