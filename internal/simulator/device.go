// Package simulator provides a file-backed stand-in for a Frostsnap
// hardware device: its durable event log, its A/B share slot, and its
// HMAC peripheral are all realised as local files instead of flash and a
// secure element. It exists purely so cmd/frostsnap-coordinator can run end
// to end (keygen, signing, backup) against local processes when no real
// device hardware is attached, the same role the teacher's in-memory
// channel-connected members play in its own protocol_test.go, generalised
// here to a durable, restart-surviving form per spec.md section 6's call
// for "a file-based device flash simulator for local testing."
package simulator

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/device"
	"github.com/frostsnap/engine/mutation"
)

// Device is one simulated hardware device: a directory holding its
// long-term identity secret, its event log, its share slot, and its HMAC
// key, plus the device.Engine wrapping them.
type Device struct {
	Engine *device.Engine
	Dir    string

	log  *mutation.Log
	slot *mutation.ABSlot
}

// Open creates dir if necessary and opens (or initialises) a simulated
// device rooted there. Calling Open twice on the same dir reconstructs the
// same device identity, since the identity secret is itself persisted.
func Open(dir string, logger *logrus.Entry) (*Device, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	secret, err := loadOrCreateSecret(filepath.Join(dir, "identity.key"))
	if err != nil {
		return nil, fmt.Errorf("device identity: %w", err)
	}
	hmacKey, err := loadOrCreateKey(filepath.Join(dir, "hmac.key"))
	if err != nil {
		return nil, fmt.Errorf("hmac peripheral: %w", err)
	}
	eventLog, err := mutation.OpenLog(filepath.Join(dir, "events.log"))
	if err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}
	shareSlot, err := mutation.OpenABSlot(filepath.Join(dir, "share.a"), filepath.Join(dir, "share.b"))
	if err != nil {
		return nil, fmt.Errorf("share slot: %w", err)
	}

	eng := device.NewEngine(secret, eventLog, shareSlot, fileHmac{key: hmacKey}, rand.Reader, logger)
	return &Device{Engine: eng, Dir: dir, log: eventLog, slot: shareSlot}, nil
}

// Close releases the simulated device's open file handles.
func (d *Device) Close() error {
	return d.log.Close()
}

// fileHmac realises hw.Hmac with a locally-persisted key instead of a real
// hardware HMAC peripheral.
type fileHmac struct{ key [32]byte }

func (h fileHmac) Sum(msg []byte) [32]byte {
	return sha256.Sum256(append(append([]byte{}, h.key[:]...), msg...))
}

func loadOrCreateSecret(path string) (*big.Int, error) {
	if raw, err := os.ReadFile(path); err == nil {
		return new(big.Int).SetBytes(raw), nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	secret := curve.SampleScalar()
	if err := os.WriteFile(path, secret.Bytes(), 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

func loadOrCreateKey(path string) ([32]byte, error) {
	var key [32]byte
	if raw, err := os.ReadFile(path); err == nil && len(raw) == 32 {
		copy(key[:], raw)
		return key, nil
	} else if err != nil && !os.IsNotExist(err) {
		return key, err
	}
	if _, err := rand.Read(key[:]); err != nil {
		return key, err
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return key, err
	}
	return key, nil
}
