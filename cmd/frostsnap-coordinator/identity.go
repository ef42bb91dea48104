package main

import (
	"math/big"
	"os"

	"github.com/frostsnap/engine/curve"
)

// loadOrCreateCoordinatorSecret persists the coordinator's own long-term
// identity key (used only to announce itself to devices, never to hold a
// share) next to its event store, so repeated CLI invocations present the
// same coordinator identity to devices that have already announced it.
func loadOrCreateCoordinatorSecret(path string) *big.Int {
	if raw, err := os.ReadFile(path); err == nil {
		return new(big.Int).SetBytes(raw)
	}
	secret := curve.SampleScalar()
	_ = os.WriteFile(path, secret.Bytes(), 0o600)
	return secret
}
