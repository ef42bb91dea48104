package tweak

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/frostsnap/engine/curve"
)

func TestDeriveAddressKeyDeterministic(t *testing.T) {
	master := MasterAppkey{
		Point:     curve.EcBaseMul(curve.SampleScalar()),
		ChainCode: [32]byte{1, 2, 3, 4},
	}
	path := Path{App: AppBitcoin, Account: AccountStandard, Keychain: KeychainExternal, AddressIndex: 0}

	k1, err := DeriveAddressKey(master, path)
	if err != nil {
		t.Fatalf("DeriveAddressKey: %v", err)
	}
	k2, err := DeriveAddressKey(master, path)
	if err != nil {
		t.Fatalf("DeriveAddressKey: %v", err)
	}
	if !curve.Equal(k1, k2) {
		t.Fatalf("expected deterministic derivation for the same path")
	}

	otherPath := path
	otherPath.AddressIndex = 1
	k3, err := DeriveAddressKey(master, otherPath)
	if err != nil {
		t.Fatalf("DeriveAddressKey: %v", err)
	}
	if curve.Equal(k1, k3) {
		t.Fatalf("expected different address indices to derive different keys")
	}
}

func TestVerifyAddressRoundTrip(t *testing.T) {
	master := MasterAppkey{
		Point:     curve.EcBaseMul(curve.SampleScalar()),
		ChainCode: [32]byte{5, 6, 7, 8},
	}
	path := Path{App: AppBitcoin, Keychain: KeychainExternal, AddressIndex: 3}

	key, err := DeriveAddressKey(master, path)
	if err != nil {
		t.Fatalf("DeriveAddressKey: %v", err)
	}
	addr, err := Address(key, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("Address: %v", err)
	}

	ok, err := VerifyAddress(master, path, &chaincfg.MainNetParams, addr.EncodeAddress())
	if err != nil {
		t.Fatalf("VerifyAddress: %v", err)
	}
	if !ok {
		t.Fatalf("expected VerifyAddress to confirm the address it was just derived from")
	}

	ok, err = VerifyAddress(master, path, &chaincfg.MainNetParams, "bc1qnotarealaddress000000000000000000000")
	if err != nil {
		t.Fatalf("VerifyAddress: %v", err)
	}
	if ok {
		t.Fatalf("expected VerifyAddress to reject a mismatched address")
	}
}
