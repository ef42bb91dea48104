package share

import (
	"crypto/rand"
	"crypto/sha256"
	"reflect"
	"testing"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/internal/testutils"
)

func TestEncryptedShareRoundTrip(t *testing.T) {
	recipientSecret := curve.SampleScalar()
	recipientPub := curve.EcBaseMul(recipientSecret)

	shareValue := curve.SampleScalar()

	sealed, err := SealShare(recipientPub, rand.Reader, shareValue)
	if err != nil {
		t.Fatalf("SealShare: %v", err)
	}

	opened, err := sealed.Open(recipientSecret)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	testutils.AssertBigIntsEqual(t, "recovered share value", shareValue, opened)
}

func TestEncryptedShareCiphertextRandomized(t *testing.T) {
	recipientPub := curve.EcBaseMul(curve.SampleScalar())
	shareValue := curve.SampleScalar()

	a, err := SealShare(recipientPub, rand.Reader, shareValue)
	if err != nil {
		t.Fatal(err)
	}
	b, err := SealShare(recipientPub, rand.Reader, shareValue)
	if err != nil {
		t.Fatal(err)
	}

	if reflect.DeepEqual(a, b) {
		t.Fatalf("expected two independently sealed envelopes to differ")
	}
}

func TestEncryptedShareWrongKeyFails(t *testing.T) {
	recipientPub := curve.EcBaseMul(curve.SampleScalar())
	wrongSecret := curve.SampleScalar()
	shareValue := curve.SampleScalar()

	sealed, err := SealShare(recipientPub, rand.Reader, shareValue)
	if err != nil {
		t.Fatal(err)
	}

	opened, err := sealed.Open(wrongSecret)
	if err != nil {
		t.Fatalf("Open with wrong key should not itself error: %v", err)
	}
	if opened.Cmp(shareValue) == 0 {
		t.Fatalf("decrypting with the wrong key should not recover the original share")
	}
}

func TestAtRestRoundTrip(t *testing.T) {
	var key SymmetricKey
	copy(key[:], sha256.New().Sum([]byte("test key material")))

	plaintext := []byte("a secret share sitting in flash")
	sealed, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := sealed.Open(key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testutils.AssertStringsEqual(t, "recovered plaintext", string(plaintext), string(opened))
}

func TestAtRestTamperedCiphertextFails(t *testing.T) {
	var key SymmetricKey
	copy(key[:], sha256.New().Sum([]byte("test key material")))

	sealed, err := Seal(key, []byte("a secret share"))
	if err != nil {
		t.Fatal(err)
	}
	sealed.Ciphertext[0] ^= 0xFF

	if _, err := sealed.Open(key); err == nil {
		t.Fatalf("expected tampered ciphertext to fail authentication")
	}
}
