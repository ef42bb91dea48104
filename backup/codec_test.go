package backup

import (
	"math/big"
	"strings"
	"testing"

	"github.com/frostsnap/engine/curve"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	share := curve.SampleScalar()
	s, err := Encode(3, share)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasPrefix(s, "frost[3]1") {
		t.Fatalf("unexpected envelope: %s", s)
	}

	idx, value, err := Decode(s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if idx != 3 {
		t.Fatalf("share index mismatch: got %d", idx)
	}
	if value.Cmp(share) != 0 {
		t.Fatalf("share value mismatch")
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	s, err := Encode(1, big.NewInt(42))
	if err != nil {
		t.Fatal(err)
	}
	words := strings.Split(s[len("frost[1]1"):], " ")
	// Swapping the last two words keeps the word list valid but corrupts
	// the checksum almost always.
	words[len(words)-1], words[len(words)-2] = words[len(words)-2], words[len(words)-1]
	corrupted := "frost[1]1" + strings.Join(words, " ")
	if corrupted == s {
		t.Skip("swap produced an identical mnemonic")
	}
	if _, _, err := Decode(corrupted); err == nil {
		t.Fatalf("expected corrupted mnemonic to fail")
	}
}

func TestDecodeRejectsMalformedEnvelope(t *testing.T) {
	if _, _, err := Decode("not a backup string"); err == nil {
		t.Fatalf("expected malformed envelope to be rejected")
	}
}

func TestDecodeRejectsWrongWordCount(t *testing.T) {
	if _, _, err := Decode("frost[1]1 abandon abandon abandon"); err == nil {
		t.Fatalf("expected short mnemonic to be rejected")
	}
}

func TestShareIndexBounds(t *testing.T) {
	if _, err := Encode(0, big.NewInt(1)); err == nil {
		t.Fatalf("expected share index 0 to be rejected")
	}
	if _, err := Encode(MaxShareIndex+1, big.NewInt(1)); err == nil {
		t.Fatalf("expected share index above %d to be rejected", MaxShareIndex)
	}
	if _, err := Encode(MaxShareIndex, big.NewInt(1)); err != nil {
		t.Fatalf("Encode at max index: %v", err)
	}
}
