// Package backup implements the physical backup string format
// frost[<share_index>]1<24 words>, layering a share-index prefix and a
// "1" (the only backup codec version defined so far) over the standard
// BIP39 mnemonic encoding provided by github.com/tyler-smith/go-bip39. A
// FROST share scalar is exactly 256 bits, which BIP39's 24-word/8-bit-
// checksum mnemonic form already exists to encode, so the codec only needs
// to own the parts the library doesn't: the share-index tag and the
// envelope syntax.
package backup

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/frostsnap/engine/curve"
	"github.com/frostsnap/engine/frosterr"
)

const codecVersion = "1"

// MaxShareIndex is the largest share index Encode and Decode accept. The
// index is written in decimal inside the frost[...] prefix; it is not
// carried in a BIP39 word.
const MaxShareIndex = 2047

var envelopePattern = regexp.MustCompile(`^frost\[(\d+)\](\d)(.*)$`)

// Encode renders a share as its physical backup string.
func Encode(shareIndex uint32, shareValue *big.Int) (string, error) {
	if shareIndex == 0 || shareIndex > MaxShareIndex {
		return "", &frosterr.ShareBackupError{Kind: frosterr.InvalidShareIndex, Detail: fmt.Sprintf("%d", shareIndex)}
	}
	entropy := make([]byte, 32)
	b := curve.ScalarToBytes32(shareValue)
	copy(entropy, b[:])

	mnemonic, err := bip39.NewMnemonic(entropy, bip39.GetWordList())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("frost[%d]%s%s", shareIndex, codecVersion, mnemonic), nil
}

// Decode parses a physical backup string back into a share index and value,
// validating the BIP39 checksum along the way.
func Decode(s string) (shareIndex uint32, shareValue *big.Int, err error) {
	m := envelopePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, nil, &frosterr.ShareBackupError{Kind: frosterr.InvalidShareIndex, Detail: "backup string does not match frost[<index>]<version><words>"}
	}
	idx, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, nil, &frosterr.ShareBackupError{Kind: frosterr.InvalidShareIndex, Detail: m[1]}
	}
	if idx == 0 || idx > MaxShareIndex {
		return 0, nil, &frosterr.ShareBackupError{Kind: frosterr.InvalidShareIndex, Detail: fmt.Sprintf("%d is outside 1..=%d", idx, MaxShareIndex)}
	}
	if m[2] != codecVersion {
		return 0, nil, &frosterr.ShareBackupError{Kind: frosterr.InvalidBip39Word, Detail: "unsupported backup codec version " + m[2]}
	}

	mnemonic := strings.TrimSpace(m[3])
	words := strings.Fields(mnemonic)
	if len(words) < 24 {
		return 0, nil, &frosterr.ShareBackupError{Kind: frosterr.NotEnoughWords, Detail: fmt.Sprintf("got %d words", len(words))}
	}
	if len(words) > 24 {
		return 0, nil, &frosterr.ShareBackupError{Kind: frosterr.TooManyWords, Detail: fmt.Sprintf("got %d words", len(words))}
	}

	if !bip39.IsMnemonicValid(mnemonic) {
		return 0, nil, &frosterr.ShareBackupError{Kind: frosterr.WordsChecksumFailed}
	}

	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return 0, nil, &frosterr.ShareBackupError{Kind: frosterr.InvalidBip39Word, Detail: err.Error()}
	}

	return uint32(idx), new(big.Int).SetBytes(entropy), nil
}
