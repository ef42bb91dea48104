package mutation

import (
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/frostsnap/engine/frosterr"
)

// abSlotRecord is what actually gets written to each half of an ABSlot: a
// monotonic index (so the reader can tell which half is newest) followed by
// the CBOR-encoded value, mirroring the original Rust SlotValue{index, value}.
type abSlotRecord struct {
	Index uint32
	Value []byte
}

// ABSlot durably stores a single value across two files, writing the new
// value to the currently-older half first and the currently-newer half
// second -- so if the process dies mid-write, the half untouched this round
// still holds a complete, previously-valid record. A reader trusts whichever
// half carries the higher index.
//
// This is the file-backed analogue of the original implementation's
// NOR-flash AbSlot, which erases and rewrites one of two flash sectors per
// write for the same reason: a single slot can be torn by a power cut
// mid-erase, but both slots being torn simultaneously does not happen.
type ABSlot struct {
	pathA, pathB string
	index        uint32
	haveIndex    bool
}

// OpenABSlot opens (or initializes) an A/B slot backed by the two given
// file paths.
func OpenABSlot(pathA, pathB string) (*ABSlot, error) {
	s := &ABSlot{pathA: pathA, pathB: pathB}
	_, index, err := s.readNewest()
	if err != nil {
		return nil, err
	}
	if index != nil {
		s.index = *index
		s.haveIndex = true
	}
	return s, nil
}

// Write durably stores value, first to the half that currently holds the
// older (or no) record, then to the other half.
func (s *ABSlot) Write(value any) error {
	body, err := cbor.Marshal(value)
	if err != nil {
		return err
	}

	nextIndex := uint32(0)
	if s.haveIndex {
		nextIndex = s.index + 1
	}
	record := abSlotRecord{Index: nextIndex, Value: body}
	encoded, err := cbor.Marshal(record)
	if err != nil {
		return err
	}

	olderPath, newerPath, err := s.orderedByAge()
	if err != nil {
		return err
	}
	if err := writeAtomically(olderPath, encoded); err != nil {
		return err
	}
	if err := writeAtomically(newerPath, encoded); err != nil {
		return err
	}

	s.index = nextIndex
	s.haveIndex = true
	return nil
}

// Read returns the most recently written value, if any, by unmarshalling
// raw into dst via CBOR.
func (s *ABSlot) Read(dst any) (present bool, err error) {
	body, index, err := s.readNewest()
	if err != nil {
		return false, err
	}
	if body == nil {
		return false, nil
	}
	s.index = *index
	s.haveIndex = true
	if err := cbor.Unmarshal(body, dst); err != nil {
		return false, &frosterr.StorageCorruption{Detail: err.Error()}
	}
	return true, nil
}

// readNewest returns the value bytes and index of whichever half has the
// higher index, or (nil, nil, nil) if neither half has ever been written.
func (s *ABSlot) readNewest() ([]byte, *uint32, error) {
	a, aOK, err := readSlotFile(s.pathA)
	if err != nil {
		return nil, nil, err
	}
	b, bOK, err := readSlotFile(s.pathB)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case aOK && bOK:
		if b.Index > a.Index {
			return b.Value, &b.Index, nil
		}
		return a.Value, &a.Index, nil
	case aOK:
		return a.Value, &a.Index, nil
	case bOK:
		return b.Value, &b.Index, nil
	default:
		return nil, nil, nil
	}
}

// orderedByAge returns (older, newer) paths: writes always land on the
// older half first.
func (s *ABSlot) orderedByAge() (older, newer string, err error) {
	a, aOK, err := readSlotFile(s.pathA)
	if err != nil {
		return "", "", err
	}
	b, bOK, err := readSlotFile(s.pathB)
	if err != nil {
		return "", "", err
	}
	switch {
	case !aOK:
		return s.pathA, s.pathB, nil
	case !bOK:
		return s.pathB, s.pathA, nil
	case a.Index <= b.Index:
		return s.pathA, s.pathB, nil
	default:
		return s.pathB, s.pathA, nil
	}
}

func readSlotFile(path string) (abSlotRecord, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return abSlotRecord{}, false, nil
		}
		return abSlotRecord{}, false, err
	}
	if len(raw) == 0 {
		return abSlotRecord{}, false, nil
	}
	var record abSlotRecord
	if err := cbor.Unmarshal(raw, &record); err != nil {
		return abSlotRecord{}, false, &frosterr.StorageCorruption{Detail: "slot file " + path + ": " + err.Error()}
	}
	return record, true, nil
}

// writeAtomically writes data to a temp file in the same directory as path
// and renames it into place, so readers never observe a partially-written
// slot file.
func writeAtomically(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
