// Package mutation implements spec.md section 4.6's append-only event log
// together with the durable A/B share slot: every state change a device or
// coordinator makes is either appended to the log or, for the one record
// that must survive a torn write no matter what, written to both halves of
// an A/B slot before the old half is overwritten. This generalises the
// original Rust implementation's NorFlashLog/AbSlot pair to a file-backed
// store, following the teacher's preference for small, composable types
// over a single do-everything store.
package mutation

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/frostsnap/engine/frosterr"
)

// Log is a length-prefixed, append-only sequence of CBOR-encoded records.
// Each entry is a four-byte little-endian length prefix followed by that
// many bytes of CBOR, mirroring the original NorFlashLog's word-aligned,
// length-prefixed bincode framing without the flash-specific word
// alignment a general-purpose filesystem doesn't need.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// OpenLog opens (creating if necessary) the log file at path for appending
// and subsequent replay.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &Log{file: f}, nil
}

// Push appends one record to the log, fsyncing before returning so a crash
// immediately afterward cannot lose it.
func (l *Log) Push(record any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	body, err := cbor.Marshal(record)
	if err != nil {
		return err
	}
	var lengthPrefix [4]byte
	binary.LittleEndian.PutUint32(lengthPrefix[:], uint32(len(body)))

	if _, err := l.file.Write(lengthPrefix[:]); err != nil {
		return err
	}
	if _, err := l.file.Write(body); err != nil {
		return err
	}
	return l.file.Sync()
}

// Replay decodes every record in the log in append order, calling decode
// for each one. decode is given the raw CBOR bytes so callers can dispatch
// on a tagged-union kind before unmarshalling into the concrete type.
func (l *Log) Replay(decode func(raw []byte) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(l.file)
	for {
		var lengthPrefix [4]byte
		if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		length := binary.LittleEndian.Uint32(lengthPrefix[:])
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return &frosterr.StorageCorruption{Detail: fmt.Sprintf("truncated record body: %v", err)}
		}
		if err := decode(body); err != nil {
			return err
		}
	}
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
