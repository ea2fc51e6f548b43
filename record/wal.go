// Write-ahead log, spec.md §4.A "Write-ahead log (WAL)": a sidecar file
// recording the initial file size followed by (offset, length,
// original-bytes) pre-images of every byte range a transaction is about
// to overwrite. Commit truncates it; abort (or crash recovery) replays it
// in reverse and truncates the data file back to the recorded size.
package record

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
)

type walEntry struct {
	offset   uint64
	original []byte
}

// wal is private to a single open transaction on one collection, per
// spec.md §5 "Shared resources": "The WAL file is append-only during a
// transaction; its state is private to the single outstanding
// transaction (per collection...)."
type wal struct {
	mu       sync.Mutex // lock level 6
	f        *os.File
	path     string
	initSize int64
	entries  []walEntry
}

func openWAL(path string) (*wal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &wal{f: f, path: path}, nil
}

// begin records the file size at transaction start and writes it as the
// WAL's leading u64.
func (w *wal) begin(fileSize int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initSize = fileSize
	w.entries = nil
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(fileSize))
	_, err := w.f.Write(hdr[:])
	return err
}

// journal appends the pre-image of [offset, offset+len(original)) to the
// log, before the caller overwrites that range. Ranges entirely past the
// recorded initial file size are skipped — they didn't exist at begin.
func (w *wal) journal(offset int64, original []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset >= w.initSize {
		return nil
	}
	if offset+int64(len(original)) > w.initSize {
		original = original[:w.initSize-offset]
	}

	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(offset))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(original)))
	if _, err := w.f.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.f.Write(original); err != nil {
		return err
	}
	w.entries = append(w.entries, walEntry{offset: uint64(offset), original: original})
	return nil
}

// commit discards the log: the transaction's writes stand.
func (w *wal) commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
	return w.f.Truncate(0)
}

// replay restores target to the state recorded at begin by writing back
// every pre-image in reverse order (last-written wins), then truncates
// target to the recorded initial size.
func (w *wal) replay(target *os.File) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.entries) - 1; i >= 0; i-- {
		e := w.entries[i]
		if _, err := target.WriteAt(e.original, int64(e.offset)); err != nil {
			return err
		}
	}
	if err := target.Truncate(w.initSize); err != nil {
		return err
	}
	return w.f.Truncate(0)
}

// loadWAL reconstructs entries and initSize from the sidecar file,
// used by crash recovery (spec.md: "On open, if the opened-dirty flag is
// set, a crash is assumed; the WAL is replayed as an abort").
func loadWAL(path string) (*wal, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	w := &wal{f: f, path: path}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, false, err
	}
	if len(data) < 8 {
		return w, true, nil
	}
	w.initSize = int64(binary.LittleEndian.Uint64(data[:8]))
	pos := 8
	for pos+12 <= len(data) {
		off := binary.LittleEndian.Uint64(data[pos : pos+8])
		length := binary.LittleEndian.Uint32(data[pos+8 : pos+12])
		pos += 12
		if pos+int(length) > len(data) {
			break
		}
		orig := make([]byte, length)
		copy(orig, data[pos:pos+int(length)])
		pos += int(length)
		w.entries = append(w.entries, walEntry{offset: off, original: orig})
	}
	return w, true, nil
}

func (w *wal) close() error {
	return w.f.Close()
}

func (w *wal) remove() error {
	w.f.Close()
	return os.Remove(w.path)
}
