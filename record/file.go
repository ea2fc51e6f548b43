// Package record implements component A of SPEC_FULL.md: the bucketed
// hash-on-disk record store with per-bucket collision trees, a free-block
// pool, memory-mapped I/O, write-ahead logging, and the lock hierarchy of
// spec.md §5.
//
// Grounded on the teacher's DB type (jpl-au-folio's db.go): the state
// machine (StateAll/StateRead/StateNone/StateClosed) and the
// blockRead/blockWrite gating pattern are carried over, generalised from
// a single append-only file to the bucket/collision-tree layout spec.md
// §4.A requires.
package record

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Concurrency states, carried over from the teacher's db.go.
const (
	StateAll    = 0 // readers and writers allowed
	StateRead   = 1 // only readers allowed (during compaction/rehash)
	StateNone   = 2 // nothing allowed (during bucket-array resize)
	StateClosed = 3
)

var (
	ErrClosed    = errors.New("record: file is closed")
	ErrReadOnly  = errors.New("record: file opened read-only")
	ErrFatal     = errors.New("record: file is in a fatal state")
	ErrNoRecord  = errors.New("record: no such key")
	ErrKeepExist = errors.New("record: key already exists (Keep mode)")
)

// Codec is the plug-in compression/encryption seam (spec.md §1).
// Structurally compatible with docket.Codec; record never imports the
// root package. Config carries a Codec, but File does not call its Encode
// or Decode: region bytes reach disk as given.
type Codec interface {
	Encode([]byte) ([]byte, error)
	Decode([]byte) ([]byte, error)
}

// Config configures one record File. See docket.Config for the
// user-facing superset; the database wiring layer narrows it to this.
type Config struct {
	ReadOnly      bool
	Create        bool
	NoLock        bool
	LockNonblock  bool
	SyncOnCommit  bool
	SyncWrites    bool
	AlignmentPower byte
	FreePoolPower  byte
	BucketPower    byte
	Options        Option
	ReadBuffer     int
	MaxRecordSize  int
	MmapThreshold  int64
	Codec          Codec
	OnFatal        func(msg string) // diagnostic hook, spec.md §4.A Failure model
}

// File is one open bucketed record store.
type File struct {
	path   string
	reader *os.File
	writer *os.File
	lock   *pathLock

	header *Header
	config Config

	mm *memMap
	fp *freePool

	buckets bucketLocks // lock level 3

	dbValMu sync.Mutex // lock level 5: guards N, F, and fp

	methodMu sync.RWMutex // lock level 2: collection method lock

	state atomic.Int32
	cond  *sync.Cond

	walPath string
	tx      *wal
	txMu    sync.Mutex

	iterMu    sync.Mutex
	iterators []*liveIterator

	fatal atomic.Bool
}

// Open opens or creates a record file at path.
func Open(path string, cfg Config) (*File, error) {
	if cfg.AlignmentPower == 0 {
		cfg.AlignmentPower = 4
	}
	if cfg.FreePoolPower == 0 {
		cfg.FreePoolPower = 10
	}
	if cfg.BucketPower == 0 {
		cfg.BucketPower = 17
	}
	if cfg.ReadBuffer == 0 {
		cfg.ReadBuffer = 64 * 1024
	}
	if cfg.MaxRecordSize == 0 {
		cfg.MaxRecordSize = 16 * 1024 * 1024
	}
	if cfg.MmapThreshold == 0 {
		cfg.MmapThreshold = 64 * 1024 * 1024
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if !exists && !cfg.Create {
		return nil, ErrNoRecord
	}

	if !exists {
		if err := createEmptyFile(path, cfg); err != nil {
			return nil, err
		}
	}

	readerFlags := os.O_RDONLY
	reader, err := os.OpenFile(path, readerFlags, 0644)
	if err != nil {
		return nil, err
	}

	var writer *os.File
	if !cfg.ReadOnly {
		writer, err = os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			reader.Close()
			return nil, err
		}
	}

	lock := &pathLock{}
	if !cfg.NoLock {
		if cfg.ReadOnly {
			lock.setFile(reader)
		} else {
			lock.setFile(writer)
		}
		mode := LockShared
		if !cfg.ReadOnly {
			mode = LockExclusive
		}
		if err := lock.Lock(mode, cfg.LockNonblock); err != nil {
			reader.Close()
			if writer != nil {
				writer.Close()
			}
			return nil, err
		}
	}

	hdrBuf := make([]byte, HeaderSize)
	if _, err := reader.ReadAt(hdrBuf, 0); err != nil {
		reader.Close()
		if writer != nil {
			writer.Close()
		}
		return nil, err
	}
	hdr, err := DecodeHeader(hdrBuf)
	if err != nil {
		reader.Close()
		if writer != nil {
			writer.Close()
		}
		return nil, err
	}

	f := &File{
		path:   path,
		reader: reader,
		writer: writer,
		lock:   lock,
		header: hdr,
		config: cfg,
		mm:     &memMap{},
		fp:     newFreePool(cfg.FreePoolPower),
		cond:   sync.NewCond(&sync.Mutex{}),
	}
	f.walPath = path + ".wal"

	if writer != nil {
		info, _ := writer.Stat()
		if err := f.mm.remap(writer, info.Size(), cfg.MmapThreshold); err != nil {
			return nil, err
		}
	}

	f.loadFreePool()

	// Crash recovery: spec.md §4.A "On open, if the opened-dirty flag is
	// set, a crash is assumed; the WAL is replayed as an abort, then
	// removed."
	if hdr.Dirty() && writer != nil {
		if err := f.recoverFromCrash(); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func createEmptyFile(path string, cfg Config) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	bucketCount := uint64(1) << cfg.BucketPower
	entryWidth := int64(4)
	if cfg.Options&OptLarge != 0 {
		entryWidth = 8
	}
	firstRecord := HeaderSize + int64(bucketCount)*entryWidth

	hdr := &Header{
		Version:     1,
		Type:        TypeDocuments,
		AlignPower:  cfg.AlignmentPower,
		FreePoolPower: cfg.FreePoolPower,
		Options:     uint32(cfg.Options),
		BucketCount: bucketCount,
		FileSize:    uint64(firstRecord),
		FirstRecord: uint64(firstRecord),
	}
	if _, err := file.Write(hdr.Encode()); err != nil {
		return err
	}
	buckets := make([]byte, bucketCount*uint64(entryWidth))
	if _, err := file.Write(buckets); err != nil {
		return err
	}
	return file.Sync()
}

// recoverFromCrash replays an existing WAL sidecar as an abort.
func (f *File) recoverFromCrash() error {
	w, found, err := loadWAL(f.walPath)
	if err != nil {
		return err
	}
	if found {
		if err := w.replay(f.writer); err != nil {
			return err
		}
		w.remove()
		info, _ := f.writer.Stat()
		if err := f.reloadHeader(); err != nil {
			return err
		}
		if err := f.mm.remap(f.writer, info.Size(), f.config.MmapThreshold); err != nil {
			return err
		}
	}
	f.header.SetDirty(false)
	return f.writeHeader()
}

func (f *File) reloadHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := f.reader.ReadAt(buf, 0); err != nil {
		return err
	}
	hdr, err := DecodeHeader(buf)
	if err != nil {
		return err
	}
	f.header = hdr
	return nil
}

func (f *File) writeHeader() error {
	buf := f.header.Encode()
	if f.writer == nil {
		return ErrReadOnly
	}
	if _, err := f.writer.WriteAt(buf, 0); err != nil {
		return err
	}
	if f.mm.len > 0 {
		f.mm.mu.Lock()
		if f.mm.m != nil {
			copy(f.mm.m[:HeaderSize], buf)
		}
		f.mm.mu.Unlock()
	}
	return nil
}

// Close flushes free-pool state and releases all handles.
func (f *File) Close() error {
	f.cond.L.Lock()
	f.state.Store(StateClosed)
	f.cond.Broadcast()
	f.cond.L.Unlock()

	f.methodMu.Lock()
	defer f.methodMu.Unlock()

	if f.writer != nil {
		f.persistFreePool()
		f.header.SetDirty(false)
		f.writeHeader()
		f.writer.Sync()
	}

	f.mm.close()
	f.lock.setFile(nil)
	f.lock.Unlock()

	var firstErr error
	if err := f.reader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if f.writer != nil {
		if err := f.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sync fsyncs the underlying file.
func (f *File) Sync() error {
	if f.writer == nil {
		return ErrReadOnly
	}
	return f.writer.Sync()
}

// Count returns the live record count (header's N field).
func (f *File) Count() int64 {
	f.dbValMu.Lock()
	defer f.dbValMu.Unlock()
	return int64(f.header.RecordCount)
}

// persistFreePool serialises the pool into the region between the header
// and the first record offset, spec.md §4.A "On close, the pool is
// serialized ... into the region between the header and R0."
func (f *File) persistFreePool() {
	f.dbValMu.Lock()
	defer f.dbValMu.Unlock()
	buf := f.fp.encode()
	region := int64(f.header.FirstRecord) - HeaderSize
	if int64(len(buf)) > region {
		buf = buf[:region] // best-effort: pool outgrew its reserved region
	}
	f.writer.WriteAt(buf, HeaderSize)
}

func (f *File) loadFreePool() {
	region := int64(f.header.FirstRecord) - HeaderSize
	if region <= 0 {
		return
	}
	buf := make([]byte, region)
	if _, err := f.reader.ReadAt(buf, HeaderSize); err != nil {
		return
	}
	f.fp = decodeFreePool(bytes.TrimRight(buf, "\x00"), f.config.FreePoolPower)
}

// markDirty flips the opened-dirty flag on first write of a session,
// matching the teacher's raw() ("Sets dirty flag on first write").
func (f *File) markDirty() {
	if !f.header.Dirty() {
		f.header.SetDirty(true)
		f.writeHeader()
	}
}

func (f *File) markFatal(err error) {
	f.fatal.Store(true)
	f.header.SetFatal(true)
	f.writeHeader()
	if f.config.OnFatal != nil {
		f.config.OnFatal(err.Error())
	}
}

func (f *File) entryWidth() int {
	return f.header.BucketEntrySize()
}
