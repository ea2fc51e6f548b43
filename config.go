package docket

import "github.com/rs/zerolog"

// OpenMode is a bit-set of the open flags from spec.md §6.
type OpenMode int

const (
	ModeReader        OpenMode = 1 << iota // READER
	ModeWriter                             // WRITER
	ModeCreate                             // CREATE
	ModeTrunc                              // TRUNC
	ModeNoLock                             // NO-LOCK
	ModeLockNonblock                       // LOCK-NONBLOCK
	ModeSyncOnCommit                       // SYNC-ON-COMMIT
)

// Option is the record-file option-bits word from spec.md §6's header
// layout (offset 36, 4 bytes).
type Option uint32

const (
	OptLarge   Option = 1 << iota // 8-byte bucket pointers
	OptDeflate                    // reserved, teacher-style codec bit
	OptBzip                       // reserved, teacher-style codec bit
	OptTCBS                       // reserved, teacher-style codec bit
	OptEXCodec                    // external (plug-in) codec in use
)

// Config tunes one open database or collection. It mirrors spec.md §4.D's
// per-collection "opts" region (large-mode, compressed, expected/cached
// record counts) plus the teacher's runtime knobs (db.go's Config) and
// the header-sizing fields of spec.md §6.
type Config struct {
	Mode OpenMode

	// On-disk sizing, persisted into the record-file header.
	AlignmentPower uint8   // p: record alignment is 1<<p bytes
	FreePoolPower  uint8   // fp: free-block pool caps at 1<<fp entries
	BucketPower    uint8   // bucket-array size is 1<<BucketPower
	Options        Option

	// Metadata "opts" region tuning (spec.md §3, §4.D).
	LargeMode       bool
	Compressed      bool
	ExpectedRecords int64
	CachedRecords   int64

	// Runtime knobs carried from the teacher's Config.
	ReadBuffer    int  // buffered-read chunk size, default 64KiB
	MaxRecordSize int  // scanner/record size ceiling, default 16MiB
	SyncWrites    bool // fsync after every write, independent of ModeSyncOnCommit

	// mmap: how much of the file to keep mapped, spec.md §4.A "Memory map".
	MmapThreshold int64 // default 64MiB

	// Logger receives the single diagnostic line spec.md §4.A's Failure
	// model calls for on fatal/WAL-replay events. Nil (the default)
	// disables logging entirely, matching the teacher's opt-in posture.
	Logger *zerolog.Logger

	// Codec is the plug-in compression/encryption pair (spec.md §1). It is
	// passed on to the record layer, which does not apply it: bytes are
	// stored verbatim whether or not a Codec is set.
	Codec Codec

	// Fold is the plug-in case-folding function for ILEX indexes
	// (spec.md §1, §4.B).
	Fold func(string) string

	// Regex is the plug-in (compile, match) pair for $regex predicates
	// (spec.md §1). Nil selects the standard-library regexp engine.
	Regex RegexEngine
}

// Codec is the plug-in compression/encryption seam from spec.md §1:
// "Compression and cryptographic codecs (plug-in functions
// enc(bytes) -> bytes and dec(bytes) -> bytes)."
type Codec interface {
	Encode(b []byte) ([]byte, error)
	Decode(b []byte) ([]byte, error)
}

// RegexEngine is the plug-in regex seam from spec.md §1:
// "Regular-expression matching (plug-in compile(pattern, flags) and
// match(compiled, text))."
type RegexEngine interface {
	Compile(pattern string, icase bool) (CompiledRegex, error)
}

// CompiledRegex is a prepared pattern returned by RegexEngine.Compile.
type CompiledRegex interface {
	Match(text string) bool
}

// defaults fills zero-valued fields the way the teacher's Open fills in
// Config defaults (db.go).
func (c *Config) defaults() {
	if c.AlignmentPower == 0 {
		c.AlignmentPower = 4 // 16-byte alignment
	}
	if c.FreePoolPower == 0 {
		c.FreePoolPower = 10 // up to 1024 pooled free blocks
	}
	if c.BucketPower == 0 {
		c.BucketPower = 17 // 131072 buckets
	}
	if c.ReadBuffer == 0 {
		c.ReadBuffer = 64 * 1024
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = 16 * 1024 * 1024
	}
	if c.MmapThreshold == 0 {
		c.MmapThreshold = 64 * 1024 * 1024
	}
}
