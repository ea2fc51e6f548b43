// Header management for the record file.
//
// The header is exactly 256 bytes, bit-exact per SPEC_FULL.md §6. Unlike
// the teacher's JSON header (folio's header.go), this format is binary:
// the record file must support mmap'd, fixed-offset reads of the bucket
// count and record count on every Get/Put, which a JSON header cannot do
// without reparsing.
package record

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed size of the record-file header, in bytes.
const HeaderSize = 256

// MagicBanner is written at offset 0 of every header and zero-padded up to
// byte 28; bytes 28-31 hold Version and LibVersion.
const MagicBanner = "docket.record.v1"

// Flag bits within the header's single flag byte (offset 33).
const (
	FlagOpenedDirty byte = 1 << 0
	FlagFatal       byte = 1 << 1
)

// TypeTag identifies what a record file is used for; purely informational,
// consumed by tools that introspect a file without opening the database.
type TypeTag byte

const (
	TypeDocuments TypeTag = iota + 1
	TypeIndex
	TypeMetadata
)

// Header is the first 256 bytes of every record file.
type Header struct {
	Version       uint16
	LibVersion    uint16
	Type          TypeTag
	Flags         byte
	AlignPower    byte // p: records align to 1<<p
	FreePoolPower byte // fp: free pool caps at 1<<fp entries
	Options       uint32
	BucketCount   uint64
	RecordCount   uint64
	FileSize      uint64
	FirstRecord   uint64
	Opaque        [128]byte
}

var ErrCorruptHeader = errors.New("record: corrupt or unrecognised header")

// Encode serialises h into a fresh HeaderSize-byte buffer.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:32], []byte(MagicBanner))
	binary.LittleEndian.PutUint16(buf[28:30], h.Version)
	binary.LittleEndian.PutUint16(buf[30:32], h.LibVersion)
	buf[32] = byte(h.Type)
	buf[33] = h.Flags
	buf[34] = h.AlignPower
	buf[35] = h.FreePoolPower
	binary.LittleEndian.PutUint32(buf[36:40], h.Options)
	binary.LittleEndian.PutUint64(buf[40:48], h.BucketCount)
	binary.LittleEndian.PutUint64(buf[48:56], h.RecordCount)
	binary.LittleEndian.PutUint64(buf[56:64], h.FileSize)
	binary.LittleEndian.PutUint64(buf[64:72], h.FirstRecord)
	copy(buf[128:256], h.Opaque[:])
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer produced by Encode.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, ErrCorruptHeader
	}
	if string(buf[0:len(MagicBanner)]) != MagicBanner {
		return nil, ErrCorruptHeader
	}
	h := &Header{
		Version:       binary.LittleEndian.Uint16(buf[28:30]),
		LibVersion:    binary.LittleEndian.Uint16(buf[30:32]),
		Type:          TypeTag(buf[32]),
		Flags:         buf[33],
		AlignPower:    buf[34],
		FreePoolPower: buf[35],
		Options:       binary.LittleEndian.Uint32(buf[36:40]),
		BucketCount:   binary.LittleEndian.Uint64(buf[40:48]),
		RecordCount:   binary.LittleEndian.Uint64(buf[48:56]),
		FileSize:      binary.LittleEndian.Uint64(buf[56:64]),
		FirstRecord:   binary.LittleEndian.Uint64(buf[64:72]),
	}
	copy(h.Opaque[:], buf[128:256])
	return h, nil
}

func (h *Header) setFlag(f byte, v bool) {
	if v {
		h.Flags |= f
	} else {
		h.Flags &^= f
	}
}

func (h *Header) Dirty() bool { return h.Flags&FlagOpenedDirty != 0 }
func (h *Header) Fatal() bool { return h.Flags&FlagFatal != 0 }

func (h *Header) SetDirty(v bool) { h.setFlag(FlagOpenedDirty, v) }
func (h *Header) SetFatal(v bool) { h.setFlag(FlagFatal, v) }

// BucketEntrySize returns 4 or 8 depending on the LARGE option bit,
// spec.md §4.A "Bucket array" ("4 bytes each when option LARGE is off,
// 8 bytes when on").
func (h *Header) BucketEntrySize() int {
	if Option(h.Options)&OptLarge != 0 {
		return 8
	}
	return 4
}

// Option mirrors docket.Option without importing the root package
// (which itself imports record), avoiding an import cycle.
type Option uint32

const (
	OptLarge Option = 1 << iota
	OptDeflate
	OptBzip
	OptTCBS
	OptEXCodec
)
