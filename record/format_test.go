// On-disk header format verification.
//
// The record-file header is read at fixed byte offsets on every mmap
// fault, so these offsets are a contract between Encode and DecodeHeader.
// These tests build a fixture header value independently (as JSON, the
// same way the teacher pins expected offsets in format_test.go) and then
// verify Encode/DecodeHeader agree with the hardcoded byte positions.
package record

import (
	"testing"

	json "github.com/goccy/go-json"
)

// headerFixture mirrors the field order and meaning of Header but as a
// plain struct, so it can be round-tripped through JSON independently of
// the binary encoder under test.
type headerFixture struct {
	Version       uint16
	LibVersion    uint16
	Type          byte
	Flags         byte
	AlignPower    byte
	FreePoolPower byte
	Options       uint32
	BucketCount   uint64
	RecordCount   uint64
	FileSize      uint64
	FirstRecord   uint64
}

func mustMarshalFixture(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return b
}

func TestHeaderConstants(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"HeaderSize", HeaderSize, 256},
		{"len(MagicBanner)", len(MagicBanner), 16},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestHeaderEncodeFixedOffsets(t *testing.T) {
	fx := headerFixture{
		Version:       3,
		LibVersion:    1,
		Type:          byte(TypeDocuments),
		Flags:         FlagOpenedDirty,
		AlignPower:    4,
		FreePoolPower: 8,
		Options:       uint32(OptLarge | OptDeflate),
		BucketCount:   1024,
		RecordCount:   7,
		FileSize:      65536,
		FirstRecord:   256,
	}
	// Round-tripping the fixture through JSON and back guards against a
	// typo in this test's own field values before they get compared
	// against the binary layout below.
	var decoded headerFixture
	if err := json.Unmarshal(mustMarshalFixture(t, fx), &decoded); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	if decoded != fx {
		t.Fatalf("fixture round trip mismatch: %+v != %+v", decoded, fx)
	}

	h := &Header{
		Version:       fx.Version,
		LibVersion:    fx.LibVersion,
		Type:          TypeTag(fx.Type),
		Flags:         fx.Flags,
		AlignPower:    fx.AlignPower,
		FreePoolPower: fx.FreePoolPower,
		Options:       fx.Options,
		BucketCount:   fx.BucketCount,
		RecordCount:   fx.RecordCount,
		FileSize:      fx.FileSize,
		FirstRecord:   fx.FirstRecord,
	}
	buf := h.Encode()
	if len(buf) != HeaderSize {
		t.Fatalf("encoded header length = %d, want %d", len(buf), HeaderSize)
	}
	if string(buf[0:len(MagicBanner)]) != MagicBanner {
		t.Fatalf("magic banner at [0:%d] = %q", len(MagicBanner), buf[0:len(MagicBanner)])
	}
	if buf[32] != fx.Type {
		t.Errorf("type byte at 32 = %d, want %d", buf[32], fx.Type)
	}
	if buf[33] != fx.Flags {
		t.Errorf("flags byte at 33 = %d, want %d", buf[33], fx.Flags)
	}
	if buf[34] != fx.AlignPower {
		t.Errorf("align power byte at 34 = %d, want %d", buf[34], fx.AlignPower)
	}

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if *got != *h {
		t.Fatalf("decode mismatch: %+v != %+v", *got, *h)
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, []byte("not-a-docket-header"))
	if _, err := DecodeHeader(buf); err != ErrCorruptHeader {
		t.Fatalf("want ErrCorruptHeader, got %v", err)
	}
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, HeaderSize-1)); err != ErrCorruptHeader {
		t.Fatalf("want ErrCorruptHeader, got %v", err)
	}
}
