// Package codec implements the pluggable region codecs spec.md §1
// reserves as optional compression/encryption ("The plug-in
// compression/encryption seam applied to each region's bytes before they
// reach disk"). A codec is handed to the database through docket.Config's
// Codec field; the OptDeflate/OptEXCodec option bits do not select one.
//
// Grounded on github.com/klauspost/compress/zstd, attested across the
// pack's storage-engine repos as the standard high-throughput Go
// compressor, in place of the teacher's uncompressed JSON records.
package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd implements record.Codec / docket.Codec with zstd compression.
type Zstd struct {
	encOnce sync.Once
	decOnce sync.Once
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	level   zstd.EncoderLevel
}

// NewZstd returns a codec at the given compression level (zero value
// picks zstd's default).
func NewZstd(level zstd.EncoderLevel) *Zstd {
	return &Zstd{level: level}
}

func (z *Zstd) encoder() *zstd.Encoder {
	z.encOnce.Do(func() {
		var opts []zstd.EOption
		if z.level != 0 {
			opts = append(opts, zstd.WithEncoderLevel(z.level))
		}
		z.enc, _ = zstd.NewWriter(nil, opts...)
	})
	return z.enc
}

func (z *Zstd) decoder() *zstd.Decoder {
	z.decOnce.Do(func() {
		z.dec, _ = zstd.NewReader(nil)
	})
	return z.dec
}

func (z *Zstd) Encode(b []byte) ([]byte, error) {
	return z.encoder().EncodeAll(b, make([]byte, 0, len(b))), nil
}

func (z *Zstd) Decode(b []byte) ([]byte, error) {
	return z.decoder().DecodeAll(b, nil)
}
