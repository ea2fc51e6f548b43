// Record and free-block on-disk node format, per spec.md §4.A
// "Record header": magic byte, secondary hash, child offsets, padding
// size, varint key/value sizes, then key bytes, value bytes, padding.
//
// The value is "a map<name, bytes>" (spec.md §3's "Record file entry"):
// the collection layer stores a document under region "$" and indexes
// as sibling regions of the same record, so one record write commits a
// document and all of its index-bearing regions atomically.
package record

import (
	"encoding/binary"
	"errors"
)

// Magic bytes for live records and free blocks, spec.md §4.A.
const (
	MagicRecord byte = 0xc8 // "REC"
	MagicFree   byte = 0xb0 // "FB"
)

var (
	ErrHeaderMismatch = errors.New("record: header magic mismatch")
	ErrShortBuffer    = errors.New("record: short buffer")
)

// Value is the named-region bag a record stores: the document body lives
// under region "$" (see package collection), with index regions as
// siblings so a single record write updates both.
type Value map[string][]byte

// encodeValue serialises a Value as: varint count, then per region
// varint(namelen) name varint(datalen) data.
func encodeValue(v Value) []byte {
	buf := make([]byte, 0, 64)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(v)))
	buf = append(buf, tmp[:n]...)
	for name, data := range v {
		n = binary.PutUvarint(tmp[:], uint64(len(name)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, name...)
		n = binary.PutUvarint(tmp[:], uint64(len(data)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, data...)
	}
	return buf
}

func decodeValue(b []byte) (Value, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, ErrShortBuffer
	}
	b = b[n:]
	v := make(Value, count)
	for i := uint64(0); i < count; i++ {
		nameLen, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, ErrShortBuffer
		}
		b = b[n:]
		if uint64(len(b)) < nameLen {
			return nil, ErrShortBuffer
		}
		name := string(b[:nameLen])
		b = b[nameLen:]

		dataLen, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, ErrShortBuffer
		}
		b = b[n:]
		if uint64(len(b)) < dataLen {
			return nil, ErrShortBuffer
		}
		data := make([]byte, dataLen)
		copy(data, b[:dataLen])
		b = b[dataLen:]
		v[name] = data
	}
	return v, nil
}

// node is the in-memory decoded form of a live record or free block.
type node struct {
	offset int64 // absolute byte offset of this node's header
	free   bool  // true => free block (magic FB)
	size   int   // total on-disk span including header, used for free blocks

	h2          byte
	left, right int64 // 0 means "no child"; children are absolute offsets
	padSize     int

	key   []byte
	value Value

	bodyLen int // header + key + value length, excluding padding
}

// encode serialises a live record node given the bucket entry width.
func (nd *node) encode(entryWidth int) []byte {
	valBytes := encodeValue(nd.value)

	var tmp [binary.MaxVarintLen64]byte
	ksN := binary.PutUvarint(tmp[:], uint64(len(nd.key)))
	keySizeBuf := append([]byte(nil), tmp[:ksN]...)
	vsN := binary.PutUvarint(tmp[:], uint64(len(valBytes)))
	valSizeBuf := append([]byte(nil), tmp[:vsN]...)

	headerLen := 1 + 1 + entryWidth*2 + 2 + len(keySizeBuf) + len(valSizeBuf)
	buf := make([]byte, 0, headerLen+len(nd.key)+len(valBytes)+nd.padSize)

	buf = append(buf, MagicRecord, nd.h2)
	buf = appendOffset(buf, nd.left, entryWidth)
	buf = appendOffset(buf, nd.right, entryWidth)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(nd.padSize))
	buf = append(buf, keySizeBuf...)
	buf = append(buf, valSizeBuf...)
	buf = append(buf, nd.key...)
	buf = append(buf, valBytes...)
	buf = append(buf, make([]byte, nd.padSize)...)
	return buf
}

func appendOffset(buf []byte, off int64, width int) []byte {
	if width == 8 {
		return binary.LittleEndian.AppendUint64(buf, uint64(off))
	}
	return binary.LittleEndian.AppendUint32(buf, uint32(off))
}

func readOffset(b []byte, width int) int64 {
	if width == 8 {
		return int64(binary.LittleEndian.Uint64(b))
	}
	return int64(binary.LittleEndian.Uint32(b))
}

// decodeNode parses a node header+body starting at the front of b.
// Returns the node and the total on-disk length it occupies (excluding
// padding for free blocks, including it for live records).
func decodeNode(b []byte, entryWidth int) (*node, int, error) {
	if len(b) < 2 {
		return nil, 0, ErrShortBuffer
	}
	switch b[0] {
	case MagicFree:
		if len(b) < 6 {
			return nil, 0, ErrShortBuffer
		}
		size := int(binary.LittleEndian.Uint32(b[2:6]))
		return &node{free: true, size: size}, size, nil
	case MagicRecord:
		pos := 1
		h2 := b[pos]
		pos++
		if len(b) < pos+entryWidth*2+2 {
			return nil, 0, ErrShortBuffer
		}
		left := readOffset(b[pos:], entryWidth)
		pos += entryWidth
		right := readOffset(b[pos:], entryWidth)
		pos += entryWidth
		padSize := int(binary.LittleEndian.Uint16(b[pos : pos+2]))
		pos += 2

		keySize, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return nil, 0, ErrShortBuffer
		}
		pos += n
		valSize, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return nil, 0, ErrShortBuffer
		}
		pos += n

		if uint64(len(b)) < uint64(pos)+keySize+valSize {
			return nil, 0, ErrShortBuffer
		}
		key := make([]byte, keySize)
		copy(key, b[pos:pos+int(keySize)])
		pos += int(keySize)

		valBytes := b[pos : pos+int(valSize)]
		pos += int(valSize)

		value, err := decodeValue(valBytes)
		if err != nil {
			return nil, 0, err
		}

		bodyLen := pos
		total := bodyLen + padSize

		return &node{
			h2: h2, left: left, right: right, padSize: padSize,
			key: key, value: value, bodyLen: bodyLen,
		}, total, nil
	default:
		return nil, 0, ErrHeaderMismatch
	}
}

// freeBlockHeader encodes a free-block header: magic + u32 size, per
// spec.md §4.A "Free-block header is {magic=FB, size (u32)}."
func freeBlockHeader(size uint32) []byte {
	buf := make([]byte, 6)
	buf[0] = MagicFree
	binary.LittleEndian.PutUint32(buf[2:6], size)
	return buf
}
