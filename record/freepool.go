// In-memory free-block pool, spec.md §4.A "Free-block pool":
// a size-sorted array capped at 1<<fp entries, merged on overflow and on
// every MERGE_FREQ-th allocation miss, and persisted between the header
// and the first record offset on close.
package record

import (
	"encoding/binary"
	"sort"
)

// mergeFreq is spec.md's "every MERGE_FREQ misses trigger a merge pass".
const mergeFreq = 32

type fblock struct {
	offset int64
	size   int64
}

type freePool struct {
	cap      int
	blocks   []fblock // sorted by size ascending
	misses   int
}

func newFreePool(capPower byte) *freePool {
	return &freePool{cap: 1 << capPower}
}

// insert adds a freed block, merging adjacent-offset neighbors first and
// trimming the smallest entries if the pool overflows its cap.
func (p *freePool) insert(offset, size int64) {
	p.blocks = append(p.blocks, fblock{offset, size})
	p.mergeAdjacent()
	if len(p.blocks) > p.cap {
		sort.Slice(p.blocks, func(i, j int) bool { return p.blocks[i].size < p.blocks[j].size })
		// Drop the smallest entries — they are least likely to satisfy a
		// future allocation and are cheapest to lose.
		p.blocks = p.blocks[len(p.blocks)-p.cap:]
	}
	p.sortBySize()
}

func (p *freePool) sortBySize() {
	sort.Slice(p.blocks, func(i, j int) bool { return p.blocks[i].size < p.blocks[j].size })
}

func (p *freePool) sortByOffset() {
	sort.Slice(p.blocks, func(i, j int) bool { return p.blocks[i].offset < p.blocks[j].offset })
}

// mergeAdjacent coalesces blocks whose [offset, offset+size) ranges abut.
func (p *freePool) mergeAdjacent() {
	if len(p.blocks) < 2 {
		return
	}
	p.sortByOffset()
	merged := p.blocks[:1]
	for _, b := range p.blocks[1:] {
		last := &merged[len(merged)-1]
		if last.offset+last.size == b.offset {
			last.size += b.size
		} else {
			merged = append(merged, b)
		}
	}
	p.blocks = merged
}

// allocate finds the smallest block whose size is >= need and removes
// it, returning (offset, size, true), or (0,0,false) if none fits.
// "Allocation uses a binary search for the smallest fit." When more than
// one block ties for smallest-fit, the tie is broken by mixSeed(offset)
// rather than always taking the first, so repeated allocate/insert
// cycles don't settle into always draining the pool from one end.
func (p *freePool) allocate(need int64) (int64, int64, bool) {
	i := sort.Search(len(p.blocks), func(i int) bool { return p.blocks[i].size >= need })
	if i == len(p.blocks) {
		p.misses++
		if p.misses%mergeFreq == 0 {
			p.mergeAdjacent()
			p.sortBySize()
		}
		return 0, 0, false
	}
	j := i
	for j < len(p.blocks) && p.blocks[j].size == p.blocks[i].size {
		j++
	}
	pick := i
	if j-i > 1 {
		pick = i + int(mixSeed(offsetBytes(p.blocks[i].offset))%uint64(j-i))
	}
	b := p.blocks[pick]
	p.blocks = append(p.blocks[:pick], p.blocks[pick+1:]...)
	return b.offset, b.size, true
}

func offsetBytes(offset int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(offset))
	return buf[:]
}

// splitTail returns a smaller block to the pool after a larger one is
// consumed; used when the fit ratio would otherwise be worse than 2:1.
func (p *freePool) splitTail(offset, size int64) {
	p.insert(offset, size)
}

// fitRatio reports size/need so callers can apply "split the tail if
// the fit ratio is worse than 2:1" (spec.md §4.A, Put step 2).
func fitRatio(size, need int64) float64 {
	if need == 0 {
		return 0
	}
	return float64(size) / float64(need)
}

// encode serialises the pool as a variable-length delta-coded sequence:
// count, then per entry varint(offset-delta from previous), varint(size).
// Delta-coding keeps the persisted pool small without needing a fixed
// record count ceiling.
func (p *freePool) encode() []byte {
	p.sortByOffset()
	buf := make([]byte, 0, len(p.blocks)*4)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(p.blocks)))
	buf = append(buf, tmp[:n]...)
	var prev int64
	for _, b := range p.blocks {
		delta := b.offset - prev
		n = binary.PutUvarint(tmp[:], uint64(delta))
		buf = append(buf, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(b.size))
		buf = append(buf, tmp[:n]...)
		prev = b.offset
	}
	return buf
}

func decodeFreePool(buf []byte, capPower byte) *freePool {
	p := newFreePool(capPower)
	if len(buf) == 0 {
		return p
	}
	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return p
	}
	buf = buf[n:]
	var prev int64
	for i := uint64(0); i < count && len(buf) > 0; i++ {
		delta, n := binary.Uvarint(buf)
		if n <= 0 {
			break
		}
		buf = buf[n:]
		size, n := binary.Uvarint(buf)
		if n <= 0 {
			break
		}
		buf = buf[n:]
		offset := prev + int64(delta)
		p.blocks = append(p.blocks, fblock{offset, int64(size)})
		prev = offset
	}
	p.sortBySize()
	return p
}
