// Per-bucket collision tree: nodes ordered by (h2, key-bytes), per
// spec.md §4.A "Hashing": "Collision tree at bucket h1 is ordered by
// (h2, key-bytes); ties broken by byte-wise key compare."
package record

import (
	"bytes"
	"encoding/binary"
)

const nodePreviewSize = 64

// readNode loads and decodes the full node at off, growing the read
// window as needed once the header reveals the true body length.
func (f *File) readNode(off int64) (*node, int, error) {
	width := f.entryWidth()

	preview, err := f.readAt(off, nodePreviewSize)
	if err != nil {
		return nil, 0, err
	}
	if len(preview) == 0 {
		return nil, 0, ErrHeaderMismatch
	}

	switch preview[0] {
	case MagicFree:
		return decodeNode(preview, width)
	case MagicRecord:
		pos := 2 + width*2 + 2
		if pos > len(preview) {
			return nil, 0, ErrShortBuffer
		}
		keySize, n1 := binary.Uvarint(preview[pos:])
		if n1 <= 0 {
			return nil, 0, ErrShortBuffer
		}
		valSize, n2 := binary.Uvarint(preview[pos+n1:])
		if n2 <= 0 {
			return nil, 0, ErrShortBuffer
		}
		padSize := int(binary.LittleEndian.Uint16(preview[2+width*2 : 2+width*2+2]))
		total := pos + n1 + n2 + int(keySize) + int(valSize) + padSize
		if total <= len(preview) {
			return decodeNode(preview[:total], width)
		}
		full, err := f.readAt(off, int64(total))
		if err != nil {
			return nil, 0, err
		}
		return decodeNode(full, width)
	default:
		return nil, 0, ErrHeaderMismatch
	}
}

// writeNode writes nd at its offset. If grow is true the file is
// extended first (used when appending at the tail).
func (f *File) writeNode(nd *node, grow bool) error {
	width := f.entryWidth()
	buf := nd.encode(width)
	total := int64(len(buf))
	if grow {
		if err := f.growTo(nd.offset + total); err != nil {
			return err
		}
	}
	nd.bodyLen = len(buf) - nd.padSize
	return f.writeAt(nd.offset, buf)
}

// compareNode orders a candidate (h2, key) against an existing node.
func compareNode(h2 byte, key []byte, nd *node) int {
	if h2 != nd.h2 {
		if h2 < nd.h2 {
			return -1
		}
		return 1
	}
	return bytes.Compare(key, nd.key)
}

// findInTree walks the collision tree rooted at rootOff looking for
// (h2, key). Returns the matching node, its offset, and the chain of
// ancestor offsets walked (root-first) for splice/rebalance use.
func (f *File) findInTree(rootOff int64, h2 byte, key []byte) (nd *node, path []int64, err error) {
	off := rootOff
	for off != 0 {
		n, _, err := f.readNode(off)
		if err != nil {
			return nil, path, err
		}
		path = append(path, off)
		c := compareNode(h2, key, n)
		if c == 0 {
			return n, path, nil
		}
		if c < 0 {
			off = n.left
		} else {
			off = n.right
		}
	}
	return nil, path, nil
}

// insertLeaf appends a brand-new node at the tail and links it as the
// child of the last node on path (or as the bucket root if path empty).
func (f *File) insertLeaf(bidx uint64, path []int64, h2 byte, key []byte, val Value) (*node, error) {
	tail := f.fileSize()
	nd := &node{offset: tail, h2: h2, key: key, value: val}
	if err := f.writeNode(nd, true); err != nil {
		return nil, err
	}
	f.setFileSize(f.align(tail + int64(nd.bodyLen)))

	if len(path) == 0 {
		return nd, f.setBucketOffset(bidx, nd.offset)
	}
	parentOff := path[len(path)-1]
	parent, _, err := f.readNode(parentOff)
	if err != nil {
		return nil, err
	}
	parent.offset = parentOff
	c := compareNode(h2, key, parent)
	if c < 0 {
		parent.left = nd.offset
	} else {
		parent.right = nd.offset
	}
	if err := f.writeNode(parent, false); err != nil {
		return nil, err
	}
	return nd, nil
}

// spliceOut removes the node at off from the tree rooted at bucket bidx,
// per spec.md §4.A "Delete(key)": "the smaller-subtree child promotes; the
// larger subtree's right spine is walked to adopt the orphan."
func (f *File) spliceOut(bidx uint64, path []int64) error {
	off := path[len(path)-1]
	target, _, err := f.readNode(off)
	if err != nil {
		return err
	}
	target.offset = off

	var replacement int64
	switch {
	case target.left == 0 && target.right == 0:
		replacement = 0
	case target.left == 0:
		replacement = target.right
	case target.right == 0:
		replacement = target.left
	default:
		// Promote the smaller subtree; walk the larger subtree's leftmost
		// spine to adopt the orphan.
		small, large := target.left, target.right
		if subtreeSize(f, target.left) > subtreeSize(f, target.right) {
			small, large = target.right, target.left
		}
		leaf := large
		leafOff := leaf
		var leafNode *node
		for {
			n, _, err := f.readNode(leafOff)
			if err != nil {
				return err
			}
			n.offset = leafOff
			if n.left == 0 {
				leafNode = n
				break
			}
			leafOff = n.left
		}
		leafNode.left = small
		if err := f.writeNode(leafNode, false); err != nil {
			return err
		}
		replacement = large
	}

	if len(path) == 1 {
		if err := f.setBucketOffset(bidx, replacement); err != nil {
			return err
		}
	} else {
		parentOff := path[len(path)-2]
		parent, _, err := f.readNode(parentOff)
		if err != nil {
			return err
		}
		parent.offset = parentOff
		if parent.left == off {
			parent.left = replacement
		} else {
			parent.right = replacement
		}
		if err := f.writeNode(parent, false); err != nil {
			return err
		}
	}

	return f.freeSlot(off, f.align(int64(target.bodyLen+target.padSize)))
}

// subtreeSize is a cheap heuristic (node count, capped) used only to pick
// which side to promote; exactness is not required for correctness.
func subtreeSize(f *File, off int64) int {
	count := 0
	var walk func(int64, int)
	walk = func(o int64, depth int) {
		if o == 0 || depth > 8 {
			return
		}
		n, _, err := f.readNode(o)
		if err != nil {
			return
		}
		count++
		walk(n.left, depth+1)
		walk(n.right, depth+1)
	}
	walk(off, 0)
	return count
}

// freeSlot writes a free-block header over a vacated slot and returns it
// to the in-memory pool.
func (f *File) freeSlot(off, size int64) error {
	hdr := freeBlockHeader(uint32(size))
	if err := f.writeAt(off, hdr); err != nil {
		return err
	}
	f.dbValMu.Lock()
	f.fp.insert(off, size)
	f.dbValMu.Unlock()
	return nil
}
