// Get/Put/Delete: the public record-level API of component A, per
// spec.md §4.A "Get(key)", "Put(key, value, mode)", "Delete(key)".
package record

import (
	"encoding/binary"
	"math"
)

// PutMode selects how Put resolves a collision with an existing key.
type PutMode int

const (
	Overwrite PutMode = iota
	Keep
	Concat
	AddInt
	AddDbl
	Proc
)

// ProcAction is the verdict a ProcFunc returns for PutMode Proc.
type ProcAction int

const (
	ProcReplace ProcAction = iota
	ProcDelete
	ProcKeepAction
)

// ProcFunc implements the PROC(f) put mode of spec.md §4.A.
type ProcFunc func(old Value) (Value, ProcAction)

func (f *File) blockRead() error {
	if f.state.Load() == StateClosed {
		return ErrClosed
	}
	f.methodMu.RLock()
	return nil
}

func (f *File) unblockRead() { f.methodMu.RUnlock() }

func (f *File) blockWrite() error {
	if f.state.Load() == StateClosed {
		return ErrClosed
	}
	if f.writer == nil {
		return ErrReadOnly
	}
	if f.fatal.Load() {
		return ErrFatal
	}
	f.methodMu.Lock()
	return nil
}

func (f *File) unblockWrite() { f.methodMu.Unlock() }

// Get retrieves the value bag stored under key.
func (f *File) Get(key []byte) (Value, error) {
	if err := f.blockRead(); err != nil {
		return nil, err
	}
	defer f.unblockRead()

	h1, h2 := hashKey(key)
	bidx := bucketIndex(h1, f.header.BucketCount)

	unlock := f.buckets.lockOne(bidx, false)
	defer unlock()

	root, err := f.getBucketOffset(bidx)
	if err != nil {
		return nil, err
	}
	nd, _, err := f.findInTree(root, h2, key)
	if err != nil {
		return nil, err
	}
	if nd == nil {
		return nil, ErrNoRecord
	}
	return nd.value, nil
}

// Put creates or updates the value bag stored under key.
func (f *File) Put(key []byte, value Value, mode PutMode, proc ProcFunc) error {
	if err := f.blockWrite(); err != nil {
		return err
	}
	defer f.unblockWrite()

	f.markDirty()

	h1, h2 := hashKey(key)
	bidx := bucketIndex(h1, f.header.BucketCount)

	unlock := f.buckets.lockOne(bidx, true)
	defer unlock()

	root, err := f.getBucketOffset(bidx)
	if err != nil {
		return err
	}
	existing, path, err := f.findInTree(root, h2, key)
	if err != nil {
		return err
	}

	if existing == nil {
		if mode == Keep || mode == Concat || mode == AddInt || mode == AddDbl {
			if mode != Keep {
				// Nothing to concat/add onto: treat as a fresh overwrite.
			}
		}
		_, err := f.insertLeaf(bidx, path, h2, key, value)
		if err == nil {
			f.bumpRecordCount(1)
		}
		return err
	}

	switch mode {
	case Keep:
		return ErrKeepExist
	case Overwrite:
		return f.rewrite(bidx, path, existing, value)
	case Concat:
		merged := concatValue(existing.value, value)
		return f.rewrite(bidx, path, existing, merged)
	case AddInt:
		merged, err := addIntValue(existing.value, value)
		if err != nil {
			return err
		}
		return f.rewrite(bidx, path, existing, merged)
	case AddDbl:
		merged, err := addDblValue(existing.value, value)
		if err != nil {
			return err
		}
		return f.rewrite(bidx, path, existing, merged)
	case Proc:
		newVal, action := proc(existing.value)
		switch action {
		case ProcDelete:
			if err := f.spliceOut(bidx, path); err != nil {
				return err
			}
			f.bumpRecordCount(-1)
			return nil
		case ProcKeepAction:
			return nil
		default:
			return f.rewrite(bidx, path, existing, newVal)
		}
	}
	return nil
}

// rewrite replaces an existing node's value in place when the new
// encoding fits the node's current aligned slot; otherwise it returns the
// old slot to the free pool and relocates the record to a free-pool block
// or the end of the file. It does not extend a record into a following
// free block. Spec.md §4.A Put steps 3-5.
func (f *File) rewrite(bidx uint64, path []int64, old *node, newVal Value) error {
	width := f.entryWidth()
	old.value = newVal
	buf := old.encode(width)
	oldSpan := f.align(int64(old.bodyLen + old.padSize))
	newBodyLen := len(buf) - old.padSize

	if int64(newBodyLen) <= oldSpan-int64(old.bodyLen)+int64(old.bodyLen) && int64(newBodyLen) <= oldSpan {
		// Fits within the existing aligned slot: rewrite with adjusted
		// padding, satisfying spec.md's "record whose new encoding exactly
		// fills its slot (padding = 0) is updated in place" boundary case.
		old.padSize = int(oldSpan - int64(newBodyLen))
		return f.writeNode(old, false)
	}

	// Doesn't fit: size the new slot in whole alignment units.
	need := oldSpan
	for need < int64(newBodyLen) {
		need += int64(1) << f.header.AlignPower
	}
	if need-int64(newBodyLen) < int64(newBodyLen)/2 {
		// Less than half a body of slack: grow the slot by one more
		// alignment unit.
		need += int64(1) << f.header.AlignPower
	}

	// Free the old slot and allocate (or append) a new one.
	if err := f.freeSlot(old.offset, oldSpan); err != nil {
		return err
	}

	f.dbValMu.Lock()
	allocOff, allocSize, ok := f.fp.allocate(need)
	f.dbValMu.Unlock()

	if ok {
		slot := allocSize
		if allocSize-need > need { // worse than 2:1 fit: return the remainder
			slot = need
		}
		old.offset = allocOff
		old.padSize = int(slot) - newBodyLen
		if err := f.writeNode(old, false); err != nil {
			return err
		}
		if slot < allocSize {
			if err := f.writeAt(allocOff+slot, freeBlockHeader(uint32(allocSize-slot))); err != nil {
				return err
			}
			f.dbValMu.Lock()
			f.fp.splitTail(allocOff+slot, allocSize-slot)
			f.dbValMu.Unlock()
		}
	} else {
		tail := f.fileSize()
		old.offset = tail
		old.padSize = 0
		if err := f.writeNode(old, true); err != nil {
			return err
		}
		f.setFileSize(f.align(tail + int64(old.bodyLen)))
	}

	return f.relink(bidx, path, old.offset)
}

// relink points the parent (or bucket root) at a record's new offset
// after relocation.
func (f *File) relink(bidx uint64, path []int64, newOffset int64) error {
	if len(path) == 1 {
		return f.setBucketOffset(bidx, newOffset)
	}
	parentOff := path[len(path)-2]
	childOff := path[len(path)-1]
	parent, _, err := f.readNode(parentOff)
	if err != nil {
		return err
	}
	parent.offset = parentOff
	if parent.left == childOff {
		parent.left = newOffset
	} else {
		parent.right = newOffset
	}
	return f.writeNode(parent, false)
}

// Delete removes the value bag stored under key.
func (f *File) Delete(key []byte) error {
	if err := f.blockWrite(); err != nil {
		return err
	}
	defer f.unblockWrite()

	f.markDirty()

	h1, h2 := hashKey(key)
	bidx := bucketIndex(h1, f.header.BucketCount)

	unlock := f.buckets.lockOne(bidx, true)
	defer unlock()

	root, err := f.getBucketOffset(bidx)
	if err != nil {
		return err
	}
	existing, path, err := f.findInTree(root, h2, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNoRecord
	}
	if err := f.spliceOut(bidx, path); err != nil {
		return err
	}
	f.bumpRecordCount(-1)
	return nil
}

func concatValue(old, add Value) Value {
	merged := make(Value, len(old))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range add {
		merged[k] = append(append([]byte(nil), merged[k]...), v...)
	}
	return merged
}

func addIntValue(old, add Value) (Value, error) {
	merged := make(Value, len(old))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range add {
		cur := merged[k]
		if len(cur) != len(v) {
			// spec.md §9 open question: int width can grow; reject rather
			// than silently truncate.
			if len(cur) == 0 {
				merged[k] = v
				continue
			}
			return nil, ErrShortBuffer
		}
		sum := decodeLEInt(cur) + decodeLEInt(v)
		merged[k] = encodeLEInt(sum, len(cur))
	}
	return merged, nil
}

func addDblValue(old, add Value) (Value, error) {
	merged := make(Value, len(old))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range add {
		cur := merged[k]
		if len(cur) == 0 {
			merged[k] = v
			continue
		}
		if len(cur) != 8 || len(v) != 8 {
			return nil, ErrShortBuffer
		}
		sum := math.Float64frombits(binary.LittleEndian.Uint64(cur)) +
			math.Float64frombits(binary.LittleEndian.Uint64(v))
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(sum))
		merged[k] = buf
	}
	return merged, nil
}

func decodeLEInt(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	return v
}

func encodeLEInt(v int64, width int) []byte {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}
