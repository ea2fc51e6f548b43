// Whole-file iteration in on-disk offset order, and the live-cursor
// registry defragmentation uses to keep outstanding iterators valid.
// Spec.md §4.A: "Iterators must survive defragmentation moving their
// current record: the mover walks a per-collection list of live
// iterators and rewrites their cursors."
package record

// liveIterator is a registered cursor into a File's record stream.
// Defragmentation (see compact.go) consults the registry under iterMu
// and rewrites offset whenever it relocates the record the cursor
// currently points at.
type liveIterator struct {
	offset int64 // current on-disk record offset, 0 means exhausted
	closed bool
}

// Cursor is the handle returned to callers; it wraps a liveIterator so
// that relocation updates are visible without copying.
type Cursor struct {
	f    *File
	live *liveIterator
}

// NewCursor opens an iterator positioned before the first record.
func (f *File) NewCursor() *Cursor {
	li := &liveIterator{offset: f.header.FirstRecord}
	f.iterMu.Lock()
	f.iterators = append(f.iterators, li)
	f.iterMu.Unlock()
	return &Cursor{f: f, live: li}
}

// Close unregisters the cursor so defragmentation stops tracking it.
func (c *Cursor) Close() {
	c.f.iterMu.Lock()
	defer c.f.iterMu.Unlock()
	c.live.closed = true
	for i, li := range c.f.iterators {
		if li == c.live {
			c.f.iterators = append(c.f.iterators[:i], c.f.iterators[i+1:]...)
			break
		}
	}
}

// Next advances the cursor and returns the key/value at the new
// position, skipping free blocks, or ok=false at end of file.
func (c *Cursor) Next() (key []byte, val Value, ok bool, err error) {
	if err := c.f.blockRead(); err != nil {
		return nil, nil, false, err
	}
	defer c.f.unblockRead()

	for {
		off := c.live.offset
		size := c.f.fileSize()
		if off >= size {
			return nil, nil, false, nil
		}
		nd, _, err := c.f.readNode(off)
		if err != nil {
			return nil, nil, false, err
		}
		span := c.f.align(int64(nd.bodyLen + nd.padSize))
		if nd.free {
			span = int64(nd.size)
		}
		c.live.offset = off + span
		if nd.free {
			continue
		}
		return nd.key, nd.value, true, nil
	}
}

// relocateIterators rewrites any live cursor sitting exactly at oldOff
// to newOff, called by the compactor after it moves a record.
func (f *File) relocateIterators(oldOff, newOff int64) {
	f.iterMu.Lock()
	defer f.iterMu.Unlock()
	for _, li := range f.iterators {
		if !li.closed && li.offset == oldOff {
			li.offset = newOff
		}
	}
}
