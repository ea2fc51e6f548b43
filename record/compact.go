// Incremental defragmentation, spec.md §4.A "Defragmentation": once the
// ratio of free-pool bytes to file size crosses a threshold, a pass takes
// the lowest-offset free block, moves the live record that directly
// follows it down into it, and repeats; a free block left at the end of
// the file is then truncated away.
package record

// DfUnit bounds how many records one Defragment call relocates, mirroring
// spec.md's "defragmentation proceeds in bounded units so a single call
// cannot stall other writers for the whole file".
const DfUnit = 64

// ShouldDefragment reports whether free space has crossed the trigger
// ratio spec.md sets for automatic compaction (free bytes > 25% of file).
func (f *File) ShouldDefragment() bool {
	f.dbValMu.Lock()
	defer f.dbValMu.Unlock()
	var free int64
	for _, b := range f.fp.blocks {
		free += b.size
	}
	size := int64(f.header.FileSize)
	if size == 0 {
		return false
	}
	return free*4 > size
}

// Defragment relocates up to DfUnit live records, each into the
// lowest-offset free block directly in front of it, then truncates a
// trailing free block. It stops early when the record after that free
// block does not fit into it. It holds
// the global bucket lock for its duration, per spec.md §5's lock
// hierarchy ("defragmentation requires all 256 bucket locks, since any
// bucket's root pointer may need rewriting").
func (f *File) Defragment() error {
	if err := f.blockWrite(); err != nil {
		return err
	}
	defer f.unblockWrite()

	unlockAll := f.buckets.lockAll(true)
	defer unlockAll()

	moved := 0
	for moved < DfUnit {
		f.dbValMu.Lock()
		if len(f.fp.blocks) == 0 {
			f.dbValMu.Unlock()
			break
		}
		f.fp.sortByOffset()
		dest := f.fp.blocks[0]
		f.dbValMu.Unlock()

		srcOff := dest.offset + dest.size
		if srcOff >= f.fileSize() {
			break
		}
		nd, _, err := f.readNode(srcOff)
		if err != nil {
			return err
		}
		span := f.align(int64(nd.bodyLen + nd.padSize))
		if nd.free {
			span = int64(nd.size)
			// Two adjacent free blocks: merge into one and retry without
			// counting this as a move.
			f.dbValMu.Lock()
			f.fp.blocks = f.fp.blocks[1:]
			f.fp.insert(dest.offset, dest.size+span)
			f.dbValMu.Unlock()
			continue
		}
		if span > dest.size {
			break // destination too small for this record; stop this unit
		}

		bidx, path, err := f.locateByKey(nd.h2, nd.key)
		if err != nil {
			return err
		}

		nd.offset = dest.offset
		nd.padSize += int(dest.size - span)
		if err := f.writeNode(nd, false); err != nil {
			return err
		}
		if err := f.relink(bidx, path, nd.offset); err != nil {
			return err
		}
		f.relocateIterators(srcOff, dest.offset)

		f.dbValMu.Lock()
		f.fp.blocks = f.fp.blocks[1:]
		f.dbValMu.Unlock()
		// The vacated slot is now free itself; at the end of the file it is
		// dropped by truncateTrailingFree below.
		if err := f.freeSlot(srcOff, span); err != nil {
			return err
		}

		moved++
	}

	return f.truncateTrailingFree()
}

// locateByKey re-walks from the bucket root to find the ancestor path to
// a node, used by the compactor after it has already decoded the node
// and only needs the path for relink.
func (f *File) locateByKey(h2 byte, key []byte) (uint64, []int64, error) {
	h1, _ := hashKey(key)
	bidx := bucketIndex(h1, f.header.BucketCount)
	root, err := f.getBucketOffset(bidx)
	if err != nil {
		return 0, nil, err
	}
	_, path, err := f.findInTree(root, h2, key)
	return bidx, path, err
}

// truncateTrailingFree drops a single trailing free block by shrinking
// the file, if the very last block in the file is free.
func (f *File) truncateTrailingFree() error {
	f.dbValMu.Lock()
	defer f.dbValMu.Unlock()
	f.fp.sortByOffset()
	if len(f.fp.blocks) == 0 {
		return nil
	}
	last := f.fp.blocks[len(f.fp.blocks)-1]
	if last.offset+last.size != int64(f.header.FileSize) {
		return nil
	}
	f.fp.blocks = f.fp.blocks[:len(f.fp.blocks)-1]
	f.header.FileSize = uint64(last.offset)
	if f.writer != nil {
		f.writer.Truncate(last.offset)
	}
	return nil
}
