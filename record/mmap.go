// Memory-mapped prefix of the record file, spec.md §4.A "Memory map":
// the first min(xmsiz, F) bytes are mapped; reads/writes below the
// threshold go through the map, above it through pread/pwrite. The
// shared-memory lock (spec.md §5, lock level 4) guards remaps.
package record

import (
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// memMap owns the live mapping and the lock that guards remapping it.
// Kept as its own small struct per DESIGN NOTES' "Global mutable state":
// "the shared-memory lock plus the map pointer form another [owned unit]."
type memMap struct {
	mu  sync.RWMutex // shared for access through the map, exclusive for remap
	m   mmap.MMap
	len int64
}

// remap grows (or shrinks) the mapped region to cover [0, n), n capped to
// threshold. Must be called with mu held exclusively by the caller.
func (mm *memMap) remap(f *os.File, n, threshold int64) error {
	if n > threshold {
		n = threshold
	}
	if mm.m != nil {
		if err := mm.m.Unmap(); err != nil {
			return err
		}
		mm.m = nil
	}
	if n <= 0 {
		mm.len = 0
		return nil
	}
	m, err := mmap.MapRegion(f, int(n), mmap.RDWR, 0, 0)
	if err != nil {
		return err
	}
	mm.m = m
	mm.len = n
	return nil
}

func (mm *memMap) close() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.m == nil {
		return nil
	}
	err := mm.m.Unmap()
	mm.m = nil
	mm.len = 0
	return err
}

// readAt copies n bytes at off from the map. Caller must already hold mu
// (shared) and must have verified off+n <= mm.len.
func (mm *memMap) readAt(off, n int64) []byte {
	out := make([]byte, n)
	copy(out, mm.m[off:off+n])
	return out
}

// writeAt copies data into the map at off. Caller must hold mu (shared is
// sufficient: the map's backing bytes may be written concurrently by
// distinct bucket-lock holders, spec.md §5 lock level 4 vs level 3) and
// must have verified off+len(data) <= mm.len.
func (mm *memMap) writeAt(off int64, data []byte) {
	copy(mm.m[off:], data)
}

// covers reports whether [off, off+n) lies entirely within the mapped
// prefix. Caller need not hold mu: len is only ever grown under mu, and a
// stale "false" just routes the caller to pread/pwrite instead.
func (mm *memMap) covers(off, n int64) bool {
	return off >= 0 && off+n <= mm.len
}
