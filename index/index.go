// Package index implements component B of SPEC_FULL.md: an ordered
// key/value store for secondary indexes, keyed by an encoded secondary
// key (see key.go) with values being sorted sets of oids.
//
// Grounded on the teacher's sorted-section-plus-binary-search idea
// (legacy/scan.go) and its whole-file rewrite compaction (legacy/compact.go),
// generalized here to a single in-memory sorted run persisted as one file
// and rewritten wholesale on Flush, matching spec.md §4.B's "ordered
// key/value store... Supports range scans in both directions."
package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/jpl-au/docket/oid"
)

var (
	ErrCorrupt = errors.New("index: corrupt index file")
)

const magic = "docket.idx.v1\x00\x00\x00"

type entry struct {
	key  []byte
	oids []oid.OID // kept sorted and deduplicated
}

// Index is one physical (collection, path, type) ordered index.
type Index struct {
	mu      sync.RWMutex
	path    string
	typ     Type
	entries []entry // sorted by key
	dirty   bool
}

// Open loads (or creates) the index file at path.
func Open(path string, typ Type) (*Index, error) {
	idx := &Index{path: path, typ: typ}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, err
	}
	if err := idx.decode(data); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) decode(data []byte) error {
	if len(data) < len(magic) || string(data[:len(magic)]) != magic {
		return ErrCorrupt
	}
	data = data[len(magic):]
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return ErrCorrupt
	}
	data = data[n:]
	idx.entries = make([]entry, 0, count)
	for i := uint64(0); i < count; i++ {
		keyLen, n := binary.Uvarint(data)
		if n <= 0 {
			return ErrCorrupt
		}
		data = data[n:]
		if uint64(len(data)) < keyLen {
			return ErrCorrupt
		}
		key := make([]byte, keyLen)
		copy(key, data[:keyLen])
		data = data[keyLen:]

		oidCount, n := binary.Uvarint(data)
		if n <= 0 {
			return ErrCorrupt
		}
		data = data[n:]
		if uint64(len(data)) < oidCount*12 {
			return ErrCorrupt
		}
		oids := make([]oid.OID, oidCount)
		for j := uint64(0); j < oidCount; j++ {
			oids[j] = oid.FromBytes(data[:12])
			data = data[12:]
		}
		idx.entries = append(idx.entries, entry{key: key, oids: oids})
	}
	return nil
}

func (idx *Index) encode() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, magic...)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(idx.entries)))
	buf = append(buf, tmp[:n]...)
	for _, e := range idx.entries {
		n = binary.PutUvarint(tmp[:], uint64(len(e.key)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, e.key...)
		n = binary.PutUvarint(tmp[:], uint64(len(e.oids)))
		buf = append(buf, tmp[:n]...)
		for _, o := range e.oids {
			buf = append(buf, o.Bytes()...)
		}
	}
	return buf
}

// Flush persists the in-memory sorted run to disk, overwriting the file
// wholesale (the teacher's Compact/Repair pattern). Put and Remove only
// change the in-memory run and mark it dirty; the file is rewritten when
// Flush runs.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty {
		return nil
	}
	if err := os.WriteFile(idx.path, idx.encode(), 0644); err != nil {
		return err
	}
	idx.dirty = false
	return nil
}

func (idx *Index) search(key []byte) int {
	return sort.Search(len(idx.entries), func(i int) bool {
		return bytes.Compare(idx.entries[i].key, key) >= 0
	})
}

// Put adds id under key, creating the entry if it does not exist and
// deduplicating against any oid already present (spec.md §4.B invariant:
// "the index contains an entry for each value ... no other entries").
func (idx *Index) Put(key []byte, id oid.OID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	i := idx.search(key)
	if i < len(idx.entries) && bytes.Equal(idx.entries[i].key, key) {
		idx.entries[i].oids = insertOID(idx.entries[i].oids, id)
	} else {
		idx.entries = append(idx.entries, entry{})
		copy(idx.entries[i+1:], idx.entries[i:])
		idx.entries[i] = entry{key: append([]byte(nil), key...), oids: []oid.OID{id}}
	}
	idx.dirty = true
}

// Remove drops id from key's entry, removing the entry entirely if it
// becomes empty.
func (idx *Index) Remove(key []byte, id oid.OID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	i := idx.search(key)
	if i >= len(idx.entries) || !bytes.Equal(idx.entries[i].key, key) {
		return
	}
	idx.entries[i].oids = removeOID(idx.entries[i].oids, id)
	if len(idx.entries[i].oids) == 0 {
		idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
	}
	idx.dirty = true
}

func insertOID(oids []oid.OID, id oid.OID) []oid.OID {
	i := sort.Search(len(oids), func(i int) bool { return oid.Compare(oids[i], id) >= 0 })
	if i < len(oids) && oid.Compare(oids[i], id) == 0 {
		return oids
	}
	oids = append(oids, oid.Zero)
	copy(oids[i+1:], oids[i:])
	oids[i] = id
	return oids
}

func removeOID(oids []oid.OID, id oid.OID) []oid.OID {
	i := sort.Search(len(oids), func(i int) bool { return oid.Compare(oids[i], id) >= 0 })
	if i < len(oids) && oid.Compare(oids[i], id) == 0 {
		return append(oids[:i], oids[i+1:]...)
	}
	return oids
}

// Range returns every oid whose key lies in [lo, hi], traversed in
// ascending order, or descending if desc is true. Either bound may be
// nil to mean "unbounded".
func (idx *Index) Range(lo, hi []byte, desc bool) []oid.OID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	start := 0
	if lo != nil {
		start = idx.search(lo)
	}
	end := len(idx.entries)
	if hi != nil {
		end = sort.Search(len(idx.entries), func(i int) bool {
			return bytes.Compare(idx.entries[i].key, hi) > 0
		})
	}
	if start > end {
		start = end
	}

	var out []oid.OID
	if desc {
		for i := end - 1; i >= start; i-- {
			out = append(out, idx.entries[i].oids...)
		}
	} else {
		for i := start; i < end; i++ {
			out = append(out, idx.entries[i].oids...)
		}
	}
	return out
}

// Tokens returns the AND (all tokens) or OR (any token) union of the
// oid sets stored under each of the given pre-encoded token keys,
// deduplicated, per spec.md §4.B "a single matching scan returns the
// intersection (AND) or union (OR) of hits across tokens."
func (idx *Index) Tokens(keys [][]byte, and bool) []oid.OID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(keys) == 0 {
		return nil
	}
	counts := make(map[oid.OID]int)
	for _, k := range keys {
		i := idx.search(k)
		if i >= len(idx.entries) || !bytes.Equal(idx.entries[i].key, k) {
			continue
		}
		for _, o := range idx.entries[i].oids {
			counts[o]++
		}
	}
	var out []oid.OID
	need := 1
	if and {
		need = len(keys)
	}
	for o, c := range counts {
		if c >= need {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return oid.Compare(out[i], out[j]) < 0 })
	return out
}

// Count returns the number of distinct keys in the index (a cheap
// selectivity proxy used by the selector, §4.F).
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Type reports which physical index kind this is.
func (idx *Index) Type() Type { return idx.typ }

// Drop removes the backing file entirely.
func (idx *Index) Drop() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil
	idx.dirty = false
	err := os.Remove(idx.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
