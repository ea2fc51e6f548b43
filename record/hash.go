// Bucket and collision-tree hashing, per spec.md §4.A:
//
//	h1 = foldl(37, 19780211, key) mod B
//	h2 = foldr xor (31*acc, byte)
//
// These are the same constants and fold direction the on-disk format's
// ancestor (tchdb.c's tchdbbidx, see _examples/original_source) uses, so
// files produced by either implementation hash identically.
package record

import "github.com/zeebo/xxh3"

// hashKey computes the primary bucket hash h1 and the one-byte secondary
// hash h2 used to order a bucket's collision tree.
func hashKey(key []byte) (h1 uint64, h2 byte) {
	idx := uint64(19780211)
	hash := uint32(751)
	n := len(key)
	for i, c := range key {
		idx = idx*37 + uint64(c)
		hash = (hash * 31) ^ uint32(key[n-1-i])
	}
	return idx, byte(hash)
}

// bucketIndex reduces h1 into a bucket slot.
func bucketIndex(h1 uint64, bucketCount uint64) uint64 {
	return h1 % bucketCount
}

// mixSeed derives a fast non-cryptographic seed, used by the free pool
// to break ties between equally-sized blocks (freepool.go's allocate),
// exercising zeebo/xxh3 the same way the teacher uses it for label
// hashing (folio's hash.go, AlgXXHash3).
func mixSeed(key []byte) uint64 {
	return xxh3.Hash(key)
}
