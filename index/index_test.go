package index

import (
	"path/filepath"
	"testing"

	"github.com/jpl-au/docket/oid"
)

func newOID(b byte) oid.OID {
	var o oid.OID
	o[11] = b
	return o
}

func TestPutGetRange(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "t.idx"), Lex)
	if err != nil {
		t.Fatal(err)
	}
	idx.Put(EncodeLex("apple"), newOID(1))
	idx.Put(EncodeLex("banana"), newOID(2))
	idx.Put(EncodeLex("cherry"), newOID(3))

	ids := idx.Range(EncodeLex("apple"), EncodeLex("banana"), false)
	if len(ids) != 2 {
		t.Fatalf("want 2 ids, got %d", len(ids))
	}
	if ids[0] != newOID(1) || ids[1] != newOID(2) {
		t.Fatalf("unexpected order: %v", ids)
	}
}

func TestRangeDescending(t *testing.T) {
	idx, _ := Open(filepath.Join(t.TempDir(), "t.idx"), Lex)
	idx.Put(EncodeLex("a"), newOID(1))
	idx.Put(EncodeLex("b"), newOID(2))
	idx.Put(EncodeLex("c"), newOID(3))

	ids := idx.Range(nil, nil, true)
	if len(ids) != 3 || ids[0] != newOID(3) || ids[2] != newOID(1) {
		t.Fatalf("descending range wrong: %v", ids)
	}
}

func TestPutDedupesSameKeySameOID(t *testing.T) {
	idx, _ := Open(filepath.Join(t.TempDir(), "t.idx"), Lex)
	idx.Put(EncodeLex("a"), newOID(1))
	idx.Put(EncodeLex("a"), newOID(1))
	ids := idx.Range(EncodeLex("a"), EncodeLex("a"), false)
	if len(ids) != 1 {
		t.Fatalf("want 1 id after duplicate put, got %d", len(ids))
	}
}

func TestRemoveDropsEmptyEntry(t *testing.T) {
	idx, _ := Open(filepath.Join(t.TempDir(), "t.idx"), Lex)
	idx.Put(EncodeLex("a"), newOID(1))
	idx.Remove(EncodeLex("a"), newOID(1))
	if idx.Count() != 0 {
		t.Fatalf("want 0 entries after removing last oid, got %d", idx.Count())
	}
}

func TestTokensAndOr(t *testing.T) {
	idx, _ := Open(filepath.Join(t.TempDir(), "t.idx"), Arr)
	idx.Put([]byte("red"), newOID(1))
	idx.Put([]byte("blue"), newOID(1))
	idx.Put([]byte("red"), newOID(2))
	idx.Put([]byte("green"), newOID(3))

	or := idx.Tokens([][]byte{[]byte("red"), []byte("green")}, false)
	if len(or) != 3 {
		t.Fatalf("OR want 3 ids, got %d: %v", len(or), or)
	}

	and := idx.Tokens([][]byte{[]byte("red"), []byte("blue")}, true)
	if len(and) != 1 || and[0] != newOID(1) {
		t.Fatalf("AND want [oid1], got %v", and)
	}
}

func TestFlushAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.idx")
	idx, err := Open(path, Num)
	if err != nil {
		t.Fatal(err)
	}
	idx.Put(EncodeNum(1.5), newOID(1))
	idx.Put(EncodeNum(-2.5), newOID(2))
	if err := idx.Flush(); err != nil {
		t.Fatal(err)
	}

	idx2, err := Open(path, Num)
	if err != nil {
		t.Fatal(err)
	}
	if idx2.Count() != 2 {
		t.Fatalf("want 2 entries after reopen, got %d", idx2.Count())
	}
	ids := idx2.Range(EncodeNum(-2.5), EncodeNum(-2.5), false)
	if len(ids) != 1 || ids[0] != newOID(2) {
		t.Fatalf("want [oid2], got %v", ids)
	}
}

func TestDropRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.idx")
	idx, _ := Open(path, Lex)
	idx.Put(EncodeLex("a"), newOID(1))
	idx.Flush()
	if err := idx.Drop(); err != nil {
		t.Fatal(err)
	}
	idx2, err := Open(path, Lex)
	if err != nil {
		t.Fatal(err)
	}
	if idx2.Count() != 0 {
		t.Fatalf("want empty index after drop+reopen, got %d entries", idx2.Count())
	}
}
