package meta

import (
	"path/filepath"
	"testing"

	"github.com/jpl-au/docket/record"
)

func testRecordConfig() record.Config {
	return record.Config{Create: true, AlignmentPower: 3, FreePoolPower: 6, BucketPower: 6}
}

func TestPutGetRoundTrip(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.meta"), testRecordConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	m := CollectionMeta{
		Name: "users",
		Opts: Opts{Large: true, ExpectedRecords: 1000},
		Indexes: map[string]IndexDescriptor{
			"email": {Path: "email", Mask: MaskLex, AvgLen: 12.5, HitRatio: 0.9},
		},
	}
	if err := c.Put(m); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.Get("users")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("want found")
	}
	if !got.Opts.Large || got.Opts.ExpectedRecords != 1000 {
		t.Fatalf("opts mismatch: %+v", got.Opts)
	}
	desc, ok := got.Indexes["email"]
	if !ok {
		t.Fatal("want email index descriptor")
	}
	if !desc.Mask.Has(MaskLex) {
		t.Fatal("want LEX bit set")
	}
}

func TestGetMissingReturnsNotOK(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.meta"), testRecordConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	_, ok, err := c.Get("missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("want not found")
	}
}

func TestListEnumeratesCollections(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.meta"), testRecordConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for _, name := range []string{"a", "b", "c"} {
		if err := c.Put(CollectionMeta{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	names, err := c.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 {
		t.Fatalf("want 3 names, got %v", names)
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.meta"), testRecordConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.Put(CollectionMeta{Name: "x"})
	if err := c.Remove("x"); err != nil {
		t.Fatal(err)
	}
	_, ok, _ := c.Get("x")
	if ok {
		t.Fatal("want removed")
	}
}

func TestIndexMaskBits(t *testing.T) {
	m := MaskLex | MaskNum
	if !m.Has(MaskLex) || !m.Has(MaskNum) {
		t.Fatal("want both bits set")
	}
	if m.Has(MaskArr) || m.Has(MaskILex) {
		t.Fatal("want unset bits to report false")
	}
}
