package collection

import (
	"testing"

	"github.com/jpl-au/docket/doc"
	"github.com/jpl-au/docket/index"
	"github.com/jpl-au/docket/oid"
	"github.com/jpl-au/docket/record"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testRecordConfig() record.Config {
	return record.Config{Create: true, AlignmentPower: 3, FreePoolPower: 6, BucketPower: 6}
}

func openTestCollection(t *testing.T) *Collection {
	t.Helper()
	c, err := Open(t.TempDir(), "widgets", testRecordConfig(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func mustMarshal(t *testing.T, v interface{}) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bson.Raw(b)
}

func TestSaveAssignsOIDWhenAbsent(t *testing.T) {
	c := openTestCollection(t)
	d := mustMarshal(t, bson.D{{Key: "name", Value: "widget"}})
	id, err := c.Save(d, false)
	if err != nil {
		t.Fatal(err)
	}
	if id.IsZero() {
		t.Fatal("want nonzero oid assigned")
	}
	got, ok, err := c.Load(id)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if v, ok := got.Lookup("name").StringValueOK(); !ok || v != "widget" {
		t.Fatalf("got name=%q ok=%v", v, ok)
	}
}

func TestSaveMergeKeepsOldFieldsReplacesOverlap(t *testing.T) {
	c := openTestCollection(t)
	id, err := c.Save(mustMarshal(t, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}}), false)
	if err != nil {
		t.Fatal(err)
	}

	update := mustMarshal(t, bson.D{{Key: "_id", Value: primitive.ObjectID(id)}, {Key: "b", Value: 20}, {Key: "c", Value: 3}})
	if _, err := c.Save(update, true); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.Load(id)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if a, ok := doc.AsFloat64(got.Lookup("a")); !ok || a != 1 {
		t.Fatalf("want a kept from old, got %v ok=%v", a, ok)
	}
	if b, ok := doc.AsFloat64(got.Lookup("b")); !ok || b != 20 {
		t.Fatalf("want b overwritten to 20, got %v ok=%v", b, ok)
	}
	if cc, ok := doc.AsFloat64(got.Lookup("c")); !ok || cc != 3 {
		t.Fatalf("want c added, got %v ok=%v", cc, ok)
	}
}

func TestRemoveDeletesDocument(t *testing.T) {
	c := openTestCollection(t)
	id, err := c.Save(mustMarshal(t, bson.D{{Key: "x", Value: 1}}), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(id); err != nil {
		t.Fatal(err)
	}
	_, ok, err := c.Load(id)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("want removed")
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	c := openTestCollection(t)
	if err := c.Remove(oid.New()); err != nil {
		t.Fatal(err)
	}
}

func TestSetIndexCreateAndQuery(t *testing.T) {
	c := openTestCollection(t)
	if err := c.SetIndex("name", index.Lex, FlagCreate); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Save(mustMarshal(t, bson.D{{Key: "name", Value: "alpha"}}), false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Save(mustMarshal(t, bson.D{{Key: "name", Value: "beta"}}), false); err != nil {
		t.Fatal(err)
	}

	idxs := c.Indexes("name")
	idx, ok := idxs[index.Lex]
	if !ok {
		t.Fatal("want LEX index registered")
	}
	key := index.EncodeLex("alpha")
	ids := idx.Range(key, key, false)
	if len(ids) != 1 {
		t.Fatalf("want 1 match for alpha, got %d", len(ids))
	}
}

func TestSetIndexDropAllRemovesEveryType(t *testing.T) {
	c := openTestCollection(t)
	if err := c.SetIndex("name", index.Lex, FlagCreate); err != nil {
		t.Fatal(err)
	}
	if err := c.SetIndex("name", index.ILex, FlagCreate); err != nil {
		t.Fatal(err)
	}
	if err := c.SetIndex("name", index.Lex, FlagDropAll); err != nil {
		t.Fatal(err)
	}
	if len(c.Indexes("name")) != 0 {
		t.Fatal("want no indexes left for name")
	}
}

func TestSaveReindexesOnUpdate(t *testing.T) {
	c := openTestCollection(t)
	if err := c.SetIndex("name", index.Lex, FlagCreate); err != nil {
		t.Fatal(err)
	}
	id, err := c.Save(mustMarshal(t, bson.D{{Key: "name", Value: "alpha"}}), false)
	if err != nil {
		t.Fatal(err)
	}
	renamed := mustMarshal(t, bson.D{{Key: "_id", Value: primitive.ObjectID(id)}, {Key: "name", Value: "gamma"}})
	if _, err := c.Save(renamed, false); err != nil {
		t.Fatal(err)
	}

	idx := c.Indexes("name")[index.Lex]
	alphaKey := index.EncodeLex("alpha")
	if ids := idx.Range(alphaKey, alphaKey, false); len(ids) != 0 {
		t.Fatalf("want alpha key removed, found %d", len(ids))
	}
	gammaKey := index.EncodeLex("gamma")
	if ids := idx.Range(gammaKey, gammaKey, false); len(ids) != 1 {
		t.Fatalf("want gamma key present, found %d", len(ids))
	}
}

func TestNewCursorWalksAllDocuments(t *testing.T) {
	c := openTestCollection(t)
	for i := 0; i < 5; i++ {
		if _, err := c.Save(mustMarshal(t, bson.D{{Key: "n", Value: i}}), false); err != nil {
			t.Fatal(err)
		}
	}
	cur := c.NewCursor()
	defer cur.Close()
	count := 0
	for {
		_, _, ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 5 {
		t.Fatalf("want 5 documents, got %d", count)
	}
}

func TestTransactionAbortRollsBackSave(t *testing.T) {
	c := openTestCollection(t)
	if err := c.TransactionBegin(); err != nil {
		t.Fatal(err)
	}
	id, err := c.Save(mustMarshal(t, bson.D{{Key: "x", Value: 1}}), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.TransactionAbort(); err != nil {
		t.Fatal(err)
	}
	_, ok, err := c.Load(id)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("want save rolled back")
	}
}
