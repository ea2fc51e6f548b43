package docket

import (
	"path/filepath"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func testConfig() Config {
	return Config{
		Mode:           ModeReader | ModeWriter | ModeCreate,
		AlignmentPower: 3,
		FreePoolPower:  6,
		BucketPower:    6,
	}
}

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "db"), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustMarshal(t *testing.T, v interface{}) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bson.Raw(b)
}

func TestOpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	db, err := Open(dir, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if !db.IsOpen() {
		t.Fatal("want open database")
	}
}

func TestOpenWithoutCreateFailsOnMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	cfg := testConfig()
	cfg.Mode = ModeReader | ModeWriter
	if _, err := Open(dir, cfg); err == nil {
		t.Fatal("want error opening missing dir without ModeCreate")
	}
}

func TestEnsureCollectionCreatesAndCaches(t *testing.T) {
	db := openTestDB(t)
	c1, err := db.EnsureCollection("widgets")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := db.EnsureCollection("widgets")
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatal("want same cached collection instance")
	}
}

func TestEnsureCollectionRejectsBadName(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.EnsureCollection("1bad-name!"); err != ErrInvalidName {
		t.Fatalf("want ErrInvalidName, got %v", err)
	}
}

func TestSaveAndFindOne(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Save("widgets", mustMarshal(t, bson.D{{Key: "name", Value: "alpha"}}), false); err != nil {
		t.Fatal(err)
	}

	q := mustMarshal(t, bson.D{{Key: "name", Value: "alpha"}})
	got, ok, err := db.FindOne("widgets", q)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("want found")
	}
	if v, _ := got.Lookup("name").StringValueOK(); v != "alpha" {
		t.Fatalf("got name=%q", v)
	}
}

func TestFindReturnsAllMatches(t *testing.T) {
	db := openTestDB(t)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := db.Save("widgets", mustMarshal(t, bson.D{{Key: "name", Value: name}}), false); err != nil {
			t.Fatal(err)
		}
	}
	q := mustMarshal(t, bson.D{})
	res, count, err := db.Find("widgets", q, nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 || len(res) != 3 {
		t.Fatalf("want 3 matches, got count=%d len=%d", count, len(res))
	}
}

func TestDropCollectionRemovesEntry(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.EnsureCollection("widgets"); err != nil {
		t.Fatal(err)
	}
	if err := db.DropCollection("widgets"); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, name := range db.Collections() {
		if name == "widgets" {
			found = true
		}
	}
	if found {
		t.Fatal("want widgets dropped from Collections()")
	}
}

func TestDropCollectionMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	if err := db.DropCollection("nope"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCloseThenReopenPersistsData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := Open(dir, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Save("widgets", mustMarshal(t, bson.D{{Key: "name", Value: "alpha"}}), false); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(dir, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()

	q := mustMarshal(t, bson.D{{Key: "name", Value: "alpha"}})
	_, ok, err := db2.FindOne("widgets", q)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("want data to survive reopen")
	}
}

func TestMetaReportsCollectionsAndCounts(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Save("widgets", mustMarshal(t, bson.D{{Key: "name", Value: "alpha"}}), false); err != nil {
		t.Fatal(err)
	}
	m, err := db.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if m.Path == "" {
		t.Fatal("want nonempty path")
	}
	var found bool
	for _, cm := range m.Collections {
		if cm.Name == "widgets" {
			found = true
			if cm.Records != 1 {
				t.Fatalf("want 1 record, got %d", cm.Records)
			}
		}
	}
	if !found {
		t.Fatal("want widgets in meta snapshot")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("want second close to be a no-op, got %v", err)
	}
	if db.IsOpen() {
		t.Fatal("want closed")
	}
}

func TestEnsureCollectionAfterCloseFails(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := db.EnsureCollection("widgets"); err != ErrClosed {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}
