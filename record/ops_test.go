package record

import (
	"bytes"
	"path/filepath"
	"testing"
)

func testConfig() Config {
	return Config{
		Create:         true,
		AlignmentPower: 3,
		FreePoolPower:  6,
		BucketPower:    6,
	}
}

func openTestFile(t *testing.T) *File {
	t.Helper()
	dir := t.TempDir()
	f, err := Open(filepath.Join(dir, "test.rec"), testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestPutGetRoundTrip(t *testing.T) {
	f := openTestFile(t)

	val := Value{"$": []byte("hello world")}
	if err := f.Put([]byte("k1"), val, Overwrite, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := f.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got["$"], val["$"]) {
		t.Fatalf("got %q want %q", got["$"], val["$"])
	}
}

func TestGetMissing(t *testing.T) {
	f := openTestFile(t)
	if _, err := f.Get([]byte("nope")); err != ErrNoRecord {
		t.Fatalf("want ErrNoRecord, got %v", err)
	}
}

func TestPutKeepMode(t *testing.T) {
	f := openTestFile(t)
	val := Value{"$": []byte("a")}
	if err := f.Put([]byte("k"), val, Overwrite, nil); err != nil {
		t.Fatal(err)
	}
	err := f.Put([]byte("k"), Value{"$": []byte("b")}, Keep, nil)
	if err != ErrKeepExist {
		t.Fatalf("want ErrKeepExist, got %v", err)
	}
	got, _ := f.Get([]byte("k"))
	if string(got["$"]) != "a" {
		t.Fatalf("Keep mode should not overwrite, got %q", got["$"])
	}
}

func TestPutConcatMode(t *testing.T) {
	f := openTestFile(t)
	if err := f.Put([]byte("k"), Value{"$": []byte("foo")}, Overwrite, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.Put([]byte("k"), Value{"$": []byte("bar")}, Concat, nil); err != nil {
		t.Fatal(err)
	}
	got, _ := f.Get([]byte("k"))
	if string(got["$"]) != "foobar" {
		t.Fatalf("want foobar, got %q", got["$"])
	}
}

func TestPutAddIntMode(t *testing.T) {
	f := openTestFile(t)
	buf := encodeLEInt(5, 8)
	if err := f.Put([]byte("k"), Value{"n": buf}, Overwrite, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.Put([]byte("k"), Value{"n": encodeLEInt(3, 8)}, AddInt, nil); err != nil {
		t.Fatal(err)
	}
	got, _ := f.Get([]byte("k"))
	if decodeLEInt(got["n"]) != 8 {
		t.Fatalf("want 8, got %d", decodeLEInt(got["n"]))
	}
}

func TestPutProcMode(t *testing.T) {
	f := openTestFile(t)
	if err := f.Put([]byte("k"), Value{"$": []byte("orig")}, Overwrite, nil); err != nil {
		t.Fatal(err)
	}
	proc := func(old Value) (Value, ProcAction) {
		if string(old["$"]) != "orig" {
			t.Fatalf("proc saw unexpected old value %q", old["$"])
		}
		return Value{"$": []byte("updated")}, ProcReplace
	}
	if err := f.Put([]byte("k"), nil, Proc, proc); err != nil {
		t.Fatal(err)
	}
	got, _ := f.Get([]byte("k"))
	if string(got["$"]) != "updated" {
		t.Fatalf("want updated, got %q", got["$"])
	}
}

func TestPutProcDelete(t *testing.T) {
	f := openTestFile(t)
	if err := f.Put([]byte("k"), Value{"$": []byte("x")}, Overwrite, nil); err != nil {
		t.Fatal(err)
	}
	proc := func(old Value) (Value, ProcAction) { return nil, ProcDelete }
	if err := f.Put([]byte("k"), nil, Proc, proc); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Get([]byte("k")); err != ErrNoRecord {
		t.Fatalf("want deleted, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := openTestFile(t)
	if err := f.Put([]byte("k"), Value{"$": []byte("x")}, Overwrite, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete([]byte("k")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Get([]byte("k")); err != ErrNoRecord {
		t.Fatalf("want ErrNoRecord after delete, got %v", err)
	}
	if f.Count() != 0 {
		t.Fatalf("want count 0, got %d", f.Count())
	}
}

func TestManyKeysSurviveCollisions(t *testing.T) {
	f := openTestFile(t)
	const n = 300
	for i := 0; i < n; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		if err := f.Put(k, Value{"$": k}, Overwrite, nil); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		got, err := f.Get(k)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if !bytes.Equal(got["$"], k) {
			t.Fatalf("get %d: got %v want %v", i, got["$"], k)
		}
	}
	if f.Count() != n {
		t.Fatalf("want count %d, got %d", n, f.Count())
	}
}

func TestReopenPersistsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.rec")
	f, err := Open(path, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Put([]byte("k"), Value{"$": []byte("v")}, Overwrite, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f2, err := Open(path, Config{AlignmentPower: 3, FreePoolPower: 6, BucketPower: 6})
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()
	got, err := f2.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got["$"]) != "v" {
		t.Fatalf("want v, got %q", got["$"])
	}
}

func TestOpenMissingNoCreateFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "absent.rec"), Config{})
	if err == nil {
		t.Fatal("want error opening nonexistent file without Create")
	}
}

func TestOpenReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ro.rec")
	f, err := Open(path, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	ro, err := Open(path, Config{ReadOnly: true, AlignmentPower: 3, FreePoolPower: 6, BucketPower: 6})
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if err := ro.Put([]byte("k"), Value{"$": []byte("v")}, Overwrite, nil); err != ErrReadOnly {
		t.Fatalf("want ErrReadOnly, got %v", err)
	}
}

func TestDeleteThenReuseSlot(t *testing.T) {
	f := openTestFile(t)
	big := bytes.Repeat([]byte("x"), 200)
	if err := f.Put([]byte("big"), Value{"$": big}, Overwrite, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete([]byte("big")); err != nil {
		t.Fatal(err)
	}
	small := []byte("small")
	if err := f.Put([]byte("small"), Value{"$": small}, Overwrite, nil); err != nil {
		t.Fatal(err)
	}
	got, err := f.Get([]byte("small"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got["$"], small) {
		t.Fatalf("got %q want %q", got["$"], small)
	}
}
