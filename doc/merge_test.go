package doc

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestMergeOverwritesTopLevelKeepsRest(t *testing.T) {
	oldDoc := mustMarshal(t, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}})
	newDoc := mustMarshal(t, bson.D{{Key: "b", Value: 20}, {Key: "c", Value: 3}})

	merged, err := Merge(oldDoc, newDoc)
	if err != nil {
		t.Fatal(err)
	}

	av, ok := Lookup(merged, "a")
	if !ok {
		t.Fatal("want a kept from old")
	}
	if f, _ := AsFloat64(av); f != 1 {
		t.Fatalf("a = %v, want 1", f)
	}
	bv, _ := Lookup(merged, "b")
	if f, _ := AsFloat64(bv); f != 20 {
		t.Fatalf("b = %v, want 20 (new wins)", f)
	}
	cv, ok := Lookup(merged, "c")
	if !ok {
		t.Fatal("want c added from new")
	}
	if f, _ := AsFloat64(cv); f != 3 {
		t.Fatalf("c = %v, want 3", f)
	}
}

func TestMergeEmptyOld(t *testing.T) {
	oldDoc := mustMarshal(t, bson.D{})
	newDoc := mustMarshal(t, bson.D{{Key: "x", Value: 1}})
	merged, err := Merge(oldDoc, newDoc)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := Lookup(merged, "x")
	if !ok {
		t.Fatal("want x present")
	}
	if f, _ := AsFloat64(v); f != 1 {
		t.Fatalf("got %v", f)
	}
}
