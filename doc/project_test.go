package doc

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestProjectIncludeOnly(t *testing.T) {
	d := mustMarshal(t, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}, {Key: "c", Value: 3}})
	out, err := Project(d, Fields{"a": true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := Lookup(out, "a"); !ok {
		t.Fatal("want a included")
	}
	if _, ok := Lookup(out, "b"); ok {
		t.Fatal("want b excluded")
	}
}

func TestProjectExcludeOnly(t *testing.T) {
	d := mustMarshal(t, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}})
	out, err := Project(d, Fields{"b": false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := Lookup(out, "a"); !ok {
		t.Fatal("want a kept")
	}
	if _, ok := Lookup(out, "b"); ok {
		t.Fatal("want b dropped")
	}
}

func TestProjectEmptyFieldsYieldsEmptyDoc(t *testing.T) {
	// An empty field set is an include-set that includes nothing, not
	// "no projection" — the query compiler never hands Project a literally
	// empty set (it forces {_id: true}), but Project itself must not treat
	// {} as an identity shortcut.
	d := mustMarshal(t, bson.D{{Key: "a", Value: 1}})
	out, err := Project(d, Fields{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := Lookup(out, "a"); ok {
		t.Fatal("want a excluded when field set is empty")
	}
}
