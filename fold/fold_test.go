package fold

import (
	"testing"

	"golang.org/x/text/language"
)

func TestFoldCaseInsensitive(t *testing.T) {
	if Fold("Hello") != Fold("hello") {
		t.Fatalf("%q != %q", Fold("Hello"), Fold("hello"))
	}
}

func TestFoldIdempotent(t *testing.T) {
	s := "MixedCase123"
	if Fold(Fold(s)) != Fold(s) {
		t.Fatalf("fold not idempotent for %q", s)
	}
}

func TestNewReturnsUsableFunc(t *testing.T) {
	f := New(language.English)
	if f("ABC") != f("abc") {
		t.Fatalf("locale-pinned fold not case-insensitive")
	}
}
