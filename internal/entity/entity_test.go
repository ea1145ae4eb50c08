package entity

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	if err := (&Entity{Kind: Document, ID: "d1"}).Validate(); err != nil {
		t.Fatal(err)
	}
	err := (&Entity{Kind: Document, Name: "notes.md"}).Validate()
	if !errors.Is(err, ErrMissingID) {
		t.Fatalf("err = %v", err)
	}
	if got, want := err.Error(), `document "notes.md": missing id`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestHashable(t *testing.T) {
	for _, k := range Kinds {
		if got := k.Hashable(); got != (k == Document) {
			t.Errorf("%s.Hashable() = %v", k, got)
		}
	}
}
