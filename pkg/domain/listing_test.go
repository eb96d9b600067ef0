package domain

import (
	"reflect"
	"testing"
)

func TestNormalizeListingLegacyDocument(t *testing.T) {
	doc := Listing{
		"Book Name": "Algebra I",
		"Publisher": "XYZ Press",
		"Price":     float64(15),
		"images":    []any{"http://x/1.png"},
	}
	got := NormalizeListing(doc)

	if got[FieldTitle] != "Algebra I" {
		t.Fatalf("title = %v, want %q", got[FieldTitle], "Algebra I")
	}
	if got[FieldAuthor] != "XYZ Press" {
		t.Fatalf("author = %v, want %q", got[FieldAuthor], "XYZ Press")
	}
	if got[FieldPrice] != float64(15) {
		t.Fatalf("price = %v, want 15", got[FieldPrice])
	}
	if got[FieldImage] != "http://x/1.png" {
		t.Fatalf("image = %v, want %q", got[FieldImage], "http://x/1.png")
	}
	// Legacy fields stay in place; only canonical ones are added.
	if got[LegacyTitle] != "Algebra I" {
		t.Fatalf("legacy title should be preserved, got %v", got[LegacyTitle])
	}
}

func TestNormalizeListingDefaults(t *testing.T) {
	got := NormalizeListing(Listing{})
	if got[FieldTitle] != "Untitled" {
		t.Fatalf("title = %v, want Untitled", got[FieldTitle])
	}
	if got[FieldAuthor] != "Unknown" {
		t.Fatalf("author = %v, want Unknown", got[FieldAuthor])
	}
	if got[FieldPrice] != float64(0) {
		t.Fatalf("price = %v, want 0", got[FieldPrice])
	}
	if _, ok := got[FieldImage]; ok {
		t.Fatalf("image should stay absent without legacy images, got %v", got[FieldImage])
	}
}

func TestNormalizeListingEmptyImagesList(t *testing.T) {
	got := NormalizeListing(Listing{LegacyImages: []any{}})
	if _, ok := got[FieldImage]; ok {
		t.Fatalf("image should stay absent for empty images list")
	}
}

func TestNormalizeListingIdempotent(t *testing.T) {
	docs := []Listing{
		{
			"Book Name": "History of Sindh",
			"Price":     25,
			"images":    []any{"a.png", "b.png"},
		},
		{
			FieldTitle:  "Canonical Book",
			FieldAuthor: "A. Author",
			FieldPrice:  float64(9.5),
			FieldImage:  "/uploads/x.png",
		},
	}
	for _, doc := range docs {
		once := NormalizeListing(doc)
		twice := NormalizeListing(once)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("normalize not idempotent: %v vs %v", once, twice)
		}
	}
}

func TestNormalizeListingDoesNotMutateInput(t *testing.T) {
	doc := Listing{"Book Name": "Original"}
	_ = NormalizeListing(doc)
	if _, ok := doc[FieldTitle]; ok {
		t.Fatalf("input document was mutated")
	}
}

func TestNumericValue(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(12.5), 12.5, true},
		{int(7), 7, true},
		{int64(100), 100, true},
		{"42", 42, true},
		{" 19.99 ", 19.99, true},
		{"N/A", 0, false},
		{nil, 0, false},
		{[]any{1}, 0, false},
	}
	for _, tc := range cases {
		got, ok := NumericValue(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("NumericValue(%v) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
