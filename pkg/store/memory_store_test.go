package store

import (
	"testing"

	"bookbazaar/pkg/domain"
)

func seedListings(t *testing.T, m *MemoryStore) []string {
	t.Helper()
	docs := []domain.Listing{
		{"title": "Algebra I", "author": "XYZ Press", "price": float64(15), "category": "textbooks", "condition": "good"},
		{"title": "Calculus", "author": "Acme", "price": float64(35), "category": "textbooks", "condition": "new"},
		{"title": "Rare Atlas", "author": "Maps Inc", "price": float64(120), "category": "reference", "condition": "fair"},
		{"Book Name": "Legacy Primer", "Publisher": "Old House", "Price": float64(10)},
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		got, err := m.InsertListings([]domain.Listing{doc})
		if err != nil {
			t.Fatalf("insert listing: %v", err)
		}
		ids = append(ids, got[0])
	}
	return ids
}

func TestListListingsPriceRanges(t *testing.T) {
	m := NewMemoryStore()
	seedListings(t, m)

	got, err := m.ListListings(Filters{PriceRange: "20-50"}, 50)
	if err != nil {
		t.Fatalf("list 20-50: %v", err)
	}
	if len(got) != 1 || got[0]["title"] != "Calculus" {
		t.Fatalf("20-50 result unexpected: %v", got)
	}

	got, err = m.ListListings(Filters{PriceRange: "100+"}, 50)
	if err != nil {
		t.Fatalf("list 100+: %v", err)
	}
	if len(got) != 1 || got[0]["title"] != "Rare Atlas" {
		t.Fatalf("100+ result unexpected: %v", got)
	}

	// Unrecognized bucket imposes no constraint.
	got, err = m.ListListings(Filters{PriceRange: "cheap"}, 50)
	if err != nil {
		t.Fatalf("list unrecognized: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("unrecognized bucket should match all, got %d", len(got))
	}
}

func TestListListingsSearchMatchesTitleOrAuthor(t *testing.T) {
	m := NewMemoryStore()
	seedListings(t, m)

	got, err := m.ListListings(Filters{Search: "alg"}, 50)
	if err != nil {
		t.Fatalf("search title: %v", err)
	}
	if len(got) != 1 || got[0]["title"] != "Algebra I" {
		t.Fatalf("title search unexpected: %v", got)
	}

	got, err = m.ListListings(Filters{Search: "MAPS"}, 50)
	if err != nil {
		t.Fatalf("search author: %v", err)
	}
	if len(got) != 1 || got[0]["title"] != "Rare Atlas" {
		t.Fatalf("author search unexpected: %v", got)
	}

	// Legacy documents carry no canonical title/author, so filtered
	// queries skip them.
	got, err = m.ListListings(Filters{Search: "Legacy"}, 50)
	if err != nil {
		t.Fatalf("search legacy: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("legacy doc should not match canonical search, got %v", got)
	}
}

func TestListListingsInsertionOrderAndLimit(t *testing.T) {
	m := NewMemoryStore()
	seedListings(t, m)

	got, err := m.ListListings(Filters{}, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(got) != 2 || got[0]["title"] != "Algebra I" || got[1]["title"] != "Calculus" {
		t.Fatalf("limited list unexpected: %v", got)
	}
}

func TestDeleteListing(t *testing.T) {
	m := NewMemoryStore()
	ids := seedListings(t, m)

	if err := m.DeleteListing(ids[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.GetListing(ids[0]); ok {
		t.Fatalf("deleted listing still present")
	}
	got, _ := m.ListListings(Filters{}, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 listings after delete, got %d", len(got))
	}
}

func TestSaveListingReplacesDocument(t *testing.T) {
	m := NewMemoryStore()
	ids := seedListings(t, m)

	doc, _, _ := m.GetListing(ids[1])
	doc["price"] = float64(40)
	if err := m.SaveListing(ids[1], doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	updated, ok, _ := m.GetListing(ids[1])
	if !ok || updated["price"] != float64(40) {
		t.Fatalf("update not applied: %v", updated)
	}
	got, _ := m.ListListings(Filters{}, 0)
	if len(got) != 4 {
		t.Fatalf("replace must not duplicate, got %d listings", len(got))
	}
}

func TestUserEmailUniquenessHelpers(t *testing.T) {
	m := NewMemoryStore()
	u := domain.User{ID: "u1", Name: "Ada", Email: "ada@example.com", Role: domain.RoleUser}
	if err := m.SaveUser(u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	ok, err := m.HasUserEmail("ada@example.com")
	if err != nil || !ok {
		t.Fatalf("HasUserEmail = (%v, %v), want (true, nil)", ok, err)
	}
	got, found, err := m.GetUserByEmail("ada@example.com")
	if err != nil || !found || got.ID != "u1" {
		t.Fatalf("GetUserByEmail unexpected: %v %v %v", got, found, err)
	}
	if _, found, _ := m.GetUserByID("nope"); found {
		t.Fatalf("unknown user id should not resolve")
	}
}

func TestFiltersIsZero(t *testing.T) {
	if !(Filters{}).IsZero() {
		t.Fatalf("empty filters should be zero")
	}
	set := []Filters{
		{Search: "atlas"},
		{Category: "textbooks"},
		{Condition: "good"},
		{PriceRange: "20-50"},
	}
	for _, f := range set {
		if f.IsZero() {
			t.Fatalf("filters %+v should not be zero", f)
		}
	}

	// The zero value imposes no constraint: every document matches,
	// including legacy-shape ones with no canonical fields at all.
	m := NewMemoryStore()
	ids := seedListings(t, m)
	docs, err := m.ListListings(Filters{}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != len(ids) {
		t.Fatalf("unfiltered list = %d docs, want %d", len(docs), len(ids))
	}
}
