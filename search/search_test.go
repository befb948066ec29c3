package search

import (
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "search.db"), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexAndSearchExactMatch(t *testing.T) {
	idx := newTestIndex(t)
	docs := []IndexedDescription{
		{DescriptionID: 1, ConceptID: 100, Term: "Myocardial infarction", TypeID: 900000000000013009, ConceptActive: true, PreferredIn: []int64{999001261000000100}},
		{DescriptionID: 2, ConceptID: 100, Term: "Heart attack", TypeID: 900000000000013009, ConceptActive: true, AcceptableIn: []int64{999001261000000100}},
		{DescriptionID: 3, ConceptID: 200, Term: "Fracture of femur", TypeID: 900000000000013009, ConceptActive: true},
	}
	if err := idx.Index(docs); err != nil {
		t.Fatalf("Index: %v", err)
	}

	hits, err := idx.Search(Params{Text: "heart attack", MaxHits: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit for 'heart attack'")
	}
	found := false
	for _, h := range hits {
		if h.DescriptionID == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected description 2 among hits, got %+v", hits)
	}
}

func TestSearchRespectsConceptIDFilter(t *testing.T) {
	idx := newTestIndex(t)
	docs := []IndexedDescription{
		{DescriptionID: 1, ConceptID: 100, Term: "Fracture", ConceptActive: true},
		{DescriptionID: 2, ConceptID: 200, Term: "Fracture", ConceptActive: true},
	}
	if err := idx.Index(docs); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(Params{Text: "fracture", ConceptIDFilter: []int64{200}})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.DescriptionID != 2 {
			t.Errorf("expected only description 2 to survive the concept filter, got %+v", hits)
		}
	}
}

func TestSearchActiveOnlyExcludesInactiveConcepts(t *testing.T) {
	idx := newTestIndex(t)
	docs := []IndexedDescription{
		{DescriptionID: 1, ConceptID: 100, Term: "Obsolete disorder", ConceptActive: false},
		{DescriptionID: 2, ConceptID: 200, Term: "Current disorder", ConceptActive: true},
	}
	if err := idx.Index(docs); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(Params{Text: "disorder", ActiveOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.DescriptionID == 1 {
			t.Errorf("expected inactive-concept description to be excluded, got %+v", hits)
		}
	}
}

func TestSearchExcludesFsnUnlessIncluded(t *testing.T) {
	idx := newTestIndex(t)
	const fsnTypeID = 900000000000003001
	docs := []IndexedDescription{
		{DescriptionID: 1, ConceptID: 100, Term: "Fracture of femur (disorder)", TypeID: fsnTypeID, ConceptActive: true},
		{DescriptionID: 2, ConceptID: 100, Term: "Fracture of femur", TypeID: 900000000000013009, ConceptActive: true},
	}
	if err := idx.Index(docs); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(Params{Text: "fracture femur"})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.DescriptionID == 1 {
			t.Errorf("expected FSN to be excluded by default, got %+v", hits)
		}
	}

	hits, err = idx.Search(Params{Text: "fracture femur", IncludeFsn: true})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, h := range hits {
		if h.DescriptionID == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected FSN among hits when IncludeFsn is set, got %+v", hits)
	}
}

func TestSearchRequiresText(t *testing.T) {
	idx := newTestIndex(t)
	if _, err := idx.Search(Params{}); err == nil {
		t.Error("expected an error for empty search text")
	}
}
