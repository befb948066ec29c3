package index

import (
	"path/filepath"
	"testing"

	"github.com/snomed-tools/terminology/snomed"
	"github.com/snomed-tools/terminology/store"
)

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store.db"), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestBuildClosure exercises the concrete scenario from the specification's
// testable properties: concepts 100/200/300 with IS_A edges 200->100,
// 300->200.
func TestBuildClosure(t *testing.T) {
	s := newTestStore(t)
	rels := []*snomed.Relationship{
		{ID: 1, Active: true, SourceID: 200, DestinationID: 100, TypeID: snomed.IsA},
		{ID: 2, Active: true, SourceID: 300, DestinationID: 200, TypeID: snomed.IsA},
	}
	if err := s.Put(&store.Batch{Relationships: rels}); err != nil {
		t.Fatal(err)
	}
	if err := Build(s); err != nil {
		t.Fatalf("Build: %v", err)
	}

	desc100, err := s.Descendants(100)
	if err != nil {
		t.Fatal(err)
	}
	if desc100.GetCardinality() != 2 || !desc100.Contains(200) || !desc100.Contains(300) {
		t.Errorf("descendants(100) = %v, want {200,300}", desc100.ToArray())
	}

	desc200, _ := s.Descendants(200)
	if desc200.GetCardinality() != 1 || !desc200.Contains(300) {
		t.Errorf("descendants(200) = %v, want {300}", desc200.ToArray())
	}

	desc300, _ := s.Descendants(300)
	if desc300.GetCardinality() != 0 {
		t.Errorf("descendants(300) = %v, want {}", desc300.ToArray())
	}

	anc300, err := s.Ancestors(300)
	if err != nil {
		t.Fatal(err)
	}
	if !anc300.Contains(100) || !anc300.Contains(200) {
		t.Errorf("ancestors(300) = %v, want superset of {100,200}", anc300.ToArray())
	}
}

func TestBuildRefsetMembership(t *testing.T) {
	s := newTestStore(t)
	items := []*snomed.RefsetItem{
		{ID: "a", Active: true, RefsetID: 111, ReferencedComponentID: 200},
		{ID: "b", Active: true, RefsetID: 111, ReferencedComponentID: 300},
		{ID: "c", Active: false, RefsetID: 111, ReferencedComponentID: 400}, // inactive: excluded
	}
	if err := s.Put(&store.Batch{RefsetItems: items}); err != nil {
		t.Fatal(err)
	}
	if err := Build(s); err != nil {
		t.Fatalf("Build: %v", err)
	}
	members, err := s.MembersOf(111)
	if err != nil {
		t.Fatal(err)
	}
	if members.GetCardinality() != 2 || !members.Contains(200) || !members.Contains(300) {
		t.Errorf("membersOf(111) = %v, want {200,300}", members.ToArray())
	}
	refsets, err := s.RefsetsFor(200)
	if err != nil {
		t.Fatal(err)
	}
	if !refsets.Contains(111) {
		t.Error("expected refsetsFor(200) to contain 111")
	}
	installed, err := s.InstalledRefsets()
	if err != nil {
		t.Fatal(err)
	}
	if !installed[111] {
		t.Error("expected 111 to be installed")
	}
}

func TestBuildIsIdempotentAfterCrash(t *testing.T) {
	s := newTestStore(t)
	rels := []*snomed.Relationship{
		{ID: 1, Active: true, SourceID: 200, DestinationID: 100, TypeID: snomed.IsA},
	}
	if err := s.Put(&store.Batch{Relationships: rels}); err != nil {
		t.Fatal(err)
	}
	if err := Build(s); err != nil {
		t.Fatal(err)
	}
	// simulate a crashed build leaving partial state, then rerun: result must match a clean build.
	if err := s.ClearPrecomputations(); err != nil {
		t.Fatal(err)
	}
	if err := s.PutRelationshipIndex(rels[0]); err != nil {
		t.Fatal(err)
	}
	if err := Build(s); err != nil {
		t.Fatal(err)
	}
	desc, err := s.Descendants(100)
	if err != nil {
		t.Fatal(err)
	}
	if desc.GetCardinality() != 1 || !desc.Contains(200) {
		t.Errorf("descendants(100) after rebuild = %v, want {200}", desc.ToArray())
	}
}
