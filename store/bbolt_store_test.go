package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/snomed-tools/terminology/snomed"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetConcept(t *testing.T) {
	s := newTestStore(t)
	et, _ := time.Parse("20060102", "20170701")
	c := &snomed.Concept{ID: 24700007, EffectiveTime: et, Active: true, ModuleID: 900000000000207008, DefinitionStatusID: snomed.PrimitiveDefinitionStatusID}
	if err := s.Put(&Batch{Concepts: []*snomed.Concept{c}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, found, err := s.GetConcept(24700007)
	if err != nil || !found {
		t.Fatalf("GetConcept: found=%v err=%v", found, err)
	}
	if got.ID != c.ID || !got.Active {
		t.Errorf("got %+v, want %+v", got, c)
	}
}

func TestEffectiveTimeReconciliation(t *testing.T) {
	s := newTestStore(t)
	older, _ := time.Parse("20060102", "20200101")
	newer, _ := time.Parse("20060102", "20210101")
	d1 := &snomed.Description{ID: 1, EffectiveTime: older, Active: true, Term: "old"}
	d2 := &snomed.Description{ID: 1, EffectiveTime: newer, Active: false, Term: "new"}
	if err := s.Put(&Batch{Descriptions: []*snomed.Description{d1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(&Batch{Descriptions: []*snomed.Description{d2}}); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.GetDescription(1)
	if err != nil || !found {
		t.Fatalf("GetDescription: found=%v err=%v", found, err)
	}
	if got.Active || got.Term != "new" {
		t.Errorf("reconciliation kept wrong row: %+v", got)
	}
	// Replaying the older row afterwards must not regress the retained one.
	if err := s.Put(&Batch{Descriptions: []*snomed.Description{d1}}); err != nil {
		t.Fatal(err)
	}
	got2, _, _ := s.GetDescription(1)
	if got2.Term != "new" {
		t.Errorf("reimport regressed retained record to %+v", got2)
	}
}

func TestDescriptionsOfConcept(t *testing.T) {
	s := newTestStore(t)
	d1 := &snomed.Description{ID: 10, ConceptID: 100, Term: "Clinical finding"}
	d2 := &snomed.Description{ID: 11, ConceptID: 100, Term: "Clinical finding (finding)"}
	if err := s.Put(&Batch{Descriptions: []*snomed.Description{d1, d2}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.DescriptionsOfConcept(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 descriptions, got %d", len(got))
	}
}

func TestRelationshipIndex(t *testing.T) {
	s := newTestStore(t)
	r := &snomed.Relationship{ID: 1, Active: true, SourceID: 300, DestinationID: 200, TypeID: snomed.IsA}
	if err := s.Put(&Batch{Relationships: []*snomed.Relationship{r}}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutRelationshipIndex(r); err != nil {
		t.Fatal(err)
	}
	parents, err := s.ParentRelationships(300, snomed.IsA)
	if err != nil {
		t.Fatal(err)
	}
	if len(parents) != 1 || parents[0].DestinationID != 200 {
		t.Errorf("unexpected parents: %+v", parents)
	}
	children, err := s.ChildRelationships(200, snomed.IsA)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].SourceID != 300 {
		t.Errorf("unexpected children: %+v", children)
	}
}

func TestClosure(t *testing.T) {
	s := newTestStore(t)
	descendants := roaring64.New()
	descendants.Add(200)
	descendants.Add(300)
	if err := s.PutClosure(100, descendants); err != nil {
		t.Fatal(err)
	}
	got, err := s.Descendants(100)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Contains(200) || !got.Contains(300) || got.GetCardinality() != 2 {
		t.Errorf("unexpected descendants(100) = %v", got.ToArray())
	}
	ancestorsOf300, err := s.Ancestors(300)
	if err != nil {
		t.Fatal(err)
	}
	if !ancestorsOf300.Contains(100) {
		t.Errorf("expected 100 in ancestors(300), got %v", ancestorsOf300.ToArray())
	}
}

func TestRefsetMembership(t *testing.T) {
	s := newTestStore(t)
	members := roaring64.New()
	members.Add(200)
	members.Add(300)
	componentRefsets := map[int64]*roaring64.Bitmap{
		200: bitmapOf(999),
		300: bitmapOf(999),
	}
	if err := s.PutRefsetMembership(componentRefsets, map[int64]*roaring64.Bitmap{999: members}, nil); err != nil {
		t.Fatal(err)
	}
	got, err := s.MembersOf(999)
	if err != nil {
		t.Fatal(err)
	}
	if got.GetCardinality() != 2 {
		t.Errorf("expected 2 members, got %d", got.GetCardinality())
	}
	refsets, err := s.RefsetsFor(200)
	if err != nil {
		t.Fatal(err)
	}
	if !refsets.Contains(999) {
		t.Errorf("expected refset 999 in refsetsFor(200)")
	}
	installed, err := s.InstalledRefsets()
	if err != nil {
		t.Fatal(err)
	}
	if !installed[999] {
		t.Error("expected 999 to be installed")
	}
}

func TestRefsetItemsForComponent(t *testing.T) {
	s := newTestStore(t)
	preferred := &snomed.RefsetItem{ID: "uuid-1", Active: true, RefsetID: 999001261000000113, ReferencedComponentID: 500, AcceptabilityID: snomed.PreferredAcceptabilityID}
	acceptable := &snomed.RefsetItem{ID: "uuid-2", Active: true, RefsetID: 999001261000000113, ReferencedComponentID: 501, AcceptabilityID: snomed.AcceptableAcceptabilityID}
	otherRefset := &snomed.RefsetItem{ID: "uuid-3", Active: true, RefsetID: 1000, ReferencedComponentID: 500, AcceptabilityID: snomed.PreferredAcceptabilityID}
	if err := s.Put(&Batch{RefsetItems: []*snomed.RefsetItem{preferred, acceptable, otherRefset}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.RefsetItemsForComponent(500, 999001261000000113)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "uuid-1" {
		t.Errorf("expected only uuid-1 for (500, language refset), got %+v", got)
	}
	none, err := s.RefsetItemsForComponent(999, 999001261000000113)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no items for an unreferenced component, got %+v", none)
	}
}

func bitmapOf(ids ...uint64) *roaring64.Bitmap {
	bm := roaring64.New()
	bm.AddMany(ids)
	return bm
}

func TestClearPrecomputationsThenStatistics(t *testing.T) {
	s := newTestStore(t)
	c := &snomed.Concept{ID: 1}
	if err := s.Put(&Batch{Concepts: []*snomed.Concept{c}}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutClosure(1, bitmapOf(2)); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearPrecomputations(); err != nil {
		t.Fatal(err)
	}
	stats, err := s.Statistics()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Concepts != 1 {
		t.Errorf("expected primary data to survive ClearPrecomputations, got %d concepts", stats.Concepts)
	}
	if stats.DescendantClosurePairs != 0 {
		t.Errorf("expected closure to be cleared, got %d", stats.DescendantClosurePairs)
	}
}

func TestCompactPreservesDataAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	et, _ := time.Parse("20060102", "20170701")
	c := &snomed.Concept{ID: 24700007, EffectiveTime: et, Active: true, ModuleID: 900000000000207008, DefinitionStatusID: snomed.PrimitiveDefinitionStatusID}
	if err := s.Put(&Batch{Concepts: []*snomed.Concept{c}}); err != nil {
		t.Fatal(err)
	}
	// Replaying the identical row is rejected by reconciliation (same
	// effectiveTime, same active flag), so the logical contents Compact must
	// preserve stay unchanged.
	if err := s.Put(&Batch{Concepts: []*snomed.Concept{c}}); err != nil {
		t.Fatal(err)
	}

	if err := s.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	got, found, err := s.GetConcept(24700007)
	if err != nil || !found {
		t.Fatalf("GetConcept after Compact: found=%v err=%v", found, err)
	}
	if got.ID != c.ID || !got.Active {
		t.Errorf("Compact changed logical contents: got %+v, want %+v", got, c)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close after Compact: %v", err)
	}
}

func TestOpenRejectsSecondWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s1, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s1.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	_, err = Open(path, false)
	if err == nil {
		t.Error("expected second writer to fail to open the same store path")
	}
}
