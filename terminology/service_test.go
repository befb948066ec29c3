package terminology

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/snomed-tools/terminology/search"
	"github.com/snomed-tools/terminology/snomed"
)

func TestOpenCreatesDescriptorAndReopens(t *testing.T) {
	dir := t.TempDir()
	svc, err := Open(dir, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
}

func TestOpenReadOnlyAgainstMissingPathFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")
	if _, err := Open(dir, true); err == nil {
		t.Fatal("expected an error opening a read-only database that does not exist")
	}
}

func TestOpenRejectsIncompatibleDescriptor(t *testing.T) {
	dir := t.TempDir()
	bad := descriptor{Version: currentVersion + 1, StoreKind: storeKind, SearchKind: searchKind}
	encoded, err := json.Marshal(bad)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, descriptorName), encoded, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir, false); err == nil {
		t.Fatal("expected an error opening a database with an incompatible descriptor version")
	} else if _, ok := err.(*snomed.UsageError); !ok {
		t.Errorf("expected a *snomed.UsageError, got %T: %v", err, err)
	}
}

func TestStatusReflectsImportedData(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()
	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"100005\t20020131\t1\t900000000000207008\t900000000000074008\n")
	if _, err := svc.Import(context.Background(), src); err != nil {
		t.Fatalf("Import: %v", err)
	}
	status, err := svc.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Concepts != 1 {
		t.Errorf("Status.Concepts = %d, want 1", status.Concepts)
	}
}

func TestGetConceptUnknownIDReturnsQueryError(t *testing.T) {
	svc := newTestSvc(t)
	if _, err := svc.GetConcept(999); err == nil {
		t.Fatal("expected an error for an unknown concept")
	} else if _, ok := err.(*snomed.QueryError); !ok {
		t.Errorf("expected a *snomed.QueryError, got %T: %v", err, err)
	}
}

func TestGetPreferredSynonymFallsBackToSimpleLanguageMatch(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()
	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"100005\t20020131\t1\t900000000000207008\t900000000000074008\n")
	writeImportFile(t, src, "sct2_Description_Full-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tconceptId\tlanguageCode\ttypeId\tterm\tcaseSignificanceId\n"+
			"1000001\t20020131\t1\t900000000000207008\t100005\ten\t900000000000013009\tFracture\t900000000000448009\n")
	if _, err := svc.Import(context.Background(), src); err != nil {
		t.Fatalf("Import: %v", err)
	}

	// No language refset installed, so GetPreferredSynonym must fall back to
	// simpleLanguageMatch's plain BCP-47 match over the description's own
	// languageCode rather than erroring.
	d, err := svc.GetPreferredSynonym(100005, nil)
	if err != nil {
		t.Fatalf("GetPreferredSynonym: %v", err)
	}
	if d == nil || d.Term != "Fracture" {
		t.Errorf("unexpected synonym: %+v", d)
	}
}

func TestGetPreferredSynonymPrefersRefsetMarkedTerm(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()
	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"100005\t20020131\t1\t900000000000207008\t900000000000074008\n")
	writeImportFile(t, src, "sct2_Description_Full-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tconceptId\tlanguageCode\ttypeId\tterm\tcaseSignificanceId\n"+
			"1000001\t20020131\t1\t900000000000207008\t100005\ten\t900000000000013009\tBroken bone\t900000000000448009\n"+
			"1000002\t20020131\t1\t900000000000207008\t100005\ten\t900000000000013009\tFracture\t900000000000448009\n")
	writeImportFile(t, src, "der2_cRefset_LanguageFull-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\trefsetId\treferencedComponentId\tacceptabilityId\n"+
			"3000001\t20020131\t1\t900000000000207008\t900000000000509007\t1000001\t900000000000549004\n"+
			"3000002\t20020131\t1\t900000000000207008\t900000000000509007\t1000002\t900000000000548007\n")
	if _, err := svc.Import(context.Background(), src); err != nil {
		t.Fatalf("Import: %v", err)
	}

	d, err := svc.GetPreferredSynonym(100005, []int64{900000000000509007})
	if err != nil {
		t.Fatalf("GetPreferredSynonym: %v", err)
	}
	if d == nil || d.Term != "Fracture" {
		t.Errorf("expected the refset-preferred synonym 'Fracture', got %+v", d)
	}
}

func TestSearchPopulatesPreferredTerm(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()
	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"100005\t20020131\t1\t900000000000207008\t900000000000074008\n")
	writeImportFile(t, src, "sct2_Description_Full-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tconceptId\tlanguageCode\ttypeId\tterm\tcaseSignificanceId\n"+
			"1000001\t20020131\t1\t900000000000207008\t100005\ten\t900000000000013009\tBroken bone\t900000000000448009\n"+
			"1000002\t20020131\t1\t900000000000207008\t100005\ten\t900000000000013009\tFracture\t900000000000448009\n")
	writeImportFile(t, src, "der2_cRefset_LanguageFull-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\trefsetId\treferencedComponentId\tacceptabilityId\n"+
			"3000001\t20020131\t1\t900000000000207008\t900000000000509007\t1000001\t900000000000549004\n"+
			"3000002\t20020131\t1\t900000000000207008\t900000000000509007\t1000002\t900000000000548007\n")
	if _, err := svc.Import(context.Background(), src); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := svc.Reindex(); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	hits, err := svc.Search(search.Params{Text: "broken bone"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit for 'broken bone'")
	}
	for _, h := range hits {
		if h.PreferredTerm != "Fracture" {
			t.Errorf("expected PreferredTerm 'Fracture' for concept %d, got %q", h.ConceptID, h.PreferredTerm)
		}
	}
}

func TestGetExtendedConceptViaFacade(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()
	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"100005\t20020131\t1\t900000000000207008\t900000000000074008\n"+
			"138875005\t20020131\t1\t900000000000207008\t900000000000074008\n")
	writeImportFile(t, src, "sct2_Relationship_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tsourceId\tdestinationId\trelationshipGroup\ttypeId\tcharacteristicTypeId\tmodifierId\n"+
			"2000001\t20020131\t1\t900000000000207008\t100005\t138875005\t0\t116680003\t900000000000011006\t900000000000451002\n")
	if _, err := svc.Import(context.Background(), src); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := svc.Reindex(); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	ec, err := svc.GetExtendedConcept(100005)
	if err != nil {
		t.Fatalf("GetExtendedConcept: %v", err)
	}
	if ec.Concept == nil || ec.Concept.ID != 100005 {
		t.Fatalf("unexpected concept: %+v", ec.Concept)
	}
	if ids := ec.DirectParentRelationships[snomed.IsA]; len(ids) != 1 || ids[0] != 138875005 {
		t.Errorf("expected direct IS_A parent 138875005, got %v", ids)
	}
}
