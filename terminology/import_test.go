package terminology

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/snomed-tools/terminology/search"
	"github.com/snomed-tools/terminology/snomed"
)

func writeImportFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestSvc(t *testing.T) *Svc {
	t.Helper()
	svc, err := Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestImportAppliesAllComponentKinds(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()

	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"100005\t20020131\t1\t900000000000207008\t900000000000074008\n"+
			"138875005\t20020131\t1\t900000000000207008\t900000000000074008\n")

	writeImportFile(t, src, "sct2_Description_Full-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tconceptId\tlanguageCode\ttypeId\tterm\tcaseSignificanceId\n"+
			"1000001\t20020131\t1\t900000000000207008\t100005\ten\t900000000000013009\tFracture\t900000000000448009\n")

	writeImportFile(t, src, "sct2_Relationship_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tsourceId\tdestinationId\trelationshipGroup\ttypeId\tcharacteristicTypeId\tmodifierId\n"+
			"2000001\t20020131\t1\t900000000000207008\t100005\t138875005\t0\t116680003\t900000000000011006\t900000000000451002\n")

	writeImportFile(t, src, "der2_cRefset_LanguageFull-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\trefsetId\treferencedComponentId\tacceptabilityId\n"+
			"3000001\t20020131\t1\t900000000000207008\t900000000000509007\t1000001\t900000000000548007\n")

	writeImportFile(t, src, "not-a-release-file.txt", "garbage\n")

	stats, err := svc.Import(context.Background(), src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.Concepts != 2 || stats.Descriptions != 1 || stats.Relationships != 1 || stats.RefsetItems != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.FilesSkipped != 1 {
		t.Errorf("expected 1 skipped file, got %d", stats.FilesSkipped)
	}

	c, err := svc.GetConcept(100005)
	if err != nil {
		t.Fatalf("GetConcept: %v", err)
	}
	if !c.Active {
		t.Error("expected concept 100005 to be active")
	}

	descs, err := svc.GetDescriptions(100005)
	if err != nil {
		t.Fatalf("GetDescriptions: %v", err)
	}
	if len(descs) != 1 || descs[0].Term != "Fracture" {
		t.Errorf("unexpected descriptions: %+v", descs)
	}
}

func TestImportRejectsMalformedRow(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()
	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"not-a-number\t20020131\t1\t900000000000207008\t900000000000074008\n")

	_, err := svc.Import(context.Background(), src)
	if err == nil {
		t.Fatal("expected an error for a malformed concept id")
	}
	if _, ok := err.(*snomed.InputError); !ok {
		t.Errorf("expected an *snomed.InputError, got %T: %v", err, err)
	}
}

func TestReindexBuildsClosureAndSearch(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()

	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"100005\t20020131\t1\t900000000000207008\t900000000000074008\n"+
			"138875005\t20020131\t1\t900000000000207008\t900000000000074008\n")
	writeImportFile(t, src, "sct2_Description_Full-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tconceptId\tlanguageCode\ttypeId\tterm\tcaseSignificanceId\n"+
			"1000001\t20020131\t1\t900000000000207008\t100005\ten\t900000000000013009\tFracture\t900000000000448009\n")
	writeImportFile(t, src, "sct2_Relationship_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tsourceId\tdestinationId\trelationshipGroup\ttypeId\tcharacteristicTypeId\tmodifierId\n"+
			"2000001\t20020131\t1\t900000000000207008\t100005\t138875005\t0\t116680003\t900000000000011006\t900000000000451002\n")

	if _, err := svc.Import(context.Background(), src); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := svc.Reindex(); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	subsumes, err := svc.Subsumes(138875005, 100005)
	if err != nil {
		t.Fatalf("Subsumes: %v", err)
	}
	if !subsumes {
		t.Error("expected 138875005 to subsume 100005 after reindex")
	}

	hits, err := svc.Search(search.Params{Text: "fracture"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ConceptID != 100005 {
		t.Errorf("unexpected search hits: %+v", hits)
	}
}
