package terminology

import (
	"context"
	"testing"

	"golang.org/x/text/language"
)

func TestLanguageTagAndRefsetIdentifier(t *testing.T) {
	if BritishEnglish.Tag() != language.BritishEnglish {
		t.Errorf("BritishEnglish.Tag() = %v, want %v", BritishEnglish.Tag(), language.BritishEnglish)
	}
	if BritishEnglish.LanguageReferenceSetIdentifier() != 999001261000000100 {
		t.Errorf("unexpected British English language refset id: %d", BritishEnglish.LanguageReferenceSetIdentifier())
	}
	if Spanish.LanguageReferenceSetIdentifier() != 0 {
		t.Errorf("expected Spanish to have no known language refset id, got %d", Spanish.LanguageReferenceSetIdentifier())
	}
}

func TestSimpleLanguageMatchPicksRequestedTag(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()
	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"100005\t20020131\t1\t900000000000207008\t900000000000074008\n")
	writeImportFile(t, src, "sct2_Description_Full-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tconceptId\tlanguageCode\ttypeId\tterm\tcaseSignificanceId\n"+
			"1000001\t20020131\t1\t900000000000207008\t100005\tfr\t900000000000013009\tFracture osseuse\t900000000000448009\n"+
			"1000002\t20020131\t1\t900000000000207008\t100005\ten\t900000000000013009\tFracture\t900000000000448009\n")
	if _, err := svc.Import(context.Background(), src); err != nil {
		t.Fatalf("Import: %v", err)
	}

	d, err := svc.GetPreferredSynonym(100005, nil)
	if err != nil {
		t.Fatalf("GetPreferredSynonym: %v", err)
	}
	if d == nil || d.Term != "Fracture" {
		t.Errorf("expected the British/American English fallback match 'Fracture', got %+v", d)
	}
}

func TestGetFullySpecifiedNameUsesFSNTypeID(t *testing.T) {
	svc := newTestSvc(t)
	src := t.TempDir()
	writeImportFile(t, src, "sct2_Concept_Full_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tdefinitionStatusId\n"+
			"100005\t20020131\t1\t900000000000207008\t900000000000074008\n")
	writeImportFile(t, src, "sct2_Description_Full-en_INT_20020131.txt",
		"id\teffectiveTime\tactive\tmoduleId\tconceptId\tlanguageCode\ttypeId\tterm\tcaseSignificanceId\n"+
			"1000001\t20020131\t1\t900000000000207008\t100005\ten\t900000000000003001\tFracture of bone (disorder)\t900000000000448009\n"+
			"1000002\t20020131\t1\t900000000000207008\t100005\ten\t900000000000013009\tFracture\t900000000000448009\n")
	if _, err := svc.Import(context.Background(), src); err != nil {
		t.Fatalf("Import: %v", err)
	}

	d, err := svc.GetFullySpecifiedName(100005, nil)
	if err != nil {
		t.Fatalf("GetFullySpecifiedName: %v", err)
	}
	if d == nil || d.Term != "Fracture of bone (disorder)" {
		t.Errorf("expected the FSN, got %+v", d)
	}
}
