package ingest

import (
	"strings"
	"testing"
)

func TestParseCSV(t *testing.T) {
	input := "referenceDecision,objet,montant\n" +
		"DEC-1,\"Aide, avec virgule\",1000\n" +
		"\n" +
		"DEC-2,Isolation,2000\n"

	result, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if result.FirstError() != nil {
		t.Errorf("unexpected row errors: %v", result.RowErrors)
	}
	if result.Rows[0]["objet"] != "Aide, avec virgule" {
		t.Errorf("quoted comma field mangled: %q", result.Rows[0]["objet"])
	}
	if result.Rows[1]["referenceDecision"] != "DEC-2" {
		t.Errorf("expected DEC-2, got %q", result.Rows[1]["referenceDecision"])
	}
}

func TestParseCSVStripsBOM(t *testing.T) {
	input := "\ufeffreferenceDecision,montant\nDEC-1,500\n"
	result, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	if result.Rows[0]["referenceDecision"] != "DEC-1" {
		t.Errorf("BOM not stripped from first header, row keys: %v", result.Rows[0])
	}
}

func TestParseCSVVaryingFieldCounts(t *testing.T) {
	input := "a,b,c\n1,2\n1,2,3,4\n"
	result, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	// Short row leaves trailing columns absent.
	if _, ok := result.Rows[0]["c"]; ok {
		t.Errorf("short row should not populate column c")
	}
	// Long row drops the surplus field.
	if result.Rows[1]["c"] != "3" {
		t.Errorf("expected c=3, got %q", result.Rows[1]["c"])
	}
}

func TestParseCSVEmptyInput(t *testing.T) {
	result, err := ParseCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Rows) != 0 {
		t.Errorf("expected no rows, got %d", len(result.Rows))
	}
}

func TestParseCSVHeaderOnly(t *testing.T) {
	result, err := ParseCSV(strings.NewReader("a,b,c\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Rows) != 0 {
		t.Errorf("expected no rows, got %d", len(result.Rows))
	}
}
