package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRepositoryQueriesPass(t *testing.T) {
	violations, err := lint([]string{"../../sqlinline"})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	for _, v := range violations {
		t.Errorf("unexpected violation: %s", v)
	}
}

func TestReportsMissingAndReusedMarkers(t *testing.T) {
	dir := t.TempDir()
	src := "package q\n\n" +
		"const QGood = `--sql 0b0e5d7a-1f3c-4a52-9d0e-3c8f1b2a4e60\nSELECT 1`\n\n" +
		"const QReused = `--sql 0b0e5d7a-1f3c-4a52-9d0e-3c8f1b2a4e60\nSELECT 2`\n\n" +
		"const QBare = `SELECT 3`\n\n" +
		"const NotSQL = `selected items`\n"
	if err := os.WriteFile(filepath.Join(dir, "q.go"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	violations, err := lint([]string{dir})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("violations = %v, want 2", violations)
	}
	if violations[0].name != "QReused" || !strings.Contains(violations[0].message, "QGood") {
		t.Fatalf("first violation = %s", violations[0])
	}
	if violations[1].name != "QBare" || !strings.Contains(violations[1].message, "missing") {
		t.Fatalf("second violation = %s", violations[1])
	}
}
