package pydeps

import (
	"os"
	"path/filepath"
	"testing"
)

func moduleNames(reqs []Requirement) []string {
	names := make([]string, 0, len(reqs))
	for _, r := range reqs {
		names = append(names, r.Module)
	}
	return names
}

func TestScanImports_StripsStdlib(t *testing.T) {
	code := "import os\nimport sys\nimport docx\nimport json"

	reqs := ScanImports(code)
	if len(reqs) != 1 || reqs[0].Module != "docx" {
		t.Errorf("ScanImports = %v, want [docx]", moduleNames(reqs))
	}
}

func TestScanImports_DistributionRenames(t *testing.T) {
	tests := []struct {
		module string
		dist   string
	}{
		{"docx", "python-docx"},
		{"pptx", "python-pptx"},
		{"PIL", "Pillow"},
		{"yaml", "PyYAML"},
		{"bs4", "beautifulsoup4"},
		{"openpyxl", "openpyxl"},
	}
	for _, tt := range tests {
		reqs := ScanImports("import " + tt.module)
		if len(reqs) != 1 {
			t.Fatalf("ScanImports(import %s) = %v", tt.module, reqs)
		}
		if reqs[0].Distribution != tt.dist {
			t.Errorf("distribution for %s = %q, want %q", tt.module, reqs[0].Distribution, tt.dist)
		}
	}
}

func TestScanImports_FromAndDottedAndAliased(t *testing.T) {
	code := `from openpyxl.styles import Font
import pandas as pd
import numpy.linalg
from . import helpers
from docx import Document`

	reqs := ScanImports(code)
	got := moduleNames(reqs)
	want := []string{"docx", "numpy", "openpyxl", "pandas"}
	if len(got) != len(want) {
		t.Fatalf("ScanImports = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ScanImports[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScanImports_CommaSeparated(t *testing.T) {
	reqs := ScanImports("import docx, openpyxl, os")

	got := moduleNames(reqs)
	if len(got) != 2 || got[0] != "docx" || got[1] != "openpyxl" {
		t.Errorf("ScanImports = %v, want [docx openpyxl]", got)
	}
}

func TestScanImports_Deduplicates(t *testing.T) {
	code := "import docx\nfrom docx import Document\nimport docx.shared"

	reqs := ScanImports(code)
	if len(reqs) != 1 {
		t.Errorf("ScanImports = %v, want single docx entry", moduleNames(reqs))
	}
}

func TestScanImports_IgnoresNonImportLines(t *testing.T) {
	code := "x = 'import nothing'\n# import commented\nprint('from a import b')"

	if reqs := ScanImports(code); len(reqs) != 0 {
		t.Errorf("picked up non-import lines: %v", moduleNames(reqs))
	}
}

func TestScanImports_TrailingCommentStripped(t *testing.T) {
	reqs := ScanImports("import pandas  # heavy but needed")

	got := moduleNames(reqs)
	if len(got) != 1 || got[0] != "pandas" {
		t.Errorf("ScanImports = %v, want [pandas]", got)
	}
}

func TestLoadPolicy_MissingFileIsPermissive(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if reason := p.DenyReason("anything"); reason != "" {
		t.Errorf("expected permissive policy, got deny: %q", reason)
	}
}

func TestPolicy_DenyAndAllowLists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := "deny:\n  - cryptominer\nallow:\n  - python-docx\n  - openpyxl\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if reason := p.DenyReason("cryptominer"); reason == "" {
		t.Error("deny list entry not rejected")
	}
	if reason := p.DenyReason("python-docx"); reason != "" {
		t.Errorf("allow list entry rejected: %q", reason)
	}
	if reason := p.DenyReason("requests"); reason == "" {
		t.Error("non-allowlisted entry should be rejected when allow list is set")
	}
}
