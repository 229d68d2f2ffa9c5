package codestore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var initialNameRe = regexp.MustCompile(`^oracle_output_\d{8}_\d{6}_[0-9a-f]{8}\.py$`)

func TestSaveInitial(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "codes"))

	code := "doc = Document(TARGET_FILE_PATH)\ndoc.save(TARGET_FILE_PATH)\n"
	path, err := s.SaveInitial(code)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if name := filepath.Base(path); !initialNameRe.MatchString(name) {
		t.Errorf("unexpected artifact name: %q", name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != code {
		t.Errorf("artifact content mismatch: %q", string(data))
	}

	prov, err := ReadProvenance(path)
	if err != nil {
		t.Fatalf("read provenance: %v", err)
	}
	sum := sha256.Sum256([]byte(code))
	if prov.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("provenance sha mismatch: %q", prov.SHA256)
	}
	if prov.SizeBytes != len(code) {
		t.Errorf("provenance size = %d, want %d", prov.SizeBytes, len(code))
	}
	if prov.Kind != KindInitial {
		t.Errorf("provenance kind = %q, want %q", prov.Kind, KindInitial)
	}
}

func TestSaveFixNames(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "codes"))

	errPath, err := s.SaveErrorFix(2, "pass")
	if err != nil {
		t.Fatalf("save error fix: %v", err)
	}
	if !strings.Contains(filepath.Base(errPath), "error_fix_2_") {
		t.Errorf("error fix name missing attempt index: %q", filepath.Base(errPath))
	}

	valPath, err := s.SaveValidatorFix(1, "pass")
	if err != nil {
		t.Fatalf("save validator fix: %v", err)
	}
	if !strings.Contains(filepath.Base(valPath), "validator_fix_1_") {
		t.Errorf("validator fix name missing attempt index: %q", filepath.Base(valPath))
	}
}

func TestSaveCommentOnly(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "codes"))

	raw := `I cannot write code for this. """quoted""" advice only.`
	path, err := s.SaveCommentOnly(raw)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, `"""Model response saved (no explicit code block detected):`) {
		t.Errorf("expected docstring header, got: %q", text)
	}
	if strings.Contains(text[3:len(text)-4], `"""`) {
		t.Errorf("inner triple quotes must be collapsed, got: %q", text)
	}

	prov, err := ReadProvenance(path)
	if err != nil {
		t.Fatalf("read provenance: %v", err)
	}
	if prov.Kind != KindCommentOnly {
		t.Errorf("kind = %q, want %q", prov.Kind, KindCommentOnly)
	}
}

func TestSavesDoNotCollide(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "codes"))

	a, err := s.SaveInitial("a = 1")
	if err != nil {
		t.Fatalf("save a: %v", err)
	}
	b, err := s.SaveInitial("b = 2")
	if err != nil {
		t.Fatalf("save b: %v", err)
	}
	if a == b {
		t.Fatalf("same-second saves must not share a path: %q", a)
	}
}
