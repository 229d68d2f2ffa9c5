// Package codestore persists every code unit the oracle produces, so a
// request leaves a reviewable trail: the initial generation, each
// error-correction patch and each validator patch, plus replies that
// contained no code at all.
package codestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags why an artifact was saved.
type Kind string

const (
	KindInitial      Kind = "initial"
	KindErrorFix     Kind = "error_fix"
	KindValidatorFix Kind = "validator_fix"
	KindCommentOnly  Kind = "comment_only"
)

// Provenance is the sidecar written next to every artifact.
type Provenance struct {
	SHA256    string `json:"sha256"`
	SavedAt   string `json:"saved_at"`
	SizeBytes int    `json:"size_bytes"`
	Kind      Kind   `json:"kind"`
}

// Store writes artifacts under a single codes directory.
type Store struct {
	dir string
}

var now = time.Now

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// SaveInitial persists the first code unit generated for a request.
func (s *Store) SaveInitial(code string) (string, error) {
	return s.save(fmt.Sprintf("oracle_output_%s.py", stamp()), code, KindInitial)
}

// SaveErrorFix persists the nth error-correction patch.
func (s *Store) SaveErrorFix(n int, code string) (string, error) {
	return s.save(fmt.Sprintf("oracle_output_error_fix_%d_%s.py", n, stamp()), code, KindErrorFix)
}

// SaveValidatorFix persists the nth validator-requested patch.
func (s *Store) SaveValidatorFix(n int, code string) (string, error) {
	return s.save(fmt.Sprintf("oracle_output_validator_fix_%d_%s.py", n, stamp()), code, KindValidatorFix)
}

// SaveCommentOnly records a reply that carried no code block, wrapped
// in a docstring so the artifact stays valid Python.
func (s *Store) SaveCommentOnly(raw string) (string, error) {
	safe := strings.ReplaceAll(raw, `"""`, `""`)
	content := `"""Model response saved (no explicit code block detected):` + "\n\n" + safe + "\n" + `"""` + "\n"
	return s.save(fmt.Sprintf("oracle_output_%s.py", stamp()), content, KindCommentOnly)
}

func (s *Store) save(name, content string, kind Kind) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create codes directory: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	sum := sha256.Sum256([]byte(content))
	prov := Provenance{
		SHA256:    hex.EncodeToString(sum[:]),
		SavedAt:   now().UTC().Format(time.RFC3339),
		SizeBytes: len(content),
		Kind:      kind,
	}
	data, err := json.MarshalIndent(prov, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode provenance: %w", err)
	}
	if err := os.WriteFile(path+".provenance.json", data, 0o644); err != nil {
		return "", fmt.Errorf("write provenance: %w", err)
	}
	return path, nil
}

// ReadProvenance loads the sidecar for an artifact path.
func ReadProvenance(artifactPath string) (*Provenance, error) {
	data, err := os.ReadFile(artifactPath + ".provenance.json")
	if err != nil {
		return nil, err
	}
	var p Provenance
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode provenance: %w", err)
	}
	return &p, nil
}

// stamp yields a sortable timestamp with a short random suffix so two
// saves in the same second never collide.
func stamp() string {
	return now().Format("20060102_150405") + "_" + uuid.New().String()[:8]
}
