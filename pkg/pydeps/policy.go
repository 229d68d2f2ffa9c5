package pydeps

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy restricts which distributions the installer may fetch. An empty
// policy (no file, empty lists) allows everything, preserving the
// best-effort default; operators can tighten it per workspace.
type Policy struct {
	// Allow, when non-empty, is an exclusive allowlist.
	Allow []string `yaml:"allow"`
	// Deny always wins over Allow.
	Deny []string `yaml:"deny"`
}

// LoadPolicy reads a YAML policy file. A missing file yields a permissive
// policy.
func LoadPolicy(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return &Policy{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Policy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read install policy %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse install policy %s: %w", path, err)
	}
	return &p, nil
}

// DenyReason returns a non-empty explanation when the distribution must
// not be installed.
func (p *Policy) DenyReason(distribution string) string {
	if p == nil {
		return ""
	}
	name := strings.ToLower(strings.TrimSpace(distribution))
	for _, d := range p.Deny {
		if strings.ToLower(strings.TrimSpace(d)) == name {
			return "distribution is on the deny list"
		}
	}
	if len(p.Allow) > 0 {
		for _, a := range p.Allow {
			if strings.ToLower(strings.TrimSpace(a)) == name {
				return ""
			}
		}
		return "distribution is not on the allow list"
	}
	return ""
}
