// Package pydeps resolves the Python packages a generated code unit needs:
// a best-effort textual import scan, a standard-library blacklist, and an
// installer that probes and installs missing distributions into the
// workspace environment. False positives and negatives are tolerated; a
// missed package surfaces later as an execution failure.
package pydeps

import (
	"sort"
	"strings"
)

// Requirement pairs a Python import name with the distribution that
// provides it on PyPI.
type Requirement struct {
	Module       string
	Distribution string
}

// stdlibBlacklist holds import names that never need installation.
var stdlibBlacklist = map[string]bool{
	"os": true, "sys": true, "time": true, "json": true, "re": true,
	"math": true, "pathlib": true, "typing": true, "subprocess": true,
	"shutil": true,
	"io": true, "datetime": true, "collections": true, "itertools": true,
	"functools": true, "string": true, "random": true, "csv": true,
	"zipfile": true, "xml": true, "unicodedata": true,
}

// distributionRenames maps import names whose PyPI distribution is named
// differently.
var distributionRenames = map[string]string{
	"docx":     "python-docx",
	"pptx":     "python-pptx",
	"PIL":      "Pillow",
	"yaml":     "PyYAML",
	"cv2":      "opencv-python",
	"sklearn":  "scikit-learn",
	"bs4":      "beautifulsoup4",
	"dateutil": "python-dateutil",
}

// ScanImports extracts the top-level imported module names from code,
// strips standard-library names, and maps import names to distributions.
// Results are deduplicated and sorted.
func ScanImports(code string) []Requirement {
	seen := map[string]bool{}

	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import "):
			rest := strings.TrimPrefix(trimmed, "import ")
			for _, clause := range strings.Split(rest, ",") {
				name := topLevelName(clause)
				if name != "" {
					seen[name] = true
				}
			}
		case strings.HasPrefix(trimmed, "from "):
			rest := strings.TrimPrefix(trimmed, "from ")
			fields := strings.Fields(rest)
			if len(fields) >= 2 && fields[1] == "import" {
				name := topLevelName(fields[0])
				if name != "" {
					seen[name] = true
				}
			}
		}
	}

	var reqs []Requirement
	for name := range seen {
		if stdlibBlacklist[name] {
			continue
		}
		dist := name
		if renamed, ok := distributionRenames[name]; ok {
			dist = renamed
		}
		reqs = append(reqs, Requirement{Module: name, Distribution: dist})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Module < reqs[j].Module })
	return reqs
}

// topLevelName reduces an import clause ("a.b.c as d") to its top-level
// module name. Relative imports ("from . import x") yield "".
func topLevelName(clause string) string {
	clause = strings.TrimSpace(clause)
	if clause == "" || strings.HasPrefix(clause, ".") {
		return ""
	}
	fields := strings.Fields(clause)
	if len(fields) == 0 {
		return ""
	}
	name := fields[0]
	if idx := strings.Index(name, "."); idx >= 0 {
		name = name[:idx]
	}
	// Keep only the leading identifier run; drops trailing comment junk.
	end := 0
	for end < len(name) {
		c := name[end]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			end++
			continue
		}
		break
	}
	return name[:end]
}
