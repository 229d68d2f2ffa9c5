// Package docdiff renders line diffs between two document projections
// for inclusion in validation prompts.
package docdiff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MaxPromptLines bounds how much diff a prompt carries.
const MaxPromptLines = 400

// Unified returns a line diff of before and after with "+ ", "- " and
// "  " prefixes, capped at maxLines rendered lines (MaxPromptLines when
// maxLines <= 0). The second return reports whether the diff was cut
// off. Identical inputs yield an empty string.
func Unified(before, after string, maxLines int) (string, bool) {
	if before == after {
		return "", false
	}
	if maxLines <= 0 {
		maxLines = MaxPromptLines
	}

	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var b strings.Builder
	rendered := 0
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}

		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			if rendered >= maxLines {
				b.WriteString("... (diff truncated)\n")
				return strings.TrimRight(b.String(), "\n"), true
			}
			b.WriteString(prefix + line + "\n")
			rendered++
		}
	}
	return strings.TrimRight(b.String(), "\n"), false
}
