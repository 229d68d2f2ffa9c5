// Package extract pulls fenced Python code blocks out of raw model output.
package extract

import (
	"strings"
)

const (
	openFence  = "```python"
	closeFence = "```"

	// blockSeparator joins multiple blocks into one executable unit.
	blockSeparator = "\n\n\n"
)

// Blocks returns the complete ```python fenced blocks in order of
// appearance. Text outside fences, bare ``` blocks without a python tag,
// and an unterminated trailing fence are all ignored. Absence of blocks is
// a valid empty result, not an error.
func Blocks(text string) []string {
	var blocks []string
	var current []string
	capturing := false

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if !capturing {
			if trimmed == openFence {
				capturing = true
				current = current[:0]
			}
			continue
		}
		if trimmed == closeFence {
			blocks = append(blocks, strings.Join(current, "\n"))
			capturing = false
			continue
		}
		current = append(current, line)
	}

	return blocks
}

// Combine joins extracted blocks into one logical code unit.
func Combine(blocks []string) string {
	return strings.Join(blocks, blockSeparator)
}

// CodeUnit extracts and combines in one step. ok is false when the text
// contains no executable blocks, in which case the caller treats the whole
// response as commentary.
func CodeUnit(text string) (string, bool) {
	blocks := Blocks(text)
	if len(blocks) == 0 {
		return "", false
	}
	return Combine(blocks), true
}
