package oracle

import (
	"context"
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// FilePart is a named binary attachment sent alongside a prompt.
type FilePart struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Provider turns a prompt plus optional file attachments into text.
// Options carry per-call overrides: "model" (string), "temperature"
// (float64), "max_tokens" (int).
type Provider interface {
	Generate(ctx context.Context, prompt string, files []FilePart, options map[string]interface{}) (string, error)
	GetDefaultModel() string
}

// InlineFiles folds attachments into the prompt text for providers (or
// retry modes) that cannot carry native file parts. Text files are embedded
// verbatim, binary files as base64.
func InlineFiles(prompt string, files []FilePart) string {
	if len(files) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	for _, f := range files {
		b.WriteString("\n\n--- FILE: ")
		b.WriteString(f.Name)
		b.WriteString(" (")
		b.WriteString(f.MIMEType)
		b.WriteString(") ---\n")
		if utf8.Valid(f.Data) && !strings.Contains(f.MIMEType, "officedocument") {
			b.Write(f.Data)
		} else {
			b.WriteString("base64:")
			b.WriteString(base64.StdEncoding.EncodeToString(f.Data))
		}
	}
	return b.String()
}

func resolveModel(p Provider, options map[string]interface{}) string {
	if options != nil {
		if m, ok := options["model"].(string); ok && m != "" {
			return m
		}
	}
	return p.GetDefaultModel()
}
