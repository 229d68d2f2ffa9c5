package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetLevel(WARN)
	defer SetLevel(INFO)

	InfoC("test", "should be hidden")
	WarnC("test", "should appear")

	out := buf.String()
	if strings.Contains(out, "should be hidden") {
		t.Errorf("INFO line written despite WARN level: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("WARN line missing: %q", out)
	}
}

func TestFieldsAreSortedAndFormatted(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetLevel(DEBUG)
	defer SetLevel(INFO)

	DebugCF("runner", "exec finished", map[string]interface{}{
		"b_attempt": 2,
		"a_status":  "ok",
	})

	out := buf.String()
	if !strings.Contains(out, "[DEBUG]") || !strings.Contains(out, "[runner]") {
		t.Fatalf("missing level/component markers: %q", out)
	}
	aIdx := strings.Index(out, "a_status=ok")
	bIdx := strings.Index(out, "b_attempt=2")
	if aIdx == -1 || bIdx == -1 {
		t.Fatalf("fields missing: %q", out)
	}
	if aIdx > bIdx {
		t.Errorf("fields not sorted by key: %q", out)
	}
}
