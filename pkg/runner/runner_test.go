package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// writeFakeInterpreter creates a shell script standing in for python so
// tests exercise the subprocess plumbing without a real interpreter.
func writeFakeInterpreter(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake interpreter: %v", err)
	}
	return path
}

func writeTargetDoc(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "dochome")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir doc dir: %v", err)
	}
	target := filepath.Join(dir, "report.docx")
	if err := os.WriteFile(target, []byte("doc"), 0o644); err != nil {
		t.Fatalf("write target doc: %v", err)
	}
	return target
}

func TestExecute_Success(t *testing.T) {
	interp := writeFakeInterpreter(t, "printf 'document updated\\n'")
	work := t.TempDir()
	r := New(interp, filepath.Join(work, "codes"), filepath.Join(work, "outputs"), 10*time.Second)

	out := r.Execute(context.Background(), "print('hi')", writeTargetDoc(t))

	if !out.Success {
		t.Fatalf("expected success, got failure: %s\n%s", out.Message, out.Trace)
	}
	if out.Message != "" {
		t.Errorf("expected empty message on success, got: %q", out.Message)
	}
	if !strings.Contains(out.Trace, "document updated") {
		t.Errorf("expected trace to contain script output, got: %q", out.Trace)
	}
}

func TestExecute_ExposesBindings(t *testing.T) {
	interp := writeFakeInterpreter(t, `printf '%s|%s|%s' "$TARGET_FILE_PATH" "$OUTPUT_DIR" "$CODES_DIR"`)
	work := t.TempDir()
	codes := filepath.Join(work, "codes")
	outputs := filepath.Join(work, "outputs")
	r := New(interp, codes, outputs, 10*time.Second)

	target := writeTargetDoc(t)
	out := r.Execute(context.Background(), "", target)

	if !out.Success {
		t.Fatalf("expected success, got: %s", out.Message)
	}
	parts := strings.Split(out.Stdout, "|")
	if len(parts) != 3 {
		t.Fatalf("expected three bindings, got: %q", out.Stdout)
	}
	if parts[0] != target {
		t.Errorf("TARGET_FILE_PATH = %q, want %q", parts[0], target)
	}
	if parts[1] != outputs {
		t.Errorf("OUTPUT_DIR = %q, want %q", parts[1], outputs)
	}
	if parts[2] != codes {
		t.Errorf("CODES_DIR = %q, want %q", parts[2], codes)
	}
}

func TestExecute_RunsInDocumentDirectory(t *testing.T) {
	interp := writeFakeInterpreter(t, "pwd")
	work := t.TempDir()
	r := New(interp, filepath.Join(work, "codes"), filepath.Join(work, "outputs"), 10*time.Second)

	target := writeTargetDoc(t)
	out := r.Execute(context.Background(), "", target)

	if !out.Success {
		t.Fatalf("expected success, got: %s", out.Message)
	}
	if !strings.Contains(out.Stdout, "dochome") {
		t.Errorf("expected run to happen in document directory, pwd = %q", out.Stdout)
	}
}

func TestExecute_RestoresWorkingDirectory(t *testing.T) {
	before, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	work := t.TempDir()
	target := writeTargetDoc(t)

	ok := New(writeFakeInterpreter(t, "true"), filepath.Join(work, "c1"), filepath.Join(work, "o1"), 10*time.Second)
	ok.Execute(context.Background(), "", target)

	fail := New(writeFakeInterpreter(t, "exit 3"), filepath.Join(work, "c2"), filepath.Join(work, "o2"), 10*time.Second)
	fail.Execute(context.Background(), "", target)

	after, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd after: %v", err)
	}
	if after != before {
		t.Errorf("working directory not restored: before %q, after %q", before, after)
	}
}

func TestExecute_FailureCapturesStderrTail(t *testing.T) {
	interp := writeFakeInterpreter(t,
		"echo 'Traceback (most recent call last):' >&2\n"+
			"echo 'ZeroDivisionError: division by zero' >&2\n"+
			"exit 1")
	work := t.TempDir()
	r := New(interp, filepath.Join(work, "codes"), filepath.Join(work, "outputs"), 10*time.Second)

	out := r.Execute(context.Background(), "1/0", writeTargetDoc(t))

	if out.Success {
		t.Fatalf("expected failure, got success")
	}
	if out.Message != "ZeroDivisionError: division by zero" {
		t.Errorf("expected last stderr line as message, got: %q", out.Message)
	}
	if !strings.Contains(out.Trace, "Traceback") {
		t.Errorf("expected trace to carry the full traceback, got: %q", out.Trace)
	}
	if !strings.Contains(out.Trace, "Exit code") {
		t.Errorf("expected trace to mention exit code, got: %q", out.Trace)
	}
}

func TestExecute_Timeout(t *testing.T) {
	interp := writeFakeInterpreter(t, "sleep 10")
	work := t.TempDir()
	r := New(interp, filepath.Join(work, "codes"), filepath.Join(work, "outputs"), 200*time.Millisecond)

	out := r.Execute(context.Background(), "", writeTargetDoc(t))

	if out.Success {
		t.Fatalf("expected timeout failure, got success")
	}
	if !strings.Contains(out.Message, "timed out") {
		t.Errorf("expected timeout message, got: %q", out.Message)
	}
}

func TestExecute_TruncatesLongOutput(t *testing.T) {
	interp := writeFakeInterpreter(t,
		"i=0\nwhile [ $i -lt 300 ]; do printf '%0100d' $i; i=$((i+1)); done")
	work := t.TempDir()
	r := New(interp, filepath.Join(work, "codes"), filepath.Join(work, "outputs"), 10*time.Second)

	out := r.Execute(context.Background(), "", writeTargetDoc(t))

	if !out.Success {
		t.Fatalf("expected success, got: %s", out.Message)
	}
	if len(out.Trace) > maxOutputChars+100 {
		t.Errorf("expected trace to be truncated, got length %d", len(out.Trace))
	}
	if !strings.Contains(out.Trace, "truncated") {
		t.Errorf("expected truncation marker, got tail: %q", out.Trace[len(out.Trace)-80:])
	}
}

func TestExecute_WritesExecScriptWithPrelude(t *testing.T) {
	interp := writeFakeInterpreter(t, "true")
	work := t.TempDir()
	codes := filepath.Join(work, "codes")
	r := New(interp, codes, filepath.Join(work, "outputs"), 10*time.Second)

	target := writeTargetDoc(t)
	if out := r.Execute(context.Background(), "doc.save(TARGET_FILE_PATH)", target); !out.Success {
		t.Fatalf("expected success, got: %s", out.Message)
	}

	entries, err := filepath.Glob(filepath.Join(codes, "*_exec.py"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one exec script, got %v (err %v)", entries, err)
	}
	content, err := os.ReadFile(entries[0])
	if err != nil {
		t.Fatalf("read exec script: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "TARGET_FILE_PATH = ") {
		t.Errorf("expected prelude binding in script, got: %q", text)
	}
	if !strings.Contains(text, "doc.save(TARGET_FILE_PATH)") {
		t.Errorf("expected code body in script, got: %q", text)
	}
	if !strings.HasPrefix(text, "TARGET_FILE_PATH") {
		t.Errorf("expected prelude before code body, got: %q", text)
	}
}

func TestExecute_SerializesConcurrentRuns(t *testing.T) {
	interp := writeFakeInterpreter(t, "pwd\nsleep 0.2\npwd")
	work := t.TempDir()

	targets := []string{writeTargetDoc(t), writeTargetDoc(t)}
	outcomes := make([]Outcome, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			r := New(interp, filepath.Join(work, "codes"), filepath.Join(work, "outputs"), 10*time.Second)
			outcomes[i] = r.Execute(context.Background(), "", target)
		}(i, target)
	}
	wg.Wait()

	for i, out := range outcomes {
		if !out.Success {
			t.Fatalf("run %d failed: %s", i, out.Message)
		}
		want := filepath.Dir(targets[i])
		lines := strings.Fields(out.Stdout)
		if len(lines) != 2 {
			t.Fatalf("run %d: expected two pwd lines, got %q", i, out.Stdout)
		}
		for _, line := range lines {
			resolved, err := filepath.EvalSymlinks(line)
			if err != nil {
				resolved = line
			}
			wantResolved, err := filepath.EvalSymlinks(want)
			if err != nil {
				wantResolved = want
			}
			if resolved != wantResolved {
				t.Errorf("run %d saw directory %q, want %q (directory changes interleaved)", i, line, want)
			}
		}
	}
}

func TestPrelude_QuotesPaths(t *testing.T) {
	got := prelude(`/tmp/docs/quarter "Q1".docx`, "/tmp/out", "/tmp/codes")
	if !strings.Contains(got, `TARGET_FILE_PATH = "/tmp/docs/quarter \"Q1\".docx"`) {
		t.Errorf("expected quoted target path, got: %q", got)
	}
	if !strings.Contains(got, `OUTPUT_DIR = "/tmp/out"`) {
		t.Errorf("expected output dir binding, got: %q", got)
	}

	win := prelude(`C:\Docs\plan.docx`, "/o", "/c")
	if !strings.Contains(win, `C:\\Docs\\plan.docx`) {
		t.Errorf("expected escaped backslashes, got: %q", win)
	}
}

func TestFailureMessage(t *testing.T) {
	if got := failureMessage("Traceback...\nKeyError: 'name'\n", nil); got != "KeyError: 'name'" {
		t.Errorf("expected last stderr line, got: %q", got)
	}
	if got := failureMessage("", os.ErrPermission); got != os.ErrPermission.Error() {
		t.Errorf("expected process error fallback, got: %q", got)
	}
}
