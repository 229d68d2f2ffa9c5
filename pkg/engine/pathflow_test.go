package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/officestack/docpatch/pkg/codestore"
	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/docread"
	"github.com/officestack/docpatch/pkg/history"
	"github.com/officestack/docpatch/pkg/oracle"
	"github.com/officestack/docpatch/pkg/runner"
	"github.com/officestack/docpatch/pkg/state"
)

func newPathEngine(t *testing.T, provider oracle.Provider, exec Execer, attempts int) (*Engine, string) {
	t.Helper()
	ws := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Workspace = ws
	cfg.Archive.Enabled = false
	cfg.Engine.MaxPathAttempts = attempts
	eng := NewWithCollaborators(cfg, Collaborators{
		Provider: provider,
		Exec:     exec,
		Codes:    codestore.New(filepath.Join(ws, "codes")),
		History:  history.NoopStore{},
		State:    state.NewManager(ws),
	})
	return eng, ws
}

func TestProcessPath_ValidatedFirstAttempt(t *testing.T) {
	provider := &scriptedProvider{t: t, replies: []string{
		"import openpyxl\n# plan: add totals\nprint('SUMMARY: Added totals row')",
		"YES\nChecked sheet Data rows 1-5.",
	}}
	exec := &scriptedExec{
		outcomes: []runner.Outcome{{Success: true, Stdout: "working...\nSUMMARY: Added totals row\n"}},
		hooks: []func(string){func(target string) {
			_ = os.WriteFile(target, []byte("alpha beta"), 0o644)
		}},
	}
	eng, ws := newPathEngine(t, provider, exec, 5)
	source := writeDoc(t, ws, "ledger.txt", "alpha")

	res, err := eng.ProcessPath(context.Background(), PathRequest{
		UserID: "bob", ChatName: "ledger work", FilePath: source, Task: "add totals",
	})
	if err != nil {
		t.Fatalf("ProcessPath: %v", err)
	}
	if !res.Success || !res.Validated || res.Attempts != 1 {
		t.Fatalf("expected first-attempt validation, got %+v", res)
	}
	if res.Summary != "Added totals row" {
		t.Errorf("summary = %q", res.Summary)
	}
	if res.ModifiedPath == source {
		t.Fatal("workflow must operate on a copy")
	}
	if !strings.HasPrefix(filepath.Base(res.ModifiedPath), "modified_") {
		t.Errorf("copy name = %q", filepath.Base(res.ModifiedPath))
	}
	original, err := os.ReadFile(source)
	if err != nil || string(original) != "alpha" {
		t.Fatalf("source file must stay untouched, got %q (%v)", original, err)
	}
	modified, err := os.ReadFile(res.ModifiedPath)
	if err != nil || string(modified) != "alpha beta" {
		t.Fatalf("copy should carry the edit, got %q (%v)", modified, err)
	}
	if len(exec.targets) != 1 || exec.targets[0] != res.ModifiedPath {
		t.Errorf("script ran against %q", exec.targets)
	}
	if !strings.HasPrefix(exec.codes[0], "# -*- coding: utf-8 -*-\n") {
		t.Errorf("encoding header missing: %.60q", exec.codes[0])
	}
	// Verdict call carries both files as attachments.
	parts := provider.files[1]
	if len(parts) != 2 || parts[0].Name != "original_file" || parts[1].Name != "modified_file" {
		t.Fatalf("verdict attachments wrong: %+v", parts)
	}
	if string(parts[0].Data) != "alpha" || string(parts[1].Data) != "alpha beta" {
		t.Errorf("attachment bytes wrong")
	}
}

func TestProcessPath_RejectionFeedsNextAttempt(t *testing.T) {
	provider := &scriptedProvider{t: t, replies: []string{
		"print('SUMMARY: pass one')",
		"NO\nRow 4 was expected to change but did not.",
		"print('SUMMARY: pass two')",
		"YES\nAll changes verified.",
	}}
	exec := &scriptedExec{outcomes: []runner.Outcome{
		{Success: true, Stdout: "SUMMARY: pass one"},
		{Success: true, Stdout: "SUMMARY: pass two"},
	}}
	eng, ws := newPathEngine(t, provider, exec, 5)
	source := writeDoc(t, ws, "ledger.txt", "alpha")

	res, err := eng.ProcessPath(context.Background(), PathRequest{UserID: "u", FilePath: source, Task: "t"})
	if err != nil {
		t.Fatalf("ProcessPath: %v", err)
	}
	if !res.Validated || res.Attempts != 2 {
		t.Fatalf("expected success on second attempt, got %+v", res)
	}
	second := provider.calls[2]
	if !strings.Contains(second, "The validator identified the following issues") {
		t.Errorf("second prompt lacks rejection carryover")
	}
	if !strings.Contains(second, "Row 4 was expected to change but did not.") {
		t.Errorf("second prompt lacks verdict detail")
	}
	if res.Summary != "pass two" {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestProcessPath_ExecutionErrorFeedsNextAttempt(t *testing.T) {
	provider := &scriptedProvider{t: t, replies: []string{
		"bad code",
		"print('SUMMARY: fixed')",
		"YES\nVerified.",
	}}
	exec := &scriptedExec{outcomes: []runner.Outcome{
		{Message: "SyntaxError: invalid syntax", Trace: "Traceback...\nSyntaxError"},
		{Success: true, Stdout: "SUMMARY: fixed"},
	}}
	eng, ws := newPathEngine(t, provider, exec, 5)
	source := writeDoc(t, ws, "ledger.txt", "alpha")

	res, err := eng.ProcessPath(context.Background(), PathRequest{UserID: "u", FilePath: source, Task: "t"})
	if err != nil {
		t.Fatalf("ProcessPath: %v", err)
	}
	if !res.Validated || res.Attempts != 2 {
		t.Fatalf("expected recovery on second attempt, got %+v", res)
	}
	second := provider.calls[1]
	if !strings.Contains(second, "failed with this error") {
		t.Errorf("second prompt lacks error carryover")
	}
	if !strings.Contains(second, "SyntaxError: invalid syntax") {
		t.Errorf("second prompt lacks error detail")
	}
	// A failed execution never reaches the validator.
	if len(provider.calls) != 3 {
		t.Fatalf("expected 3 oracle calls, got %d", len(provider.calls))
	}
}

func TestProcessPath_ExhaustedStillReturnsCopy(t *testing.T) {
	provider := &scriptedProvider{t: t, replies: []string{
		"print('SUMMARY: one')",
		"NO\nStill wrong.",
		"print('SUMMARY: two')",
		"NO\nStill wrong.",
	}}
	exec := &scriptedExec{outcomes: []runner.Outcome{
		{Success: true, Stdout: "SUMMARY: one"},
		{Success: true, Stdout: "SUMMARY: two"},
	}}
	eng, ws := newPathEngine(t, provider, exec, 2)
	source := writeDoc(t, ws, "ledger.txt", "alpha")

	res, err := eng.ProcessPath(context.Background(), PathRequest{UserID: "u", FilePath: source, Task: "t"})
	if err != nil {
		t.Fatalf("exhaustion is not an error: %v", err)
	}
	if res.Success || res.Validated {
		t.Fatalf("expected annotated failure, got %+v", res)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d", res.Attempts)
	}
	if !strings.Contains(res.Message, "could not be fully completed") {
		t.Errorf("message = %q", res.Message)
	}
	if _, err := os.Stat(res.ModifiedPath); err != nil {
		t.Errorf("modified copy must survive exhaustion: %v", err)
	}
	if res.Summary != "two" {
		t.Errorf("summary should reflect the last run, got %q", res.Summary)
	}
}

func TestProcessPath_ValidatorOutageReturnsFileAsIs(t *testing.T) {
	provider := &scriptedProvider{
		t:       t,
		replies: []string{"print('SUMMARY: done')", ""},
		errs:    []error{nil, oracle.ErrUnavailable},
	}
	exec := &scriptedExec{outcomes: []runner.Outcome{{Success: true, Stdout: "SUMMARY: done"}}}
	eng, ws := newPathEngine(t, provider, exec, 5)
	source := writeDoc(t, ws, "ledger.txt", "alpha")

	res, err := eng.ProcessPath(context.Background(), PathRequest{UserID: "u", FilePath: source, Task: "t"})
	if err != nil {
		t.Fatalf("validator outage must not fail the request: %v", err)
	}
	if !res.Success || res.Validated || !res.ValidationFailed {
		t.Fatalf("expected unvalidated hand-back, got %+v", res)
	}
	if !strings.Contains(res.Summary, "(Note: validation step failed due to:") {
		t.Errorf("summary lacks annotation: %q", res.Summary)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d", res.Attempts)
	}
}

func TestProcessPath_MissingSource(t *testing.T) {
	provider := &scriptedProvider{t: t}
	eng, ws := newPathEngine(t, provider, &scriptedExec{}, 5)

	_, err := eng.ProcessPath(context.Background(), PathRequest{
		UserID: "u", FilePath: filepath.Join(ws, "gone.xlsx"), Task: "t",
	})
	if !errors.Is(err, docread.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(provider.calls) != 0 {
		t.Fatalf("oracle must not be called, got %d calls", len(provider.calls))
	}
}

func TestCleanPathCode(t *testing.T) {
	got := cleanPathCode("print(“hello”)\nx = ‘y’ – z…")
	if !strings.HasPrefix(got, "# -*- coding: utf-8 -*-\n") {
		t.Fatalf("missing encoding header: %q", got)
	}
	if !strings.Contains(got, `print("hello")`) {
		t.Errorf("smart quotes not normalized: %q", got)
	}
	if !strings.Contains(got, "x = 'y' - z...") {
		t.Errorf("dashes and ellipsis not normalized: %q", got)
	}
}

func TestCleanPathCode_HonorsFence(t *testing.T) {
	got := cleanPathCode("Sure, here you go:\n```python\nprint('x')\n```\nGood luck!")
	if got != "# -*- coding: utf-8 -*-\nprint('x')" {
		t.Fatalf("got %q", got)
	}
}

func TestCleanPathCode_KeepsExistingHeader(t *testing.T) {
	got := cleanPathCode("# -*- coding: utf-8 -*-\nprint('x')")
	if strings.Count(got, "# -*- coding: utf-8 -*-") != 1 {
		t.Fatalf("header duplicated: %q", got)
	}
}

func TestScanSummary(t *testing.T) {
	out := "step 1\nSUMMARY: first pass\nmore output\nsummary: final pass\n"
	if got := scanSummary(out); got != "final pass" {
		t.Fatalf("last summary should win, got %q", got)
	}
	if got := scanSummary("no markers here"); got != "No summary found in model output." {
		t.Fatalf("fallback wrong: %q", got)
	}
}
