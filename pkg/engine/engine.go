// Package engine orchestrates the generate-execute-validate loop that turns
// oracle replies into applied document edits. Two independent repair cycles
// bound the damage an unreliable oracle can do: execution failures are
// patched from the error text, and semantically wrong results are
// regenerated from validator feedback, each up to a fixed retry budget.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/officestack/docpatch/pkg/archive"
	"github.com/officestack/docpatch/pkg/bus"
	"github.com/officestack/docpatch/pkg/codestore"
	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/docread"
	"github.com/officestack/docpatch/pkg/extract"
	"github.com/officestack/docpatch/pkg/history"
	"github.com/officestack/docpatch/pkg/logger"
	"github.com/officestack/docpatch/pkg/oracle"
	"github.com/officestack/docpatch/pkg/pydeps"
	"github.com/officestack/docpatch/pkg/runner"
	"github.com/officestack/docpatch/pkg/state"
)

// Execer runs one code unit against a target document.
type Execer interface {
	Execute(ctx context.Context, code string, targetPath string) runner.Outcome
}

// DepResolver makes the third-party modules a code unit imports available.
// Failures are reported, never fatal.
type DepResolver interface {
	ResolveAll(ctx context.Context, code string) []pydeps.Report
}

// Collaborators are the engine's pluggable parts. Tests substitute
// scripted stand-ins; production wiring comes from New.
type Collaborators struct {
	Provider oracle.Provider
	Exec     Execer
	Deps     DepResolver
	Codes    *codestore.Store
	Archive  *archive.Manager
	History  history.Store
	State    *state.Manager
	Bus      *bus.ProgressBus
}

// Engine drives document processing requests end to end.
type Engine struct {
	cfg      *config.Config
	provider oracle.Provider
	exec     Execer
	deps     DepResolver
	codes    *codestore.Store
	archive  *archive.Manager
	history  history.Store
	state    *state.Manager
	bus      *bus.ProgressBus

	maxErrorRetries     int
	maxValidatorRetries int
	maxPathAttempts     int
	projectionMax       int
	disableValidation   bool
}

// New wires an Engine from configuration. The Python environment is
// expected to be bootstrapped already; cfg.Python.Interpreter points at it.
func New(cfg *config.Config, provider oracle.Provider, pb *bus.ProgressBus) (*Engine, error) {
	ws := cfg.WorkspacePath()
	codesDir := filepath.Join(ws, "codes")
	if err := os.MkdirAll(codesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create codes dir: %w", err)
	}

	interpreter := cfg.Python.Interpreter
	if interpreter == "" {
		if python, err := pydeps.SystemInterpreter(); err == nil {
			interpreter = python
		}
	}

	policy, err := pydeps.LoadPolicy(cfg.Python.PolicyPath)
	if err != nil {
		return nil, err
	}

	execTimeout := time.Duration(cfg.Engine.ExecTimeoutSeconds) * time.Second
	setupTimeout := time.Duration(cfg.Python.SetupTimeoutSeconds) * time.Second

	var archiver *archive.Manager
	if cfg.Archive.Enabled {
		archiver = archive.NewManager(filepath.Join(ws, "archive"), cfg.Archive.Compress)
	}

	store, err := history.Open(context.Background(), cfg.History.PostgresDSN, ws)
	if err != nil {
		logger.WarnCF("engine", "history store unavailable, records will be dropped",
			map[string]interface{}{"error": err.Error()})
		store = history.NoopStore{}
	}

	return NewWithCollaborators(cfg, Collaborators{
		Provider: provider,
		Exec:     runner.New(interpreter, codesDir, cfg.UploadsPath(), execTimeout),
		Deps:     pydeps.NewInstaller(interpreter, setupTimeout, policy),
		Codes:    codestore.New(codesDir),
		Archive:  archiver,
		History:  store,
		State:    state.NewManager(ws),
		Bus:      pb,
	}), nil
}

// NewWithCollaborators wires an Engine around explicit collaborators.
func NewWithCollaborators(cfg *config.Config, c Collaborators) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		cfg:                 cfg,
		provider:            c.Provider,
		exec:                c.Exec,
		deps:                c.Deps,
		codes:               c.Codes,
		archive:             c.Archive,
		history:             c.History,
		state:               c.State,
		bus:                 c.Bus,
		maxErrorRetries:     cfg.Engine.MaxErrorRetries,
		maxValidatorRetries: cfg.Engine.MaxValidatorRetries,
		maxPathAttempts:     cfg.Engine.MaxPathAttempts,
		projectionMax:       cfg.Engine.ProjectionMaxChars,
		disableValidation:   cfg.Engine.DisableValidation,
	}
	if e.maxErrorRetries < 0 {
		e.maxErrorRetries = 0
	}
	if e.maxValidatorRetries < 0 {
		e.maxValidatorRetries = 0
	}
	if e.maxPathAttempts <= 0 {
		e.maxPathAttempts = 5
	}
	if e.projectionMax <= 0 {
		e.projectionMax = 12000
	}
	return e
}

// Close releases collaborators the engine owns.
func (e *Engine) Close() error {
	if e.history == nil {
		return nil
	}
	return e.history.Close()
}

// LastFile reports the document a user most recently processed, for
// callers resolving a request that names no document.
func (e *Engine) LastFile(userID string) (string, bool) {
	if e.state == nil {
		return "", false
	}
	return e.state.LastFile(userID)
}

// Request describes one in-place document processing job. DocumentPath is
// already resolved by the caller (explicit path, fresh upload, or the
// user's remembered last file).
type Request struct {
	RequestID    string
	UserID       string
	Task         string
	DocumentPath string
	ChatName     string
}

// ProcessDocument runs the full pipeline against the document in place:
// project content, generate code, resolve dependencies, snapshot, execute
// under the error-repair cycle, then validate under the correction cycle.
// Only execution exhaustion (or an oracle failure mid-cycle) returns a
// non-nil error; the result still carries the attempt counters then.
func (e *Engine) ProcessDocument(ctx context.Context, req Request) (*ProcessingResult, error) {
	start := time.Now()

	docPath, err := filepath.Abs(req.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("resolve document path: %w", err)
	}
	if _, err := os.Stat(docPath); err != nil {
		return nil, fmt.Errorf("%w: %s", docread.ErrNotFound, docPath)
	}

	logger.InfoCF("engine", "processing document", map[string]interface{}{
		"user":     req.UserID,
		"document": filepath.Base(docPath),
		"task_len": len(req.Task),
	})

	// One projection read serves both the prompt and the validation baseline.
	baseline, readable := e.projection(docPath)

	e.publish(req.RequestID, req.UserID, bus.StageGeneration, 0, "requesting code generation")
	prompt := buildGenerationPrompt(req.Task, docread.Truncate(baseline, e.projectionMax), docPath)
	raw, err := e.provider.Generate(ctx, prompt, nil, nil)
	if err != nil {
		e.publish(req.RequestID, req.UserID, bus.StageFailed, 0, "oracle generation failed")
		e.recordFailure(ctx, req, docPath, start, fmt.Sprintf("oracle generation failed: %v", err))
		return nil, fmt.Errorf("oracle generation: %w", err)
	}

	e.publish(req.RequestID, req.UserID, bus.StageExtraction, 0, "extracting code blocks")
	blocks := extract.Blocks(raw)
	logger.InfoCF("engine", "extracted code blocks", map[string]interface{}{
		"count":       len(blocks),
		"reply_chars": len(raw),
	})

	res := &ProcessingResult{
		OriginalTask:   req.Task,
		OracleResponse: raw,
		GeneratedFiles: []string{},
	}

	if len(blocks) == 0 {
		// Nothing executable: persist the reply for review and stop here.
		artifact, saveErr := e.codes.SaveCommentOnly(raw)
		if saveErr != nil {
			logger.WarnCF("engine", "could not save comment-only artifact",
				map[string]interface{}{"error": saveErr.Error()})
		}
		res.Success = true
		res.Message = "File processed successfully"
		res.CodeSavedTo = artifact
		res.ValidationPassed = true
		res.ValidationNote = "no executable code in oracle reply"
		res.ElapsedSeconds = time.Since(start).Seconds()
		e.finishSuccess(ctx, req, docPath, start, 0)
		e.publish(req.RequestID, req.UserID, bus.StageDone, 0, "no executable code in reply")
		return res, nil
	}

	code := extract.Combine(blocks)
	codePath, saveErr := e.codes.SaveInitial(code)
	if saveErr != nil {
		logger.WarnCF("engine", "could not save initial code artifact",
			map[string]interface{}{"error": saveErr.Error()})
	}
	res.CodeSavedTo = codePath

	e.publish(req.RequestID, req.UserID, bus.StageDependencies, 0, "resolving dependencies")
	e.resolveDeps(ctx, code)

	if e.archive != nil {
		e.publish(req.RequestID, req.UserID, bus.StageArchive, 0, "snapshotting document")
		if _, err := e.archive.Snapshot(docPath); err != nil {
			logger.WarnCF("engine", "pre-run snapshot failed",
				map[string]interface{}{"document": filepath.Base(docPath), "error": err.Error()})
		}
	}

	cycle := e.runWithRepair(ctx, req, code, docPath)
	res.ErrorRetries = cycle.retries
	code = cycle.code
	if cycle.err != nil {
		res.Success = false
		res.Message = "Execution failed - code saved for debugging"
		res.Error = fmt.Sprintf("Execution failed: %s", cycle.lastMessage)
		res.ErrorDetails = clip(cycle.trace, errorDetailBudget)
		res.TotalCorrections = res.ErrorRetries + res.ValidatorCorrections
		res.ElapsedSeconds = time.Since(start).Seconds()
		e.publish(req.RequestID, req.UserID, bus.StageFailed, cycle.attempts, "execution exhausted")
		e.recordFailure(ctx, req, docPath, start, cycle.err.Error())
		return res, cycle.err
	}

	skip := !readable || baseline == ""
	v := e.validate(ctx, req, docPath, baseline, code, skip)
	res.ValidationAttempts = v.attempts
	res.ValidatorCorrections = v.corrections
	res.ValidationPassed = v.passed
	res.ValidationNote = v.note
	res.TotalCorrections = res.ErrorRetries + res.ValidatorCorrections

	res.Success = true
	res.GeneratedFiles = []string{docPath}
	if v.passed {
		res.Message = "File processed successfully"
	} else {
		res.Message = "File processed - validation could not confirm all requested changes"
	}
	res.ElapsedSeconds = time.Since(start).Seconds()

	e.finishSuccess(ctx, req, docPath, start, len(blocks))
	e.publish(req.RequestID, req.UserID, bus.StageDone, 0, "completed")

	logger.InfoCF("engine", "processing completed", map[string]interface{}{
		"user":                  req.UserID,
		"document":              filepath.Base(docPath),
		"elapsed_seconds":       res.ElapsedSeconds,
		"validation_attempts":   res.ValidationAttempts,
		"validator_corrections": res.ValidatorCorrections,
		"error_retries":         res.ErrorRetries,
		"total_corrections":     res.TotalCorrections,
	})
	return res, nil
}

// projection reads the document's text form. An unreadable document is a
// degraded mode, not a failure: generation proceeds without content and
// validation is skipped.
func (e *Engine) projection(path string) (string, bool) {
	content, err := docread.ReadContent(path)
	if err != nil {
		logger.WarnCF("engine", "could not read document content",
			map[string]interface{}{"document": filepath.Base(path), "error": err.Error()})
		return "", false
	}
	return content, true
}

func (e *Engine) resolveDeps(ctx context.Context, code string) {
	if e.deps == nil {
		return
	}
	e.deps.ResolveAll(ctx, code)
}

func (e *Engine) runValidator(ctx context.Context, task, original, modified, code string) Verdict {
	reply, err := e.provider.Generate(ctx, buildValidatorPrompt(task, original, modified, code), nil, nil)
	if err != nil {
		logger.WarnCF("engine", "validator unavailable",
			map[string]interface{}{"error": err.Error()})
		return Verdict{Valid: true, Feedback: fmt.Sprintf("Validator unavailable: %v", err)}
	}
	return parseVerdict(reply)
}

func (e *Engine) publish(requestID, userID string, stage bus.Stage, attempt int, detail string) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(bus.ProgressEvent{
		RequestID: requestID,
		UserID:    userID,
		Stage:     stage,
		Attempt:   attempt,
		Detail:    detail,
	})
}

func (e *Engine) chatName(req Request, docPath string) string {
	if req.ChatName != "" {
		return req.ChatName
	}
	base := filepath.Base(docPath)
	return "File Processing - " + strings.TrimSuffix(base, filepath.Ext(base))
}

func (e *Engine) finishSuccess(ctx context.Context, req Request, docPath string, start time.Time, blockCount int) {
	if req.UserID == "" {
		return
	}
	if e.state != nil {
		if err := e.state.SetLastFile(req.UserID, docPath); err != nil {
			logger.WarnCF("engine", "could not remember last file",
				map[string]interface{}{"user": req.UserID, "error": err.Error()})
		}
	}
	if e.history != nil {
		remarks := fmt.Sprintf("Processing completed successfully in %.2f seconds. Generated %d code blocks.",
			time.Since(start).Seconds(), blockCount)
		e.insertHistory(ctx, history.Record{
			UserName:       req.UserID,
			ChatName:       e.chatName(req, docPath),
			InputFilePath:  docPath,
			OutputFilePath: docPath,
			Query:          req.Task,
			Remarks:        remarks,
		})
	}
}

func (e *Engine) recordFailure(ctx context.Context, req Request, docPath string, start time.Time, detail string) {
	if req.UserID == "" || e.history == nil {
		return
	}
	remarks := fmt.Sprintf("Processing failed after %.2f seconds. Error: %s",
		time.Since(start).Seconds(), detail)
	e.insertHistory(ctx, history.Record{
		UserName:       req.UserID,
		ChatName:       e.chatName(req, docPath),
		InputFilePath:  docPath,
		OutputFilePath: docPath,
		Query:          req.Task,
		Remarks:        remarks,
	})
}

func (e *Engine) insertHistory(ctx context.Context, rec history.Record) {
	if err := e.history.Insert(ctx, rec); err != nil {
		logger.WarnCF("engine", "history insert failed",
			map[string]interface{}{"user": rec.UserName, "error": err.Error()})
	}
}
