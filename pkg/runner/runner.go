package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/officestack/docpatch/pkg/logger"
)

const maxOutputChars = 10000

// workdirMu serializes the chdir/execute/restore sequence. os.Chdir is
// process-wide, so two concurrent executions must not interleave
// directory changes.
var workdirMu sync.Mutex

// Outcome reports a single execution of generated code.
type Outcome struct {
	Success bool
	Message string // short failure reason, empty on success
	Trace   string // combined stdout/stderr, truncated
	Stdout  string // stdout alone, for callers that scan it
}

// Runner executes generated Python scripts against a target document.
// The script runs with its working directory switched to the document's
// parent directory, with TARGET_FILE_PATH, OUTPUT_DIR and CODES_DIR
// exposed both as environment variables and as Python globals.
type Runner struct {
	interpreter string
	codesDir    string
	outputDir   string
	timeout     time.Duration
}

func New(interpreter, codesDir, outputDir string, timeout time.Duration) *Runner {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if abs, err := filepath.Abs(codesDir); err == nil {
		codesDir = abs
	}
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}
	return &Runner{
		interpreter: interpreter,
		codesDir:    codesDir,
		outputDir:   outputDir,
		timeout:     timeout,
	}
}

// Execute writes code to a script under the codes directory and runs it
// with the given document as TARGET_FILE_PATH. Scripts are left in place
// after the run so failures can be replayed by hand.
func (r *Runner) Execute(ctx context.Context, code string, targetPath string) Outcome {
	target, err := filepath.Abs(targetPath)
	if err != nil {
		return Outcome{Message: fmt.Sprintf("cannot resolve target path: %v", err)}
	}

	if err := os.MkdirAll(r.codesDir, 0o755); err != nil {
		return Outcome{Message: fmt.Sprintf("cannot create codes directory: %v", err)}
	}
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return Outcome{Message: fmt.Sprintf("cannot create output directory: %v", err)}
	}

	scriptPath := filepath.Join(r.codesDir, uuid.New().String()+"_exec.py")
	script := prelude(target, r.outputDir, r.codesDir) + code
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return Outcome{Message: fmt.Sprintf("cannot write exec script: %v", err)}
	}

	workDir := filepath.Dir(target)

	logger.InfoCF("runner", "executing code unit", map[string]interface{}{
		"script":  filepath.Base(scriptPath),
		"workdir": workDir,
		"timeout": r.timeout.String(),
	})

	workdirMu.Lock()
	defer workdirMu.Unlock()

	prevDir, err := os.Getwd()
	if err != nil {
		return Outcome{Message: fmt.Sprintf("cannot read working directory: %v", err)}
	}
	if err := os.Chdir(workDir); err != nil {
		return Outcome{Message: fmt.Sprintf("cannot enter document directory: %v", err)}
	}
	defer func() {
		if err := os.Chdir(prevDir); err != nil {
			logger.ErrorCF("runner", "failed to restore working directory", map[string]interface{}{
				"dir":   prevDir,
				"error": err.Error(),
			})
		}
	}()

	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, r.interpreter, scriptPath)
	cmd.Env = mergeEnv(os.Environ(), map[string]string{
		"TARGET_FILE_PATH": target,
		"OUTPUT_DIR":       r.outputDir,
		"CODES_DIR":        r.codesDir,
	})

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\nSTDERR:\n" + stderr.String()
	}

	if runErr != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			msg := fmt.Sprintf("execution timed out after %v", r.timeout)
			logger.WarnCF("runner", "code unit timed out", map[string]interface{}{
				"script":  filepath.Base(scriptPath),
				"timeout": r.timeout.String(),
			})
			return Outcome{
				Message: msg,
				Trace:   truncate(output),
				Stdout:  truncate(stdout.String()),
			}
		}
		output += fmt.Sprintf("\nExit code: %v", runErr)
		msg := failureMessage(stderr.String(), runErr)
		logger.WarnCF("runner", "code unit failed", map[string]interface{}{
			"script": filepath.Base(scriptPath),
			"error":  msg,
		})
		return Outcome{
			Message: msg,
			Trace:   truncate(output),
			Stdout:  truncate(stdout.String()),
		}
	}

	logger.DebugCF("runner", "code unit succeeded", map[string]interface{}{
		"script": filepath.Base(scriptPath),
	})
	return Outcome{
		Success: true,
		Trace:   truncate(output),
		Stdout:  truncate(stdout.String()),
	}
}

// prelude assigns the path bindings as Python globals so generated code
// may use either the globals or the environment variables.
func prelude(target, outputDir, codesDir string) string {
	var b strings.Builder
	b.WriteString("TARGET_FILE_PATH = " + pyString(target) + "\n")
	b.WriteString("OUTPUT_DIR = " + pyString(outputDir) + "\n")
	b.WriteString("CODES_DIR = " + pyString(codesDir) + "\n")
	b.WriteString("\n")
	return b.String()
}

// pyString renders s as a Python string literal. JSON string escaping is
// a subset of Python's, so the encoded form is valid in both.
func pyString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// failureMessage picks the most useful short description of a failed
// run: the last non-empty stderr line (the final line of a Python
// traceback) when present, else the process error.
func failureMessage(stderrText string, runErr error) string {
	lines := strings.Split(stderrText, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return runErr.Error()
}

func truncate(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	return s[:maxOutputChars] + fmt.Sprintf("\n... (truncated, %d more chars)", len(s)-maxOutputChars)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		keep := true
		for k := range overrides {
			if strings.HasPrefix(kv, k+"=") {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, kv)
		}
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}
