package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/officestack/docpatch/pkg/bus"
	"github.com/officestack/docpatch/pkg/extract"
	"github.com/officestack/docpatch/pkg/logger"
)

// repairOutcome carries the error-repair cycle's terminal state. retries
// counts patch requests issued to the oracle, so it lags attempts by one
// on the final failure.
type repairOutcome struct {
	code        string
	retries     int
	attempts    int
	lastMessage string
	trace       string
	err         error
}

// runWithRepair executes code against the document, patching it from the
// execution error and re-running on failure. At most maxErrorRetries+1
// executions happen. A patch that comes back empty or unchanged leaves the
// old code in place; the next attempt reruns it and the budget still
// drains. Oracle failures during patching abort the cycle.
func (e *Engine) runWithRepair(ctx context.Context, req Request, code, docPath string) repairOutcome {
	out := repairOutcome{code: code}

	for attempt := 0; attempt <= e.maxErrorRetries; attempt++ {
		out.attempts = attempt + 1
		detail := "executing code"
		if attempt > 0 {
			detail = "re-executing corrected code"
		}
		e.publish(req.RequestID, req.UserID, bus.StageExecution, attempt, detail)

		oc := e.exec.Execute(ctx, out.code, docPath)
		if oc.Success {
			logger.InfoCF("engine", "execution succeeded", map[string]interface{}{
				"attempt":       attempt + 1,
				"error_retries": out.retries,
			})
			return out
		}
		out.lastMessage = oc.Message
		out.trace = oc.Trace

		if attempt == e.maxErrorRetries {
			logger.ErrorCF("engine", "execution retries exhausted", map[string]interface{}{
				"attempts":      out.attempts,
				"error_retries": out.retries,
				"error":         oc.Message,
			})
			out.err = &ExhaustedError{
				ErrorRetries: out.retries,
				Attempts:     out.attempts,
				LastMessage:  oc.Message,
				Trace:        oc.Trace,
			}
			return out
		}

		out.retries++
		logger.WarnCF("engine", "execution failed, requesting patch", map[string]interface{}{
			"attempt":     fmt.Sprintf("%d/%d", attempt+1, e.maxErrorRetries+1),
			"error_retry": out.retries,
			"error":       oc.Message,
		})

		errorDetails := oc.Message
		if oc.Trace != "" {
			errorDetails += "\n" + oc.Trace
		}
		reply, err := e.provider.Generate(ctx, buildErrorFixPrompt(req.Task, out.code, errorDetails), nil, nil)
		if err != nil {
			out.err = fmt.Errorf("regenerate code from error: %w", err)
			return out
		}

		patched := extract.Combine(extract.Blocks(reply))
		if strings.TrimSpace(patched) == "" || patched == out.code {
			logger.WarnCF("engine", "patch did not change the code, retrying as-is", nil)
			continue
		}

		if path, err := e.codes.SaveErrorFix(out.retries, patched); err != nil {
			logger.WarnCF("engine", "could not save corrected code",
				map[string]interface{}{"error": err.Error()})
		} else {
			logger.DebugCF("engine", "corrected code saved",
				map[string]interface{}{"path": path})
		}
		e.resolveDeps(ctx, patched)
		out.code = patched
	}

	return out
}
