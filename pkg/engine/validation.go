package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/officestack/docpatch/pkg/bus"
	"github.com/officestack/docpatch/pkg/docread"
	"github.com/officestack/docpatch/pkg/extract"
	"github.com/officestack/docpatch/pkg/logger"
)

// validationOutcome carries the correction cycle's terminal state.
// corrections counts regeneration requests issued, matching the fix-call
// accounting of the error cycle.
type validationOutcome struct {
	passed      bool
	attempts    int
	corrections int
	note        string
	execFailed  bool
	code        string
}

// validate compares the document before and after execution against the
// task. On a rejection it regenerates code from the validator's feedback,
// re-executes once (an execution failure here stops the cycle, it does not
// re-enter the error-repair loop), and validates again. The cycle never
// fails the request: exhaustion and stalled regeneration downgrade to an
// annotated result.
func (e *Engine) validate(ctx context.Context, req Request, docPath, baseline, code string, skip bool) validationOutcome {
	out := validationOutcome{code: code}
	if e.disableValidation {
		out.passed = true
		return out
	}

	retriesUsed := 0
	for {
		out.attempts++
		e.publish(req.RequestID, req.UserID, bus.StageValidation, out.attempts, "validating document changes")

		if skip {
			// No readable baseline; checking is best-effort, never a gate.
			logger.WarnCF("engine", "validation skipped, baseline unavailable",
				map[string]interface{}{"document": docPath})
			out.passed = true
			return out
		}

		modified, err := docread.ReadContent(docPath)
		if err != nil || modified == "" {
			logger.WarnCF("engine", "validation skipped, modified content unavailable",
				map[string]interface{}{"document": docPath})
			out.passed = true
			return out
		}

		verdict := e.runValidator(ctx, req.Task, baseline, modified, out.code)
		if verdict.Valid {
			out.passed = true
			if out.corrections > 0 {
				logger.InfoCF("engine", "validation passed after corrections",
					map[string]interface{}{"corrections": out.corrections})
			}
			return out
		}

		logger.WarnCF("engine", "validator rejected changes", map[string]interface{}{
			"validation": out.attempts,
			"feedback":   clip(verdict.Feedback, 500),
		})

		if retriesUsed == e.maxValidatorRetries {
			out.note = fmt.Sprintf("validator still rejected the changes after %d correction(s)", out.corrections)
			return out
		}
		retriesUsed++
		out.corrections++

		reply, err := e.provider.Generate(ctx, buildValidatorFixPrompt(req.Task, out.code, verdict.Feedback), nil, nil)
		if err != nil {
			logger.WarnCF("engine", "feedback regeneration unavailable",
				map[string]interface{}{"error": err.Error()})
			out.note = fmt.Sprintf("regeneration unavailable: %v", err)
			return out
		}
		regenerated := extract.Combine(extract.Blocks(reply))
		if strings.TrimSpace(regenerated) == "" || regenerated == out.code {
			out.note = "regeneration produced no new code"
			return out
		}

		if path, err := e.codes.SaveValidatorFix(out.corrections, regenerated); err != nil {
			logger.WarnCF("engine", "could not save corrected code",
				map[string]interface{}{"error": err.Error()})
		} else {
			logger.DebugCF("engine", "corrected code saved",
				map[string]interface{}{"path": path})
		}
		e.resolveDeps(ctx, regenerated)
		out.code = regenerated

		oc := e.exec.Execute(ctx, out.code, docPath)
		if !oc.Success {
			out.execFailed = true
			out.note = fmt.Sprintf("corrected code failed to execute: %s", oc.Message)
			logger.WarnCF("engine", "corrected code failed, stopping correction cycle",
				map[string]interface{}{"error": oc.Message})
			return out
		}

		// The re-executed state becomes the baseline for the next check.
		if refreshed, err := docread.ReadContent(docPath); err == nil {
			baseline = refreshed
		}
	}
}
