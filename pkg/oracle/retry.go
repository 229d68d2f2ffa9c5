package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/officestack/docpatch/pkg/logger"
)

// RetryingProvider wraps a Provider with bounded retries for transient
// transport errors, plus a single alternate-transmission fallback: when a
// call with attachments comes back empty, the attachments are folded into
// the prompt text and sent once more before the error propagates.
type RetryingProvider struct {
	inner       Provider
	maxAttempts int
	backoff     time.Duration
}

func WithRetry(p Provider, maxAttempts int) *RetryingProvider {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingProvider{
		inner:       p,
		maxAttempts: maxAttempts,
		backoff:     2 * time.Second,
	}
}

func (r *RetryingProvider) GetDefaultModel() string {
	return r.inner.GetDefaultModel()
}

func (r *RetryingProvider) Generate(ctx context.Context, prompt string, files []FilePart, options map[string]interface{}) (string, error) {
	var lastErr error
	triedInline := false

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		text, err := r.inner.Generate(ctx, prompt, files, options)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if errors.Is(err, ErrEmptyResponse) && len(files) > 0 && !triedInline {
			logger.WarnCF("oracle", "Empty response with attachments, retrying inline",
				map[string]interface{}{"attempt": attempt, "files": len(files)})
			prompt = InlineFiles(prompt, files)
			files = nil
			triedInline = true
			continue
		}

		if !IsRetryable(err) {
			return "", err
		}
		if attempt == r.maxAttempts {
			break
		}

		wait := r.backoff * time.Duration(attempt)
		logger.WarnCF("oracle", "Transient generate failure, backing off",
			map[string]interface{}{"attempt": attempt, "wait": wait.String(), "error": err.Error()})
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}
