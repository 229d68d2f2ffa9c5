package oracle

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors for the failure classes callers branch on. Provider
// implementations wrap these with %w so errors.Is works through the chain.
var (
	ErrUnauthorized  = errors.New("oracle: unauthorized")
	ErrRateLimited   = errors.New("oracle: rate limited")
	ErrUnavailable   = errors.New("oracle: service unavailable")
	ErrEmptyResponse = errors.New("oracle: empty response")
	ErrPolicyBlocked = errors.New("oracle: blocked by content policy")
)

// IsRetryable reports whether a generate call is worth repeating as-is.
// Empty responses are handled separately (alternate transmission mode).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
