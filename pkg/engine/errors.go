package engine

import "fmt"

// ExhaustedError reports generated code that still failed on the final
// execution attempt. It is the one failure class that aborts a request.
type ExhaustedError struct {
	ErrorRetries int    // repair requests issued before giving up
	Attempts     int    // total executions, including the first
	LastMessage  string // failure reason from the final run
	Trace        string // combined output of the final run
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("execution failed after %d error correction attempt(s): %s", e.ErrorRetries, e.LastMessage)
}
