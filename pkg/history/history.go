// Package history records each processed request for audit. Postgres
// when a DSN is configured, append-only JSONL in the workspace
// otherwise.
package history

import (
	"context"
	"strings"
)

// Record is one processed request.
type Record struct {
	UserName       string `json:"user_name"`
	ChatName       string `json:"chat_name"`
	InputFilePath  string `json:"input_file_path"`
	OutputFilePath string `json:"output_file_path"`
	Query          string `json:"query"`
	Remarks        string `json:"remarks"`
	RecordedAt     string `json:"recorded_at,omitempty"`
}

// Store persists records. Implementations must tolerate Insert being
// called from request handlers: failures are for the caller to log,
// never to propagate to the user.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Close() error
}

// Open selects the backing store: Postgres when dsn is non-empty, else
// the workspace JSONL file.
func Open(ctx context.Context, dsn, workspace string) (Store, error) {
	if strings.TrimSpace(dsn) != "" {
		return OpenPostgres(ctx, dsn)
	}
	return NewJSONLStore(workspace)
}

// NoopStore discards records. Used when history is disabled or the real
// store failed to open.
type NoopStore struct{}

func (NoopStore) Insert(context.Context, Record) error { return nil }
func (NoopStore) Close() error                         { return nil }
