package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

const (
	// Buffer inserts so request handlers never block on slow filesystems.
	historyQueueSize = 256
)

var ErrStoreClosed = errors.New("history store closed")

// JSONLStore appends records as JSONL under <workspace>/history. The
// queue channel is never closed; Close signals stop and the write loop
// drains what is already queued.
type JSONLStore struct {
	path   string
	queue  chan []byte
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

func NewJSONLStore(workspace string) (*JSONLStore, error) {
	return NewJSONLStoreAt(filepath.Join(workspace, "history", "history.jsonl"))
}

func NewJSONLStoreAt(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	s := &JSONLStore{
		path:  path,
		queue: make(chan []byte, historyQueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

func (s *JSONLStore) Path() string {
	return s.path
}

func (s *JSONLStore) Insert(_ context.Context, rec Record) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if rec.RecordedAt == "" {
		rec.RecordedAt = time.Now().UTC().Format(time.RFC3339)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	line := append(b, '\n')
	select {
	case s.queue <- line:
		return nil
	default:
	}

	// Queue full: drop the oldest pending line so the current record
	// can proceed.
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- line:
	default:
	}
	return nil
}

// Close stops accepting records and waits for queued lines to hit disk.
func (s *JSONLStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stop)
	}
	<-s.done
	return nil
}

func (s *JSONLStore) writeLoop() {
	defer close(s.done)
	for {
		select {
		case line := <-s.queue:
			_ = s.appendLine(line)
		case <-s.stop:
			for {
				select {
				case line := <-s.queue:
					_ = s.appendLine(line)
				default:
					return
				}
			}
		}
	}
}

func (s *JSONLStore) appendLine(line []byte) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return err
	}
	return nil
}
