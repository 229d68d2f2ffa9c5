// Package bus carries progress events from the engine to whoever wants
// to watch a request run (the gateway's websocket stream, the CLI).
package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var ErrBusClosed = errors.New("progress bus closed")

// Stage names one step of the correction loop.
type Stage string

const (
	StageGeneration   Stage = "generation"
	StageExtraction   Stage = "extraction"
	StageDependencies Stage = "dependencies"
	StageArchive      Stage = "archive"
	StageExecution    Stage = "execution"
	StageValidation   Stage = "validation"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// ProgressEvent reports one stage of a running request. Attempt is the
// retry index for execution and validation stages, zero-based.
type ProgressEvent struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id,omitempty"`
	Stage     Stage     `json:"stage"`
	Attempt   int       `json:"attempt,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// ProgressBus is a single-consumer event stream. Publishing never
// blocks: when the buffer is full the event is dropped, so a slow
// subscriber cannot stall request processing.
type ProgressBus struct {
	events  chan ProgressEvent
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
}

func NewProgressBus() *ProgressBus {
	return &ProgressBus{
		events: make(chan ProgressEvent, 100),
		done:   make(chan struct{}),
	}
}

// Publish enqueues an event, stamping Time when unset. Returns
// ErrBusClosed after Close; a full buffer drops the event silently.
func (pb *ProgressBus) Publish(ev ProgressEvent) error {
	if pb.closed.Load() {
		return ErrBusClosed
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case pb.events <- ev:
	default:
		pb.dropped.Add(1)
	}
	return nil
}

// Subscribe blocks for the next event. ok is false once the bus is
// closed or the context ends.
func (pb *ProgressBus) Subscribe(ctx context.Context) (ProgressEvent, bool) {
	select {
	case ev := <-pb.events:
		return ev, true
	case <-pb.done:
		return ProgressEvent{}, false
	case <-ctx.Done():
		return ProgressEvent{}, false
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (pb *ProgressBus) Dropped() int64 {
	return pb.dropped.Load()
}

func (pb *ProgressBus) Close() {
	if pb.closed.CompareAndSwap(false, true) {
		close(pb.done)
	}
}
