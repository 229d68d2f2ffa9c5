// Package routing serializes document jobs per user. One worker
// goroutine runs per user ID, so a user's requests execute in
// submission order while distinct users proceed concurrently.
package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Job is one unit of work. It receives the worker's context, which is
// canceled when the pool closes.
type Job func(ctx context.Context)

type workerEntry struct {
	jobs   chan Job
	cancel context.CancelFunc
}

// JobPool keeps one worker per key and reuses it.
type JobPool struct {
	mu      sync.Mutex
	workers map[string]*workerEntry
	closed  bool
	wg      sync.WaitGroup
	depth   int
}

// NewJobPool builds a pool whose per-user queues hold depth jobs
// before Submit blocks.
func NewJobPool(depth int) *JobPool {
	if depth <= 0 {
		depth = 16
	}
	return &JobPool{
		workers: map[string]*workerEntry{},
		depth:   depth,
	}
}

// Submit enqueues a job on key's worker, creating the worker on first
// use. It blocks when the queue is full until there is room or ctx
// ends.
func (p *JobPool) Submit(ctx context.Context, key string, job Job) error {
	entry, err := p.getOrCreate(key)
	if err != nil {
		return err
	}

	select {
	case entry.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size reports how many per-user workers exist.
func (p *JobPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close cancels every worker and waits for in-flight jobs to finish.
// Jobs still queued when a worker observes cancellation do not run.
func (p *JobPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	entries := make([]*workerEntry, 0, len(p.workers))
	for _, e := range p.workers {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	p.wg.Wait()
}

func (p *JobPool) getOrCreate(key string) (*workerEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "local"
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("job pool is closed")
	}

	if e, ok := p.workers[key]; ok {
		return e, nil
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	entry := &workerEntry{
		jobs:   make(chan Job, p.depth),
		cancel: cancel,
	}
	p.workers[key] = entry

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-workerCtx.Done():
				return
			case job := <-entry.jobs:
				job(workerCtx)
			}
		}
	}()

	return entry, nil
}
