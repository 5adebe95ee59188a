package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/splitleasesharath/slack-deep-research/pkg/log"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("scheduler: registry closed")

// Task is the deferred work a timer fires.
type Task func(ctx context.Context)

type entry struct {
	timer     *time.Timer
	cancelled bool
}

// Registry tracks armed timers by ID. Scheduling an ID that is already armed
// replaces the pending task.
type Registry struct {
	logger log.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	wg sync.WaitGroup
}

// New returns an empty Registry.
func New(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		logger:  logger.WithComponent("scheduler"),
		entries: make(map[string]*entry),
	}
}

// Schedule arms fn to run after delay. The task runs on its own goroutine
// with ctx; a cancelled ctx at fire time makes the firing a no-op.
func (r *Registry) Schedule(ctx context.Context, id string, delay time.Duration, fn Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if prev, ok := r.entries[id]; ok {
		r.cancelLocked(id, prev)
	}

	e := &entry{}
	r.wg.Add(1)
	e.timer = time.AfterFunc(delay, func() {
		defer r.wg.Done()

		r.mu.Lock()
		fired := !e.cancelled
		if cur, ok := r.entries[id]; ok && cur == e {
			delete(r.entries, id)
		}
		r.mu.Unlock()

		if !fired || ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	r.entries[id] = e

	r.logger.Debug("task armed", log.Str("id", id), log.Dur("delay", delay))
	return nil
}

// Cancel disarms id. It reports whether a pending task existed. A task whose
// timer already fired is marked so the firing becomes a no-op.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	r.cancelLocked(id, e)
	return true
}

// cancelLocked disarms e under r.mu. When Stop loses the race with the
// timer, the cancelled flag still suppresses the task body and the callback
// owns the WaitGroup slot.
func (r *Registry) cancelLocked(id string, e *entry) {
	e.cancelled = true
	delete(r.entries, id)
	if e.timer.Stop() {
		r.wg.Done()
	}
}

// Has reports whether id is currently armed.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len reports the number of armed tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Wait blocks until every armed task has fired or been cancelled, or until
// ctx expires. Tasks still pending at expiry keep running; the caller just
// stops waiting for them.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all armed tasks and rejects further scheduling.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, e := range r.entries {
		r.cancelLocked(id, e)
	}
}
