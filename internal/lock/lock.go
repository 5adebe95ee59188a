package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrTimeout means the lock could not be acquired within the bound. Callers
// treat it as "another worker is active", not as a failure.
var ErrTimeout = errors.New("lock: acquisition timed out")

// retryInterval is how often a blocked acquirer re-attempts the flock.
const retryInterval = 250 * time.Millisecond

// FileLock is a cross-process advisory lock on a well-known path.
type FileLock struct {
	fl *flock.Flock
}

// New returns a FileLock for path. The file is created on first acquisition.
func New(path string) *FileLock {
	return &FileLock{fl: flock.New(path)}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.fl.Path() }

// Acquire blocks until the lock is held or timeout elapses. On timeout it
// returns ErrTimeout; the parent context cancelling returns its error.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) error {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := l.fl.TryLockContext(lctx, retryInterval)
	if ok {
		return nil
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrTimeout
		}
		return fmt.Errorf("lock: acquire %s: %w", l.fl.Path(), err)
	}
	return ErrTimeout
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	return l.fl.Unlock()
}
