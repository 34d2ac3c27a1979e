// Package locker provides a scoped, advisory, time-bounded file lock. Its
// single use is cross-invocation mutual exclusion around the shared runtime
// reload: two deployments of sites sharing one runtime pool must not reload
// it simultaneously.
package locker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTimeout is returned when the lock could not be acquired within the
// bound. The caller must abort, never proceed without the lock.
var ErrTimeout = errors.New("lock acquisition timed out")

const pollInterval = 50 * time.Millisecond

// FileLock is an advisory lock backed by an O_EXCL-created marker file.
type FileLock struct {
	// Path is the lock file path, shared by all contending invocations.
	Path string

	// StaleAfter is the age past which an existing lock file is presumed
	// abandoned (holder crashed) and removed. Zero disables stale removal.
	StaleAfter time.Duration
}

// Acquire blocks until the lock is held or the timeout elapses. On success
// it returns a release function that is safe to call exactly once from a
// defer, guaranteeing release on every exit path.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) (release func(), err error) {
	deadline := time.Now().Add(timeout)

	for {
		ok, tryErr := l.tryAcquire()
		if tryErr != nil {
			return nil, tryErr
		}
		if ok {
			return func() {
				if rmErr := os.Remove(l.Path); rmErr != nil && !os.IsNotExist(rmErr) {
					log.Warn().Err(rmErr).Str("path", l.Path).Msg("failed to remove lock file")
				}
			}, nil
		}

		l.removeIfStale()

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, l.Path)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// tryAcquire attempts a single O_EXCL creation of the lock file.
func (l *FileLock) tryAcquire() (bool, error) {
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}
	fmt.Fprintf(f, "pid=%d acquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return true, f.Close()
}

// removeIfStale deletes the lock file when its holder is presumed dead.
func (l *FileLock) removeIfStale() {
	if l.StaleAfter <= 0 {
		return
	}
	info, err := os.Stat(l.Path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > l.StaleAfter {
		log.Warn().Str("path", l.Path).Msg("removing stale lock file")
		_ = os.Remove(l.Path)
	}
}
