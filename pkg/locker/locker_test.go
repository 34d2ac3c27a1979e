package locker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLock(t *testing.T) *FileLock {
	t.Helper()
	return &FileLock{Path: filepath.Join(t.TempDir(), "reload.lock")}
}

// TestAcquireRelease tests the basic acquire/release cycle
func TestAcquireRelease(t *testing.T) {
	lock := testLock(t)

	release, err := lock.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}

	if _, err := os.Stat(lock.Path); err != nil {
		t.Errorf("lock file missing while held: %v", err)
	}

	release()

	if _, err := os.Stat(lock.Path); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release: %v", err)
	}
}

// TestAcquireTimesOutWhileHeld tests the bounded wait
func TestAcquireTimesOutWhileHeld(t *testing.T) {
	lock := testLock(t)

	release, err := lock.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	defer release()

	contender := &FileLock{Path: lock.Path}
	start := time.Now()
	_, err = contender.Acquire(context.Background(), 200*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("timed out after %s, before the bound elapsed", elapsed)
	}
}

// TestAcquireAfterRelease tests that a released lock is immediately available
func TestAcquireAfterRelease(t *testing.T) {
	lock := testLock(t)

	release, err := lock.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		contender := &FileLock{Path: lock.Path}
		rel, err := contender.Acquire(context.Background(), 2*time.Second)
		if err == nil {
			rel()
		}
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	release()

	if err := <-done; err != nil {
		t.Fatalf("contender failed to acquire after release: %v", err)
	}
}

// TestAcquireRemovesStaleLock tests crash recovery via stale-age removal
func TestAcquireRemovesStaleLock(t *testing.T) {
	lock := testLock(t)

	// Simulate an abandoned lock from a crashed holder.
	if err := os.WriteFile(lock.Path, []byte("pid=0\n"), 0644); err != nil {
		t.Fatalf("failed to plant lock file: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lock.Path, old, old); err != nil {
		t.Fatalf("failed to age lock file: %v", err)
	}

	lock.StaleAfter = time.Minute
	release, err := lock.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("failed to acquire over a stale lock: %v", err)
	}
	release()
}

// TestAcquireHonorsContextCancellation tests early abort
func TestAcquireHonorsContextCancellation(t *testing.T) {
	lock := testLock(t)

	release, err := lock.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	contender := &FileLock{Path: lock.Path}
	_, err = contender.Acquire(ctx, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
