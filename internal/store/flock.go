package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultLockPoll is how often LockContext retries a contended lock.
const DefaultLockPoll = 5 * time.Millisecond

// FileLock is an advisory flock(2) lock on a file inside a gotmesh data or
// mailbox directory. Peers that share a directory take it around every
// read-modify-write: the state snapshot (tasks.lock), the results
// directory (results.lock) and each mailbox index (append.lock).
//
// A FileLock is held by one goroutine at a time. Separate FileLock values
// on the same path exclude each other even inside one process, because
// flock locks belong to the open file description.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns an unheld lock on dir/name. The lock file is created
// on first acquisition and never removed.
func NewFileLock(dir, name string) *FileLock {
	return &FileLock{path: filepath.Join(dir, name)}
}

// WithLock runs fn while holding the lock dir/name.
func WithLock(dir, name string, fn func() error) error {
	fl := NewFileLock(dir, name)
	if err := fl.Lock(); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

// Path returns the lock file path.
func (fl *FileLock) Path() string { return fl.path }

// Lock blocks until the lock is held.
func (fl *FileLock) Lock() error {
	return fl.acquire(unix.LOCK_EX)
}

// TryLock takes the lock if it is free and reports whether it did.
func (fl *FileLock) TryLock() (bool, error) {
	err := fl.acquire(unix.LOCK_EX | unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return err == nil, err
}

// LockContext polls TryLock every poll interval until the lock is held or
// ctx ends. A cancelled wait returns ctx.Err() unwrapped.
func (fl *FileLock) LockContext(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultLockPoll
	}
	for {
		ok, err := fl.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (fl *FileLock) acquire(how int) error {
	if fl.file != nil {
		return fmt.Errorf("lock %s: already held", fl.path)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return err
		}
		return fmt.Errorf("flock %s: %w", fl.path, err)
	}
	fl.file = f
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock %s: %w", fl.path, err)
	}
	return f.Close()
}
