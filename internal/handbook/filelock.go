package handbook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrLockTimeout indicates the lock acquisition timed out
	ErrLockTimeout = errors.New("lock acquisition timed out")

	unsafeLockNameRegex = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// FileLock provides exclusive file locking using flock(2).
// The kernel releases it if the holder dies.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a new file lock at the given path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock attempts to acquire the exclusive lock without blocking.
// Returns false without error when another holder has it.
func (l *FileLock) TryLock() (bool, error) {
	if err := l.open(); err != nil {
		return false, err
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	l.closeFile()
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return false, nil
	}
	return false, fmt.Errorf("flock failed: %w", err)
}

// Lock polls for the lock with exponential backoff until it is acquired,
// the timeout expires (ErrLockTimeout) or ctx is done.
func (l *FileLock) Lock(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	pollInterval := 10 * time.Millisecond
	maxPollInterval := 500 * time.Millisecond

	for {
		acquired, err := l.TryLock()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
			pollInterval = min(pollInterval*2, maxPollInterval)
		}
	}
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close failed: %w", closeErr)
	}
	return nil
}

// IsLocked returns true if the lock is currently held by this instance.
func (l *FileLock) IsLocked() bool {
	return l.file != nil
}

func (l *FileLock) open() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	l.file = file
	return nil
}

func (l *FileLock) closeFile() {
	_ = l.file.Close()
	l.file = nil
}

// tagLocks serializes indexing per source tag: a one-slot semaphore per tag
// inside the process, then a file lock per tag under the lock directory.
type tagLocks struct {
	dir     string
	timeout time.Duration
	mu      sync.Mutex
	slots   map[string]chan struct{}
}

func newTagLocks(dir string, timeout time.Duration) *tagLocks {
	return &tagLocks{
		dir:     dir,
		timeout: timeout,
		slots:   make(map[string]chan struct{}),
	}
}

func (t *tagLocks) slot(tag string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.slots[tag]
	if !ok {
		ch = make(chan struct{}, 1)
		t.slots[tag] = ch
	}
	return ch
}

// lockPath returns the lock file for a tag.
func (t *tagLocks) lockPath(tag string) string {
	return filepath.Join(t.dir, unsafeLockNameRegex.ReplaceAllString(tag, "_")+".lock")
}

// Acquire blocks until the tag is free in this process and on disk.
// The returned release function must be called exactly once.
func (t *tagLocks) Acquire(ctx context.Context, tag string) (func(), error) {
	slot := t.slot(tag)
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrLockTimeout
	}

	fileLock := NewFileLock(t.lockPath(tag))
	if err := fileLock.Lock(ctx, t.timeout); err != nil {
		<-slot
		return nil, fmt.Errorf("failed to lock source %q: %w", tag, err)
	}

	return func() {
		_ = fileLock.Unlock()
		<-slot
	}, nil
}
