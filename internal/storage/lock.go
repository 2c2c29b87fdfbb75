package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrWorkDirLocked means another server process owns the working directory
var ErrWorkDirLocked = errors.New("working directory is in use by another instance")

// WorkDirLock keeps two server processes from sharing one working
// directory, since each would treat the other's job folders as orphans.
type WorkDirLock struct {
	lock *flock.Flock
}

// LockWorkDir creates dir if needed and takes its lock without blocking
func LockWorkDir(dir string) (*WorkDirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrWorkDirLocked
	}
	return &WorkDirLock{lock: lock}, nil
}

// LockFileName is skipped by the orphan sweep
const LockFileName = ".interview-render.lock"

// Path returns the lock file location
func (l *WorkDirLock) Path() string { return l.lock.Path() }

// Unlock releases the lock
func (l *WorkDirLock) Unlock() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
