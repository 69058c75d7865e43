package corpus

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
)

const lockFileName = ".index.lock"

// DataLock is an exclusive cross-process lock on a data directory, held
// while the directory is being written.
type DataLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataLock creates a lock for dir. The lock file is dir/.index.lock.
func NewDataLock(dir string) *DataLock {
	path := filepath.Join(dir, lockFileName)
	return &DataLock{path: path, flock: flock.New(path)}
}

// Acquire takes the lock without blocking. A lock held elsewhere fails
// with ERR_207_INDEX_LOCKED.
func (l *DataLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return kberrors.New(kberrors.ErrCodeIndexLocked, "data directory is being indexed by another process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("wait for the other index run to finish")
	}
	l.locked = true
	return nil
}

// Release drops the lock. Safe to call more than once.
func (l *DataLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataLock) Path() string {
	return l.path
}
