package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another server holds the data directory.
var ErrLocked = errors.New("data directory is in use by another subforge process")

// DirLock guards a data directory against a second server instance, which
// would otherwise pick up the same queued jobs.
type DirLock struct {
	lock *flock.Flock
}

// LockDir takes an exclusive lock on dir/subforge.lock without blocking.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	l := flock.New(filepath.Join(dir, "subforge.lock"))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &DirLock{lock: l}, nil
}

// Path returns the lock file path.
func (d *DirLock) Path() string {
	return d.lock.Path()
}

// Unlock releases the lock.
func (d *DirLock) Unlock() error {
	return d.lock.Unlock()
}
