package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// dirPermissions is used when the lockfile's parent directory must be created.
const dirPermissions = 0o755

// errEmptyPath is returned when no lockfile path is given.
var errEmptyPath = errors.New("lockfile path is empty")

// Handle is an acquired install lock. Release it with a deferred call right
// after acquisition; Release is nil-safe and idempotent.
type Handle struct {
	// flock is the underlying OS-level lock.
	flock *flock.Flock
	// once guarantees a single unlock.
	once sync.Once
	// err keeps the result of the unlock for repeated Release calls.
	err error
}

// Acquire tries to take the exclusive lock at path without blocking.
// The file and its parent directory are created when missing. It returns
// false with a nil error when another holder owns the lock.
func Acquire(path string) (*Handle, bool, error) {
	if path == "" {
		return nil, false, errEmptyPath
	}

	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, false, fmt.Errorf("create lockfile directory: %w", err)
	}

	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", path, err)
	}

	if !locked {
		return nil, false, nil
	}

	return &Handle{flock: fl}, true, nil
}

// Path returns the lockfile location.
func (h *Handle) Path() string {
	if h == nil {
		return ""
	}

	return h.flock.Path()
}

// Release unlocks the file. The lockfile itself stays on disk.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}

	h.once.Do(func() {
		h.err = h.flock.Close()
	})

	return h.err
}
