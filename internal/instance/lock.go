// Package instance keeps a single daemon per user session.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
)

// ErrAlreadyRunning is returned when another process holds the lock
var ErrAlreadyRunning = errors.New("another duckypad-daemon instance is already running")

const lockName = "duckypad_daemon.lock"

// DefaultPath places the lock in the user cache directory, or the
// temporary directory when there is none
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, lockName)
}

// Lock is a held instance lock
type Lock struct {
	file *os.File
}

// Acquire takes the lock at path without blocking. The holder's pid is
// written into the file.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := acquireFileLock(path)
	if err != nil {
		return nil, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	logger.WithComponent(logger.ComponentInstance).Debug().
		Str("path", path).
		Msg("Acquired instance lock")

	return &Lock{file: f}, nil
}

// Release unlocks and removes the lock file
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := releaseFileLock(l.file)
	l.file = nil
	return err
}
