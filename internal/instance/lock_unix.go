//go:build !windows

package instance

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func acquireFileLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}

	return f, nil
}

func releaseFileLock(f *os.File) error {
	path := f.Name()

	// LOCK_UN only fails for a bad descriptor
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)

	err1 := f.Close()
	err2 := os.Remove(path)
	if os.IsNotExist(err2) {
		err2 = nil
	}
	return errors.Join(err1, err2)
}
