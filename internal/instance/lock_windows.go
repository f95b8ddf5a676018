//go:build windows

package instance

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

func acquireFileLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	var overlapped windows.Overlapped
	err = windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1,
		0,
		&overlapped,
	)
	if err != nil {
		f.Close()
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("LockFileEx failed: %w", err)
	}

	return f, nil
}

func releaseFileLock(f *os.File) error {
	path := f.Name()

	var overlapped windows.Overlapped
	err1 := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, &overlapped)
	err2 := f.Close()
	err3 := os.Remove(path)
	if os.IsNotExist(err3) {
		err3 = nil
	}
	return errors.Join(err1, err2, err3)
}
