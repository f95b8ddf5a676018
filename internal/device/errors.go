package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no attached device matched the HID identity
	ErrNotFound = errors.New("duckyPad not found")

	// ErrDeviceLost means an I/O call failed on a connected device
	ErrDeviceLost = errors.New("duckyPad connection lost")

	// ErrNotConnected is returned by operations on a session that has no link
	ErrNotConnected = errors.New("duckyPad not connected")
)

// DeviceError wraps a failed session operation
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
