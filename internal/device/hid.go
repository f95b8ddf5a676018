package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/sstallion/go-hid"
)

// Init initializes the HID library. Pair with Exit.
func Init() error {
	return hid.Init()
}

// Exit releases the HID library
func Exit() error {
	return hid.Exit()
}

// HIDOpener finds the pad among attached HID devices
type HIDOpener struct{}

var errStopEnumerate = errors.New("stop enumerate")

// Open opens the first interface matching the vendor, product and usage
func (HIDOpener) Open() (Transport, Identity, error) {
	var found *hid.DeviceInfo
	err := hid.Enumerate(VendorID, ProductID, func(info *hid.DeviceInfo) error {
		if info.UsagePage == UsagePage && info.Usage == Usage {
			found = info
			return errStopEnumerate
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopEnumerate) {
		return nil, Identity{}, fmt.Errorf("failed to enumerate HID devices: %w", err)
	}
	if found == nil {
		return nil, Identity{}, ErrNotFound
	}

	dev, err := hid.OpenPath(found.Path)
	if err != nil {
		return nil, Identity{}, fmt.Errorf("failed to open %s: %w", found.Path, err)
	}

	return &hidTransport{dev: dev}, Identity{
		Path:   found.Path,
		Model:  found.ProductStr,
		Serial: found.SerialNbr,
	}, nil
}

type hidTransport struct {
	dev *hid.Device
}

func (t *hidTransport) Write(p []byte) (int, error) {
	return t.dev.Write(p)
}

// ReadWithTimeout reports a timeout as zero bytes read
func (t *hidTransport) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	n, err := t.dev.ReadWithTimeout(p, timeout)
	if errors.Is(err, hid.ErrTimeout) {
		return 0, nil
	}
	return n, err
}

func (t *hidTransport) Close() error {
	return t.dev.Close()
}
