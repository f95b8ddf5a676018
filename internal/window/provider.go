package window

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
)

// Provider produces the focused window. Implementations return empty
// fields for anything they cannot determine instead of failing.
type Provider interface {
	// Poll returns the currently focused window
	Poll(ctx context.Context) (config.WindowInfo, error)

	// Name returns the collector name (e.g., "x11", "kwin", "script")
	Name() string

	// Close releases any connection held by the collector
	Close() error
}

// ErrUnsupported is returned when no native collector exists for the
// running platform and no window script was configured
var ErrUnsupported = fmt.Errorf("no native window collector for %s/%s; use --window-script", runtime.GOOS, runtime.GOARCH)

// ErrWaylandUnsupported is returned on Wayland sessions without KWin
var ErrWaylandUnsupported = errors.New("wayland has no generic API for active window information; use --window-script")

// CollectorError is a failed poll. It is recoverable: callers keep the
// previous window and try again on the next tick.
type CollectorError struct {
	Collector string
	Err       error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("%s collector: %v", e.Collector, e.Err)
}

func (e *CollectorError) Unwrap() error {
	return e.Err
}

// DefaultScriptTimeout bounds a single window script invocation
const DefaultScriptTimeout = 2 * time.Second

// Options selects and configures the collector
type Options struct {
	// Script is an executable printing one JSON line per call. When set it
	// takes precedence over any native collector.
	Script        string
	ScriptTimeout time.Duration
}

// getenv is swapped in tests
var getenv = os.Getenv

// New selects the collector once for the lifetime of the process
func New(opts Options) (Provider, error) {
	if opts.Script != "" {
		timeout := opts.ScriptTimeout
		if timeout <= 0 {
			timeout = DefaultScriptTimeout
		}
		return NewScriptCollector(opts.Script, timeout)
	}

	if runtime.GOOS != "linux" {
		return nil, ErrUnsupported
	}

	if getenv("WAYLAND_DISPLAY") != "" {
		if !isKDESession() {
			return nil, ErrWaylandUnsupported
		}
		kwin, err := NewKWinCollector()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWaylandUnsupported, err)
		}
		return kwin, nil
	}

	return NewX11Collector()
}

func isKDESession() bool {
	desktop := strings.ToUpper(getenv("XDG_CURRENT_DESKTOP"))
	return strings.Contains(desktop, "KDE") || getenv("KDE_FULL_SESSION") != ""
}
