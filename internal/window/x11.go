package window

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/rs/zerolog"
)

// X11Collector reads the focused window through EWMH properties
type X11Collector struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
	log   *zerolog.Logger

	// busy admits one X round trip at a time, including one abandoned by
	// a timed out Poll
	busy  chan struct{}
	query func() (config.WindowInfo, error)
}

type x11Result struct {
	info config.WindowInfo
	err  error
}

// NewX11Collector connects to the X server named by $DISPLAY
func NewX11Collector() (*X11Collector, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	c := &X11Collector{
		conn:  conn,
		root:  root,
		atoms: make(map[string]xproto.Atom),
		log:   logger.WithComponent("x11-collector"),
		busy:  make(chan struct{}, 1),
	}
	c.query = c.focusedWindow
	return c, nil
}

// Name returns the collector name
func (c *X11Collector) Name() string {
	return "x11"
}

// Close closes the X11 connection
func (c *X11Collector) Close() error {
	c.conn.Close()
	return nil
}

// Poll returns the window named by _NET_ACTIVE_WINDOW, falling back to
// the input focus on window managers without EWMH support. A stalled X
// server fails the poll once ctx is done.
func (c *X11Collector) Poll(ctx context.Context) (config.WindowInfo, error) {
	select {
	case c.busy <- struct{}{}:
	case <-ctx.Done():
		return config.WindowInfo{}, &CollectorError{Collector: c.Name(), Err: fmt.Errorf("previous request still pending: %w", ctx.Err())}
	}

	done := make(chan x11Result, 1)
	go func() {
		defer func() { <-c.busy }()
		info, err := c.query()
		done <- x11Result{info: info, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return config.WindowInfo{}, &CollectorError{Collector: c.Name(), Err: r.err}
		}
		return r.info, nil
	case <-ctx.Done():
		return config.WindowInfo{}, &CollectorError{Collector: c.Name(), Err: fmt.Errorf("X server did not answer: %w", ctx.Err())}
	}
}

// focusedWindow does the X round trips for one Poll
func (c *X11Collector) focusedWindow() (config.WindowInfo, error) {
	win, err := c.activeWindow()
	if err != nil {
		return config.WindowInfo{}, err
	}
	if win == 0 || win == c.root {
		// nothing focused, e.g. an empty desktop
		return config.WindowInfo{}, nil
	}
	return c.windowInfo(win), nil
}

func (c *X11Collector) activeWindow() (xproto.Window, error) {
	activeAtom, err := c.atom("_NET_ACTIVE_WINDOW")
	if err == nil {
		reply, err := xproto.GetProperty(c.conn, false, c.root, activeAtom, xproto.AtomWindow, 0, 1).Reply()
		if err == nil && reply.Format == 32 && len(reply.Value) >= 4 {
			if win := xproto.Window(binary.LittleEndian.Uint32(reply.Value)); win != 0 {
				return win, nil
			}
		}
	}

	focus, err := xproto.GetInputFocus(c.conn).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to get input focus: %w", err)
	}
	return focus.Focus, nil
}

// windowInfo collects whatever properties the window exposes
func (c *X11Collector) windowInfo(win xproto.Window) config.WindowInfo {
	info := config.WindowInfo{
		WindowID: fmt.Sprintf("0x%08x", uint32(win)),
	}

	if geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(win)).Reply(); err == nil {
		info.Position = &config.Position{
			X: float64(geom.X),
			Y: float64(geom.Y),
			W: float64(geom.Width),
			H: float64(geom.Height),
		}
	}

	info.Title = c.stringProperty(win, "_NET_WM_NAME")
	if info.Title == "" {
		info.Title = c.stringProperty(win, "WM_NAME")
	}

	// WM_CLASS is instance\0class\0; the class is the second string
	if raw := c.stringProperty(win, "WM_CLASS"); raw != "" {
		parts := strings.Split(raw, "\x00")
		if len(parts) >= 2 && parts[1] != "" {
			info.ProcessName = parts[1]
		} else {
			info.ProcessName = parts[0]
		}
	}

	if pidAtom, err := c.atom("_NET_WM_PID"); err == nil {
		reply, err := xproto.GetProperty(c.conn, false, win, pidAtom, xproto.AtomCardinal, 0, 1).Reply()
		if err == nil && len(reply.Value) >= 4 {
			info.ProcessID = uint64(binary.LittleEndian.Uint32(reply.Value))
			info.AppName = processName(info.ProcessID)
		}
	}

	c.log.Trace().
		Str("window", info.WindowID).
		Str("title", info.Title).
		Str("class", info.ProcessName).
		Uint64("pid", info.ProcessID).
		Msg("Active window")

	return info
}

// atom interns name once per connection
func (c *X11Collector) atom(name string) (xproto.Atom, error) {
	if a, ok := c.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(c.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	c.atoms[name] = reply.Atom
	return reply.Atom, nil
}

func (c *X11Collector) stringProperty(win xproto.Window, name string) string {
	a, err := c.atom(name)
	if err != nil {
		return ""
	}
	reply, err := xproto.GetProperty(c.conn, false, win, a, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil || reply.ValueLen == 0 {
		return ""
	}
	return strings.TrimRight(string(reply.Value), "\x00")
}
