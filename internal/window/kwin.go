package window

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// KWin D-Bus constants
const (
	kwinService   = "org.kde.KWin"
	kwinPath      = "/KWin"
	kwinInterface = "org.kde.KWin"
)

// KWinCollector asks KWin for the active window on Plasma Wayland sessions.
// kdotool names the active window; KWin's getWindowInfo describes it.
type KWinCollector struct {
	conn *dbus.Conn
	log  *zerolog.Logger
}

// NewKWinCollector connects to the session bus and checks that both KWin
// and kdotool are available
func NewKWinCollector() (*KWinCollector, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}

	kwinFound := false
	for _, name := range names {
		if name == kwinService {
			kwinFound = true
			break
		}
	}
	if !kwinFound {
		conn.Close()
		return nil, errors.New("KWin service not found on D-Bus")
	}

	if _, err := exec.LookPath("kdotool"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("kdotool not found: %w", err)
	}

	log := logger.WithComponent("kwin-collector")
	log.Info().Msg("Connected to KWin D-Bus service")

	return &KWinCollector{conn: conn, log: log}, nil
}

// Name returns the collector name
func (c *KWinCollector) Name() string {
	return "kwin"
}

// Close closes the D-Bus connection
func (c *KWinCollector) Close() error {
	return c.conn.Close()
}

// Poll resolves the active window through kdotool and KWin
func (c *KWinCollector) Poll(ctx context.Context) (config.WindowInfo, error) {
	id, err := kdotool(ctx, "getactivewindow")
	if err != nil {
		return config.WindowInfo{}, &CollectorError{Collector: c.Name(), Err: err}
	}
	if id == "" {
		return config.WindowInfo{}, nil
	}

	var result map[string]dbus.Variant
	obj := c.conn.Object(kwinService, kwinPath)
	if err := obj.CallWithContext(ctx, kwinInterface+".getWindowInfo", 0, id).Store(&result); err != nil {
		return config.WindowInfo{}, &CollectorError{
			Collector: c.Name(),
			Err:       fmt.Errorf("getWindowInfo %s: %w", id, err),
		}
	}

	info := windowInfoFromKWin(id, result)

	if out, err := kdotool(ctx, "getwindowpid", id); err == nil {
		if pid, err := strconv.ParseUint(out, 10, 64); err == nil {
			info.ProcessID = pid
			if name := processName(pid); name != "" {
				info.AppName = name
			}
		}
	}

	c.log.Trace().
		Str("window", info.WindowID).
		Str("title", info.Title).
		Str("class", info.ProcessName).
		Msg("Active window")

	return info, nil
}

// windowInfoFromKWin maps a getWindowInfo reply onto WindowInfo.
// resourceName and desktopFile stand in for the app name until the pid
// is known.
func windowInfoFromKWin(id string, props map[string]dbus.Variant) config.WindowInfo {
	info := config.WindowInfo{
		WindowID:    id,
		Title:       variantString(props["caption"]),
		ProcessName: variantString(props["resourceClass"]),
	}

	info.AppName = variantString(props["resourceName"])
	if info.AppName == "" {
		info.AppName = variantString(props["desktopFile"])
	}

	x, okX := variantFloat(props["x"])
	y, okY := variantFloat(props["y"])
	w, okW := variantFloat(props["width"])
	h, okH := variantFloat(props["height"])
	if okX && okY && okW && okH {
		info.Position = &config.Position{X: x, Y: y, W: w, H: h}
	}

	return info
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

func variantFloat(v dbus.Variant) (float64, bool) {
	switch n := v.Value().(type) {
	case float64:
		return n, true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

func kdotool(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "kdotool", args...).Output()
	if err != nil {
		return "", fmt.Errorf("kdotool %s failed: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}
