package window

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/rs/zerolog"
)

// scriptWaitDelay bounds how long output pipes are drained after the
// script was killed, in case it left children holding stdout open
const scriptWaitDelay = 250 * time.Millisecond

// ScriptCollector runs a user supplied executable and parses the JSON
// line it prints. Used where no native collector exists (Wayland,
// unsupported platforms).
type ScriptCollector struct {
	path    string
	timeout time.Duration
	log     *zerolog.Logger
}

// NewScriptCollector creates a collector for the executable at path
func NewScriptCollector(path string, timeout time.Duration) (*ScriptCollector, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("window script: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("window script %s is a directory", path)
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	return &ScriptCollector{
		path:    path,
		timeout: timeout,
		log:     logger.WithComponent("window-script"),
	}, nil
}

// Name returns the collector name
func (c *ScriptCollector) Name() string {
	return "script"
}

// Close is a no-op; every poll runs its own process
func (c *ScriptCollector) Close() error {
	return nil
}

// Poll runs the script once with no arguments
func (c *ScriptCollector) Poll(ctx context.Context) (config.WindowInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.path)
	cmd.WaitDelay = scriptWaitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return config.WindowInfo{}, &CollectorError{
				Collector: c.Name(),
				Err:       fmt.Errorf("timed out after %s", c.timeout),
			}
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return config.WindowInfo{}, &CollectorError{Collector: c.Name(), Err: err}
	}

	c.log.Trace().
		Dur("elapsed", time.Since(start)).
		Int("bytes", len(out)).
		Msg("Window script finished")

	info, err := ParseScriptOutput(firstLine(out))
	if err != nil {
		return config.WindowInfo{}, &CollectorError{Collector: c.Name(), Err: err}
	}
	return info, nil
}

type scriptPosition struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	W *float64 `json:"w"`
	H *float64 `json:"h"`
}

type scriptOutput struct {
	Title       *string         `json:"title"`
	ProcessName *string         `json:"process_name"`
	ProcessID   *uint64         `json:"process_id"`
	WindowID    *string         `json:"window_id"`
	Position    *scriptPosition `json:"position"`
}

// ParseScriptOutput decodes one line of window script output. title and
// process_name are required; unknown fields are ignored.
func ParseScriptOutput(line []byte) (config.WindowInfo, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return config.WindowInfo{}, errors.New("window script printed nothing")
	}

	var out scriptOutput
	if err := json.Unmarshal(line, &out); err != nil {
		return config.WindowInfo{}, fmt.Errorf("window script output is not a JSON object: %w", err)
	}
	if out.Title == nil {
		return config.WindowInfo{}, errors.New(`window script output field "title" is missing`)
	}
	if out.ProcessName == nil {
		return config.WindowInfo{}, errors.New(`window script output field "process_name" is missing`)
	}

	info := config.WindowInfo{
		Title:       *out.Title,
		ProcessName: *out.ProcessName,
	}
	if out.ProcessID != nil {
		info.ProcessID = *out.ProcessID
		info.AppName = processName(info.ProcessID)
	}
	if out.WindowID != nil {
		info.WindowID = *out.WindowID
	}
	if out.Position != nil {
		p := out.Position
		if p.X == nil || p.Y == nil || p.W == nil || p.H == nil {
			return config.WindowInfo{}, errors.New(`window script output field "position" needs x, y, w and h`)
		}
		info.Position = &config.Position{X: *p.X, Y: *p.Y, W: *p.W, H: *p.H}
	}

	return info, nil
}

func firstLine(out []byte) []byte {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			return line
		}
	}
	return nil
}
