package callback

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/rs/zerolog"
)

// Convention selects the flag letters passed to the callback executable
type Convention string

const (
	// ConventionV1: -p PROFILE [-a APP] [-t TITLE] [-n PROCESS]
	ConventionV1 Convention = "v1"
	// ConventionV2: -p PROFILE [-c APP] [-w TITLE] [-n PROCESS]
	ConventionV2 Convention = "v2"
)

// ParseConvention accepts "v1", "v2" or "" (v1)
func ParseConvention(s string) (Convention, error) {
	switch Convention(strings.ToLower(strings.TrimSpace(s))) {
	case "", ConventionV1:
		return ConventionV1, nil
	case ConventionV2:
		return ConventionV2, nil
	default:
		return "", fmt.Errorf("unknown callback convention %q (want v1 or v2)", s)
	}
}

func (c Convention) flags() (app, title, process string) {
	if c == ConventionV2 {
		return "-c", "-w", "-n"
	}
	return "-a", "-t", "-n"
}

// Args builds the argument list for one invocation. Unknown window fields
// are omitted rather than passed empty.
func (c Convention) Args(profile config.ProfileID, w config.WindowInfo) []string {
	appFlag, titleFlag, processFlag := c.flags()

	args := []string{"-p", strconv.FormatUint(uint64(profile), 10)}
	if w.AppName != "" {
		args = append(args, appFlag, w.AppName)
	}
	if w.Title != "" {
		args = append(args, titleFlag, w.Title)
	}
	if w.ProcessName != "" {
		args = append(args, processFlag, w.ProcessName)
	}
	return args
}

// CallbackError is a failed callback run. It is only ever logged.
type CallbackError struct {
	EventID  string
	ExitCode int
	Err      error
}

func (e *CallbackError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("callback %s exited with code %d", e.EventID, e.ExitCode)
	}
	return fmt.Sprintf("callback %s: %v", e.EventID, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Dispatcher runs the configured executable after each profile change
type Dispatcher struct {
	path       string
	convention Convention
	log        *zerolog.Logger

	// wg tracks running callbacks for Wait; nothing ever cancels them
	wg sync.WaitGroup
}

// New creates a dispatcher for the executable at path
func New(path string, convention Convention) *Dispatcher {
	return &Dispatcher{
		path:       path,
		convention: convention,
		log:        logger.WithComponent(logger.ComponentCallback),
	}
}

// Dispatch starts the callback and returns without waiting for it.
// Failures are logged.
func (d *Dispatcher) Dispatch(eventID string, profile config.ProfileID, w config.WindowInfo) {
	args := d.convention.Args(profile, w)
	cmd := exec.Command(d.path, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	log := d.log.With().Str("event", eventID).Uint32("profile", uint32(profile)).Logger()

	if err := cmd.Start(); err != nil {
		log.Error().Err(&CallbackError{EventID: eventID, Err: err}).Msg("Failed to run callback")
		return
	}
	log.Debug().Strs("args", args).Int("pid", cmd.Process.Pid).Msg("Callback started")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := cmd.Wait()
		out := strings.TrimSpace(output.String())

		if err != nil {
			cerr := &CallbackError{EventID: eventID, Err: err}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				cerr.ExitCode = exitErr.ExitCode()
			}
			log.Warn().Err(cerr).Str("output", out).Msg("Callback failed")
			return
		}
		log.Debug().Str("output", out).Msg("Callback finished")
	}()
}

// Wait blocks until every started callback has exited
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
