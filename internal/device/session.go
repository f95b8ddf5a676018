package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/rs/zerolog"
)

// Transport is an open link to the pad
type Transport interface {
	Write(p []byte) (int, error)
	// ReadWithTimeout returns 0, nil when nothing arrived in time
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// Identity describes the opened device as reported by the HID layer
type Identity struct {
	Path   string
	Model  string
	Serial string
}

// Opener locates and opens the pad. It returns ErrNotFound when no device
// is attached.
type Opener interface {
	Open() (Transport, Identity, error)
}

// State of a Session
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Info is what the session learned about the pad on connect
type Info struct {
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

const unknown = "unknown"

// DefaultReconnectWait is used by Reconnect when no wait was configured
const DefaultReconnectWait = 5 * time.Second

// Options configures a Session
type Options struct {
	// Wait between connection attempts. Zero makes a missing device fatal.
	Wait time.Duration
	// ReplyTimeout bounds how long a command reply is awaited
	ReplyTimeout time.Duration
}

// Session owns the connection to the pad. Connect, SwitchProfile and
// Reconnect are called by a single owner; the mutex guards state for
// concurrent status readers and is not held during device I/O.
type Session struct {
	opener Opener
	opts   Options
	log    *zerolog.Logger

	mu        sync.Mutex
	state     State
	transport Transport
	info      Info
	active    config.ProfileID
	hasActive bool
	lastErr   error
}

// NewSession creates a disconnected session
func NewSession(opener Opener, opts Options) *Session {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	return &Session{
		opener: opener,
		opts:   opts,
		log:    logger.WithComponent(logger.ComponentDevice),
		info:   Info{Model: unknown, Serial: unknown, Firmware: unknown},
	}
}

// Connect opens the device. With a zero Wait a failed attempt is returned
// immediately; otherwise attempts repeat every Wait until ctx is done.
func (s *Session) Connect(ctx context.Context) error {
	return s.connect(ctx, s.opts.Wait)
}

// Reconnect drops the current link and connects again, always waiting
// between attempts. The active profile is forgotten so the next switch is
// sent even if it matches the previous one.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	s.closeLocked()
	s.hasActive = false
	s.mu.Unlock()

	wait := s.opts.Wait
	if wait <= 0 {
		wait = DefaultReconnectWait
	}
	return s.connect(ctx, wait)
}

func (s *Session) connect(ctx context.Context, wait time.Duration) error {
	s.setState(Connecting, nil)

	for attempt := 1; ; attempt++ {
		transport, id, err := s.opener.Open()
		if err == nil {
			s.attach(transport, id)
			return nil
		}

		if wait <= 0 {
			derr := &DeviceError{Op: "connect", Err: err}
			s.setState(Faulted, derr)
			return derr
		}

		s.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("duckyPad not available, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			derr := &DeviceError{Op: "connect", Err: ctx.Err()}
			s.setState(Disconnected, derr)
			return derr
		case <-timer.C:
		}
	}
}

func (s *Session) attach(transport Transport, id Identity) {
	info := Info{Model: unknown, Serial: unknown, Firmware: unknown}
	if id.Model != "" {
		info.Model = id.Model
	}
	if id.Serial != "" {
		info.Serial = id.Serial
	}

	if reply, err := s.exchange(transport, infoReport()); err != nil {
		s.log.Debug().Err(err).Msg("Info request failed")
	} else if fw, ok := parseFirmware(reply); ok {
		info.Firmware = fw
	}

	s.mu.Lock()
	s.transport = transport
	s.info = info
	s.state = Connected
	s.lastErr = nil
	s.mu.Unlock()

	s.log.Info().
		Str("path", id.Path).
		Str("model", info.Model).
		Str("serial", info.Serial).
		Str("firmware", info.Firmware).
		Msg("duckyPad connected")
}

// SwitchProfile asks the pad to show profile id. Requests for the profile
// already confirmed active are dropped without touching the device.
func (s *Session) SwitchProfile(id config.ProfileID) error {
	s.mu.Lock()
	if s.state != Connected || s.transport == nil {
		s.mu.Unlock()
		return &DeviceError{Op: "switch", Err: ErrNotConnected}
	}
	if s.hasActive && s.active == id {
		s.mu.Unlock()
		return nil
	}
	transport := s.transport
	s.mu.Unlock()

	_, err := s.exchange(transport, gotoProfileReport(id))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		derr := &DeviceError{Op: "switch", Err: fmt.Errorf("%w: %v", ErrDeviceLost, err)}
		s.closeLocked()
		s.state = Faulted
		s.lastErr = derr
		return derr
	}

	s.active = id
	s.hasActive = true
	s.log.Info().Uint32("profile", uint32(id)).Msg("Switched profile")
	return nil
}

// exchange writes one report and waits for a reply. A missing reply is
// not an error.
func (s *Session) exchange(t Transport, report []byte) ([]byte, error) {
	if _, err := t.Write(report); err != nil {
		return nil, err
	}

	reply := make([]byte, InputReportSize)
	deadline := time.Now().Add(s.opts.ReplyTimeout)
	for time.Now().Before(deadline) {
		n, err := t.ReadWithTimeout(reply, readCadence)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return reply[:n], nil
		}
	}
	return nil, nil
}

// ActiveProfile returns the last profile the pad confirmed
func (s *Session) ActiveProfile() (config.ProfileID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.hasActive
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error that moved the session out of Connected
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Info returns the device details read on connect
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Close releases the device
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.closeLocked()
	s.state = Disconnected
	return err
}

func (s *Session) closeLocked() error {
	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.transport = nil
	return err
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.lastErr = err
	s.mu.Unlock()
}

// IsLost reports whether err means the pad went away mid-session
func IsLost(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}
