// Package daemon ties window polling, rule matching and the device session
// into one decision loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/device"
	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/bryanchriswhite/duckypad-daemon/internal/window"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultPollTimeout  = 3 * time.Second
)

// Trigger names what started an evaluation
type Trigger string

const (
	TriggerStart  Trigger = "start"
	TriggerPoll   Trigger = "poll"
	TriggerReload Trigger = "reload"
)

// Dispatcher is notified after every successful profile switch
type Dispatcher interface {
	Dispatch(eventID string, profile config.ProfileID, w config.WindowInfo)
}

// SwitchEvent describes one profile change
type SwitchEvent struct {
	ID       string            `json:"id"`
	Profile  config.ProfileID  `json:"profile"`
	Previous *config.ProfileID `json:"previous,omitempty"`
	Window   config.WindowInfo `json:"window"`
	Trigger  Trigger           `json:"trigger"`
	Time     time.Time         `json:"time"`
}

// Status is a point-in-time view of the daemon for reporting
type Status struct {
	DeviceState     string             `json:"device_state"`
	DeviceError     string             `json:"device_error,omitempty"`
	ActiveProfile   *config.ProfileID  `json:"active_profile,omitempty"`
	Device          device.Info        `json:"device"`
	Collector       string             `json:"collector"`
	Window          *config.WindowInfo `json:"window,omitempty"`
	RuleCount       int                `json:"rule_count"`
	RulesGeneration uint64             `json:"rules_generation"`
	ConfigPath      string             `json:"config_path"`
	LastSwitch      *SwitchEvent       `json:"last_switch,omitempty"`
}

// Options configures the loop
type Options struct {
	PollInterval time.Duration
	// PollTimeout bounds a single collector call
	PollTimeout time.Duration
	// Reconnect turns a lost device into a reconnect instead of an exit
	Reconnect bool
}

// Daemon is the decision loop. Run must be called at most once.
type Daemon struct {
	store      *config.Store
	provider   window.Provider
	session    *device.Session
	dispatcher Dispatcher
	opts       Options
	log        *zerolog.Logger

	mu        sync.RWMutex
	window    *config.WindowInfo
	lastEvent *SwitchEvent
	listeners []chan SwitchEvent
}

// New creates a daemon. dispatcher may be nil when no callback is set.
func New(store *config.Store, provider window.Provider, session *device.Session, dispatcher Dispatcher, opts Options) *Daemon {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	return &Daemon{
		store:      store,
		provider:   provider,
		session:    session,
		dispatcher: dispatcher,
		opts:       opts,
		log:        logger.WithComponent(logger.ComponentDaemon),
	}
}

// Run evaluates on every poll tick and every rules reload until ctx is
// done. It returns an error only for failures of the rules file or the
// device link; collector failures are logged and skipped.
func (d *Daemon) Run(ctx context.Context) error {
	reloads, err := d.store.Watch(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.log.Info().
		Str("collector", d.provider.Name()).
		Dur("poll_interval", d.opts.PollInterval).
		Int("rules", len(d.store.Current())).
		Msg("Daemon loop started")

	if err := d.evaluate(ctx, TriggerStart); err != nil {
		return d.exitErr(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("Daemon loop stopped")
			return nil

		case <-ticker.C:
			if err := d.evaluate(ctx, TriggerPoll); err != nil {
				return d.exitErr(ctx, err)
			}

		case ev, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			if ev.Err != nil {
				return d.exitErr(ctx, ev.Err)
			}
			d.log.Info().
				Int("rules", len(ev.Rules)).
				Str("schema", string(ev.Schema)).
				Uint64("generation", ev.Generation).
				Msg("Rules reloaded")
			if err := d.evaluate(ctx, TriggerReload); err != nil {
				return d.exitErr(ctx, err)
			}
		}
	}
}

// exitErr hides errors caused by shutdown itself
func (d *Daemon) exitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// evaluate runs one decision against a single window snapshot and a single
// rules snapshot
func (d *Daemon) evaluate(ctx context.Context, trigger Trigger) error {
	w, ok := d.acquireWindow(ctx, trigger)
	if !ok {
		return nil
	}

	rules := d.store.Current()
	profile, matched := rules.Match(w)
	if !matched {
		return nil
	}

	previous, hasPrevious := d.session.ActiveProfile()
	if hasPrevious && previous == profile {
		return nil
	}

	if err := d.switchProfile(ctx, profile); err != nil {
		return err
	}

	ev := SwitchEvent{
		ID:      uuid.NewString(),
		Profile: profile,
		Window:  w,
		Trigger: trigger,
		Time:    time.Now(),
	}
	if hasPrevious {
		ev.Previous = &previous
	}

	d.log.Info().
		Str("event", ev.ID).
		Uint32("profile", uint32(profile)).
		Str("app", w.AppName).
		Str("title", w.Title).
		Str("process", w.ProcessName).
		Str("trigger", string(trigger)).
		Msg("Profile changed")

	if d.dispatcher != nil {
		d.dispatcher.Dispatch(ev.ID, profile, w)
	}
	d.publish(ev)
	return nil
}

// acquireWindow polls the collector. On failure a poll tick is skipped,
// while a reload falls back to the last known window.
func (d *Daemon) acquireWindow(ctx context.Context, trigger Trigger) (config.WindowInfo, bool) {
	pollCtx, cancel := context.WithTimeout(ctx, d.opts.PollTimeout)
	defer cancel()

	w, err := d.provider.Poll(pollCtx)
	if err == nil {
		d.setWindow(w)
		return w, true
	}
	if ctx.Err() != nil {
		return config.WindowInfo{}, false
	}

	d.log.Warn().Err(err).Str("trigger", string(trigger)).Msg("Window poll failed")
	if trigger != TriggerReload {
		return config.WindowInfo{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.window == nil {
		return config.WindowInfo{}, false
	}
	return *d.window, true
}

func (d *Daemon) switchProfile(ctx context.Context, profile config.ProfileID) error {
	err := d.session.SwitchProfile(profile)
	if err == nil || !device.IsLost(err) || !d.opts.Reconnect {
		return err
	}

	d.log.Warn().Err(err).Msg("duckyPad lost, reconnecting")
	if err := d.session.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect failed: %w", err)
	}
	return d.session.SwitchProfile(profile)
}

func (d *Daemon) setWindow(w config.WindowInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.window == nil || !sameWindow(*d.window, w) {
		d.log.Debug().
			Str("app", w.AppName).
			Str("title", w.Title).
			Str("process", w.ProcessName).
			Msg("Focused window changed")
	}
	d.window = &w
}

func sameWindow(a, b config.WindowInfo) bool {
	return a.AppName == b.AppName &&
		a.Title == b.Title &&
		a.ProcessName == b.ProcessName &&
		a.WindowID == b.WindowID
}

// CurrentWindow returns the last successfully polled window
func (d *Daemon) CurrentWindow() (config.WindowInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.window == nil {
		return config.WindowInfo{}, false
	}
	return *d.window, true
}

// Status returns a snapshot for reporting
func (d *Daemon) Status() Status {
	cfg := d.store.Config()
	st := Status{
		DeviceState:     d.session.State().String(),
		Device:          d.session.Info(),
		Collector:       d.provider.Name(),
		RuleCount:       len(cfg.Rules),
		RulesGeneration: d.store.Generation(),
		ConfigPath:      d.store.Path(),
	}
	if active, ok := d.session.ActiveProfile(); ok {
		st.ActiveProfile = &active
	}
	if err := d.session.LastError(); err != nil {
		st.DeviceError = err.Error()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.window != nil {
		w := *d.window
		st.Window = &w
	}
	if d.lastEvent != nil {
		ev := *d.lastEvent
		st.LastSwitch = &ev
	}
	return st
}

// Rules returns the rules currently in effect
func (d *Daemon) Rules() config.RuleSet {
	return d.store.Current()
}

// Subscribe returns a channel receiving every SwitchEvent. Slow
// subscribers miss events rather than stall the loop.
func (d *Daemon) Subscribe() chan SwitchEvent {
	ch := make(chan SwitchEvent, 10)
	d.mu.Lock()
	d.listeners = append(d.listeners, ch)
	d.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription
func (d *Daemon) Unsubscribe(ch chan SwitchEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, listener := range d.listeners {
		if listener == ch {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (d *Daemon) publish(ev SwitchEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastEvent = &ev
	for _, listener := range d.listeners {
		select {
		case listener <- ev:
		default:
		}
	}
}
