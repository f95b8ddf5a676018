package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	// DefaultDebounce collapses bursts of write events into one reload
	DefaultDebounce = 500 * time.Millisecond

	configDirMode  = 0o755
	configFileMode = 0o644
	tempFilePrefix = ".duckypad-rules-*.tmp"
)

// ReloadEvent is emitted by Watch after the rules file changed. A non-nil
// Err means the file could no longer be read at all.
type ReloadEvent struct {
	Rules      RuleSet
	Schema     Schema
	Generation uint64
	Err        error
}

// Store owns the rules file and the snapshot currently in effect. The
// snapshot is replaced as a whole; readers never see a partial update.
type Store struct {
	path       string
	debounce   time.Duration
	snapshot   atomic.Pointer[Config]
	generation atomic.Uint64
	log        *zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithDebounce sets the quiet period required before a reload
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// Open loads the rules file at path. A missing file is created with the
// default content; any other failure is returned as a *ConfigError.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		log:      logger.WithComponent(logger.ComponentConfig),
	}
	for _, opt := range opts {
		opt(s)
	}

	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Info().Str("path", s.path).Msg("Rules file not found, creating default")
		if err := s.write(Default()); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, &ConfigError{Op: "stat", Path: s.path, Err: err}
	case info.IsDir():
		return nil, &ConfigError{Op: "open", Path: s.path, Err: errors.New("path is a directory")}
	}

	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.swap(cfg)

	s.log.Info().
		Str("path", s.path).
		Str("schema", string(cfg.Schema)).
		Int("rules", len(cfg.Rules)).
		Msg("Rules loaded")

	return s, nil
}

// Load reads and decodes a rules file without touching any Store
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Op: "read", Path: path, Err: err}
	}

	cfg, err := Decode(data)
	if err != nil {
		return nil, &ConfigError{Op: "parse", Path: path, Err: err}
	}
	cfg.Path = path
	return cfg, nil
}

// Path returns the rules file location
func (s *Store) Path() string {
	return s.path
}

// Current returns the rule set in effect. It must not be modified.
func (s *Store) Current() RuleSet {
	return s.snapshot.Load().Rules
}

// Config returns the whole snapshot in effect. It must not be modified.
func (s *Store) Config() *Config {
	return s.snapshot.Load()
}

// Generation counts successful loads, starting at 1 after Open
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

func (s *Store) swap(cfg *Config) uint64 {
	s.snapshot.Store(cfg)
	return s.generation.Add(1)
}

// Reload re-reads the file. On any error the previous snapshot stays in
// effect and the error is returned.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	gen := s.swap(cfg)
	s.log.Info().
		Str("path", s.path).
		Int("rules", len(cfg.Rules)).
		Uint64("generation", gen).
		Msg("Rules reloaded")
	return nil
}

// Save writes cfg in the current schema and makes it the snapshot in effect
func (s *Store) Save(cfg *Config) error {
	if prev := s.Config(); prev != nil && prev.Schema != SchemaCurrent {
		s.log.Info().
			Str("path", s.path).
			Str("from", string(prev.Schema)).
			Msg("Migrating rules file to current schema")
	}
	if err := s.write(cfg); err != nil {
		return err
	}

	saved := *cfg
	saved.Rules = cfg.Rules.Clone()
	saved.Schema = SchemaCurrent
	saved.Path = s.path
	s.swap(&saved)
	return nil
}

// Update applies fn to a fresh copy of the file on disk and saves the result
func (s *Store) Update(fn func(cfg *Config) error) error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	cfg.Rules = cfg.Rules.Clone()
	if err := fn(cfg); err != nil {
		return err
	}
	return s.Save(cfg)
}

// write replaces the file atomically so concurrent readers, including our
// own watcher, never observe a truncated file
func (s *Store) write(cfg *Config) error {
	data, err := Encode(cfg)
	if err != nil {
		return &ConfigError{Op: "encode", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, configDirMode); err != nil {
		return &ConfigError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, tempFilePrefix)
	if err != nil {
		return &ConfigError{Op: "write", Path: s.path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &ConfigError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &ConfigError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &ConfigError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Chmod(tmpName, configFileMode); err != nil {
		return &ConfigError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &ConfigError{Op: "write", Path: s.path, Err: err}
	}

	s.log.Debug().Str("path", s.path).Int("rules", len(cfg.Rules)).Msg("Rules file written")
	return nil
}

// Watch reports changes of the rules file until ctx is cancelled. Events
// are debounced: a burst of writes yields one reload. The parent
// directory is watched so editors that replace the file are followed.
func (s *Store) Watch(ctx context.Context) (<-chan ReloadEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	events := make(chan ReloadEvent, 1)
	go s.watchLoop(ctx, watcher, events)
	return events, nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, events chan<- ReloadEvent) {
	defer close(events)
	defer watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path || ev.Op&relevant == 0 {
				continue
			}
			s.log.Debug().Str("op", ev.Op.String()).Msg("Rules file event")
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			ev, ok := s.reloadForWatch()
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// reloadForWatch turns a reload attempt into an event. Parse failures and a
// temporarily missing file keep the previous rules and emit nothing.
func (s *Store) reloadForWatch() (ReloadEvent, bool) {
	err := s.Reload()
	switch {
	case err == nil:
		cfg := s.Config()
		return ReloadEvent{Rules: cfg.Rules, Schema: cfg.Schema, Generation: s.Generation()}, true
	case IsParseError(err):
		s.log.Error().Err(err).Msg("Rules file is invalid, keeping previous rules")
		return ReloadEvent{}, false
	case errors.Is(err, fs.ErrNotExist):
		s.log.Warn().Str("path", s.path).Msg("Rules file disappeared, keeping previous rules")
		return ReloadEvent{}, false
	default:
		return ReloadEvent{Err: err, Generation: s.Generation()}, true
	}
}
