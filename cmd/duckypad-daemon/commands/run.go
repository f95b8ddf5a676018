package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/duckypad-daemon/internal/api"
	"github.com/bryanchriswhite/duckypad-daemon/internal/callback"
	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/daemon"
	"github.com/bryanchriswhite/duckypad-daemon/internal/device"
	"github.com/bryanchriswhite/duckypad-daemon/internal/instance"
	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/bryanchriswhite/duckypad-daemon/internal/window"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// hidBackend opens the pad. Replaced in tests.
var hidBackend = struct {
	init   func() error
	exit   func() error
	opener func() device.Opener
}{
	init:   device.Init,
	exit:   device.Exit,
	opener: func() device.Opener { return device.HIDOpener{} },
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the profile switching daemon",
		Long: `Run the daemon in the foreground until interrupted.

The focused window is polled every --poll-interval and matched against the
rules file; the first enabled rule whose non-empty patterns are all
contained in the window's app name, title and process name selects the
profile. The duckyPad is only told to switch when the profile changes.`,
		Example: `  # Run with the default rules file, exit if no duckyPad is attached
  duckypad-daemon run

  # Retry every 5 seconds until the duckyPad shows up
  duckypad-daemon run --wait 5

  # Notify a script after each switch
  duckypad-daemon run --callback ~/bin/on-profile.sh

  # Wayland without KWin: provide the focused window yourself
  duckypad-daemon run --window-script ~/bin/focused-window.sh

  # Expose the read-only status API
  duckypad-daemon run --listen 127.0.0.1:8089`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, loadSettings(v))
		},
	}
}

func runDaemon(cmd *cobra.Command, s settings) error {
	log := logger.WithComponent(logger.ComponentDaemon)

	lockPath := s.LockFile
	if lockPath == "" {
		lockPath = instance.DefaultPath()
	}
	lock, err := instance.Acquire(lockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	path, err := config.ResolvePath(s.ConfigPath)
	if err != nil {
		return err
	}
	store, err := config.Open(path, config.WithDebounce(s.Debounce))
	if err != nil {
		return err
	}
	provider, err := window.New(window.Options{Script: s.WindowScript, ScriptTimeout: s.ScriptTimeout})
	if err != nil {
		return err
	}
	defer provider.Close()

	var dispatcher daemon.Dispatcher
	if s.Callback != "" {
		convention, err := callback.ParseConvention(s.CallbackConvention)
		if err != nil {
			return err
		}
		dispatcher = callback.New(s.Callback, convention)
	}

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := hidBackend.init(); err != nil {
		return fmt.Errorf("failed to initialize HID: %w", err)
	}
	defer hidBackend.exit()

	session := device.NewSession(hidBackend.opener(), device.Options{Wait: s.Wait})
	if err := session.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer session.Close()

	d := daemon.New(store, provider, session, dispatcher, daemon.Options{
		PollInterval: s.PollInterval,
		PollTimeout:  s.ScriptTimeout + s.ScriptTimeout/2,
		Reconnect:    s.Reconnect,
	})

	if s.Listen != "" {
		server := api.NewServer(d, version)
		go func() {
			if err := server.Start(ctx, s.Listen); err != nil {
				logger.WithComponent(logger.ComponentAPI).Error().Err(err).Msg("Status API stopped")
			}
		}()
	}

	err = d.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Daemon stopped")
		return err
	}
	log.Info().Msg("Shutting down")
	return nil
}

// runContext is the command context, or Background when run outside Execute
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
