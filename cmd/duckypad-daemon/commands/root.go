package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/daemon"
	"github.com/bryanchriswhite/duckypad-daemon/internal/logger"
	"github.com/bryanchriswhite/duckypad-daemon/internal/window"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// version is set at build time with -ldflags "-X ...commands.version=..."
var version = "dev"

const envPrefix = "DUCKYPAD"

// settings are the process options after flags, environment and defaults
// have been merged by viper
type settings struct {
	ConfigPath         string
	Wait               time.Duration
	Callback           string
	CallbackConvention string
	WindowScript       string
	PollInterval       time.Duration
	ScriptTimeout      time.Duration
	Debounce           time.Duration
	Reconnect          bool
	Listen             string
	LogLevel           string
	LogJSON            bool
	LockFile           string
}

func loadSettings(v *viper.Viper) settings {
	return settings{
		ConfigPath:         v.GetString("config"),
		Wait:               time.Duration(v.GetUint("wait")) * time.Second,
		Callback:           v.GetString("callback"),
		CallbackConvention: v.GetString("callback_convention"),
		WindowScript:       v.GetString("window_script"),
		PollInterval:       v.GetDuration("poll_interval"),
		ScriptTimeout:      v.GetDuration("script_timeout"),
		Debounce:           v.GetDuration("debounce"),
		Reconnect:          v.GetBool("reconnect"),
		Listen:             v.GetString("listen"),
		LogLevel:           v.GetString("log_level"),
		LogJSON:            v.GetBool("log_json"),
		LockFile:           v.GetString("lock_file"),
	}
}

// Execute runs the root command
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "duckypad-daemon",
		Short: "Switch duckyPad profiles based on the focused window",
		Long: `duckypad-daemon watches which application window has focus and switches
the attached duckyPad to the profile selected by an ordered list of rules.

The rules file is watched: edits take effect without a restart, and an
invalid edit keeps the previous rules in place.

Running without a subcommand is the same as "duckypad-daemon run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			s := loadSettings(v)
			pretty := !s.LogJSON && isTerminal(os.Stderr)
			logger.InitWriter(s.LogLevel, pretty, cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, loadSettings(v))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "rules file (default is <config dir>/duckypad_daemon/config.json)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Bool("log-json", false, "write logs as JSON even on a terminal")
	flags.StringP("window-script", "s", "", "executable printing the focused window as one JSON line")
	flags.Duration("script-timeout", window.DefaultScriptTimeout, "time limit for one window script run")

	// daemon flags are shared by the root command and run
	daemonFlags := pflag.NewFlagSet("daemon", pflag.ContinueOnError)
	daemonFlags.UintP("wait", "w", 0, "seconds between attempts to find the duckyPad (0 exits if it is absent)")
	daemonFlags.StringP("callback", "b", "", "executable run after each profile change")
	daemonFlags.String("callback-convention", "v1", "callback flags: v1 (-p -a -t -n) or v2 (-p -c -w -n)")
	daemonFlags.Duration("poll-interval", daemon.DefaultPollInterval, "how often the focused window is polled")
	daemonFlags.Duration("debounce", config.DefaultDebounce, "quiet period before a changed rules file is reloaded")
	daemonFlags.Bool("reconnect", false, "reconnect when the duckyPad is lost instead of exiting")
	daemonFlags.String("listen", "", "address of the read-only status API, e.g. 127.0.0.1:8089 (off when empty)")
	daemonFlags.String("lock-file", "", "single instance lock file (default is in the user cache dir)")
	rootCmd.Flags().AddFlagSet(daemonFlags)

	bind := func(key string, fs *pflag.FlagSet, name string) {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(err)
		}
	}
	bind("config", flags, "config")
	bind("log_level", flags, "log-level")
	bind("log_json", flags, "log-json")
	bind("window_script", flags, "window-script")
	bind("script_timeout", flags, "script-timeout")

	runCmd := newRunCmd(v)
	runCmd.Flags().AddFlagSet(daemonFlags)

	for _, key := range []string{"wait", "callback", "callback-convention", "poll-interval", "debounce", "reconnect", "listen", "lock-file"} {
		bind(strings.ReplaceAll(key, "-", "_"), daemonFlags, key)
	}

	rootCmd.AddCommand(
		runCmd,
		newRulesCmd(v),
		newWindowCmd(v),
		newDeviceCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// rulesPath resolves the rules file from the --config setting
func rulesPath(v *viper.Viper) (string, error) {
	return config.ResolvePath(v.GetString("config"))
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
