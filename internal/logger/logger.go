package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

func init() {
	// Info level JSON on stderr until Init is called from the root command
	Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = Logger
}

// Component names used across the daemon
const (
	ComponentConfig   = "config"
	ComponentDaemon   = "daemon"
	ComponentDevice   = "device"
	ComponentCallback = "callback"
	ComponentAPI      = "api"
	ComponentInstance = "instance"
)

// ParseLevel maps a user supplied level name to a zerolog level.
// Unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// InitWriter initializes the global logger with the specified level,
// writing to w. Commands keep stdout for their own output.
func InitWriter(level string, pretty bool, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	output := w
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	Logger = ctx.Logger()

	// Set as global logger
	log.Logger = Logger
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}
