package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// TRIAGE_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
// TRIAGE_LOG_FORMAT=json switches from the console writer to JSON lines on stderr.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("TRIAGE_LOG_LEVEL")))
	log.Logger = zerolog.New(output(os.Getenv("TRIAGE_LOG_FORMAT"), os.Stderr)).
		With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func output(format string, w io.Writer) io.Writer {
	if format == "json" {
		return w
	}
	return zerolog.ConsoleWriter{Out: w}
}
