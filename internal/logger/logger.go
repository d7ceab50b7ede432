// Package logger builds the zerolog loggers used across the data store and
// the CLI.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Settings selects level and output format.
type Settings struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=console json"`
}

// New builds a logger writing to stderr.
func New(s Settings) (zerolog.Logger, error) {
	return NewWithWriter(s, os.Stderr)
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(s Settings, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if s.Level != "" {
		parsed, err := zerolog.ParseLevel(s.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", s.Level, err)
		}
		level = parsed
	}

	switch s.Format {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (must be console or json)", s.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// PgxTraceLevel maps a zerolog level onto the pgx tracelog level that
// produces the same verbosity.
func PgxTraceLevel(l zerolog.Level) tracelog.LogLevel {
	switch l {
	case zerolog.TraceLevel:
		return tracelog.LogLevelTrace
	case zerolog.DebugLevel:
		return tracelog.LogLevelDebug
	case zerolog.InfoLevel:
		return tracelog.LogLevelInfo
	case zerolog.WarnLevel:
		return tracelog.LogLevelWarn
	case zerolog.Disabled:
		return tracelog.LogLevelNone
	default:
		return tracelog.LogLevelError
	}
}
