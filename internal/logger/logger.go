package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a structured logger writing to w at the named level.
// Unknown level names fall back to info.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		With().
		Timestamp().
		Logger().
		Level(lvl)
}

// Console returns a human-readable logger for interactive commands.
func Console(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return New(zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05"}, level)
}

// Nop discards everything; used by tests and library callers without logging.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
