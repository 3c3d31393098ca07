// Package logging configures colored structured logging with tint.
//
// Usage:
//
//	log := logging.Setup("info")           // stderr, sets slog's default
//	log := logging.New(w, slog.LevelDebug) // explicit writer, no side effects
//
// Color is only used when the writer is a terminal.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Setup configures the default logger on stderr at the named level and
// returns it.
func Setup(level string) *slog.Logger {
	log := New(os.Stderr, ParseLevel(level))
	slog.SetDefault(log)
	return log
}

// New returns a tint logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !IsTerminal(w),
	}))
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// LookupLevel maps debug, info, warn (or warning) and error to slog levels,
// ignoring case and surrounding space.
func LookupLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q: want debug, info, warn or error", s)
}

// ParseLevel is LookupLevel with unknown names treated as info.
func ParseLevel(s string) slog.Level {
	level, _ := LookupLevel(s)
	return level
}
