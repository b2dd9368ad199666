// Package logging installs the process-wide slog handler: JSON for
// deployments, colored console output via tint for local work.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup builds the logger for level and encoding ("json" or "console"),
// installs it as the default and returns it.
func Setup(level, encoding string) *slog.Logger {
	logger := New(os.Stderr, level, encoding)
	slog.SetDefault(logger)
	return logger
}

func New(w io.Writer, level, encoding string) *slog.Logger {
	lvl := ParseLevel(level)
	if strings.EqualFold(encoding, "console") {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ParseLevel maps debug, info, warn and error to slog levels; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
