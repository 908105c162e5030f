package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with field names used throughout problem setup
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger writing to w. Format is "json" or "text";
// anything else falls back to text.
func NewLogger(w io.Writer, format string, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger discards all output
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a config string onto a slog level, defaulting to Info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithLevel tags records with a multigrid level
func (l *Logger) WithLevel(level int) *Logger {
	return &Logger{Logger: l.Logger.With("grid_level", level)}
}

// WithShard tags records with a shard id
func (l *Logger) WithShard(shard int) *Logger {
	return &Logger{Logger: l.Logger.With("shard", shard)}
}
