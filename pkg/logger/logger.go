// Package logger configures Agio's structured logging: a level-filtering
// handler that suppresses third-party library chatter below debug
// level, so a caller's INFO level doesn't drown in a driver's internal
// noise.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// into an slog.Level, defaulting to Info for unknown input.
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

const modulePrefix = "github.com/agio-run/agio"

// filteringHandler suppresses records from outside modulePrefix unless
// the configured level is Debug — so a third-party library's own
// internal logging doesn't leak into Agio's output at normal verbosity.
type filteringHandler struct {
	slog.Handler
	level slog.Leveler
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if !h.Handler.Enabled(ctx, level) {
		return false
	}
	if h.level.Level() <= slog.LevelDebug {
		return true
	}
	return isAgioCaller()
}

func isAgioCaller() bool {
	var pcs [1]uintptr
	n := runtime.Callers(4, pcs[:])
	if n == 0 {
		return true
	}
	frame, _ := runtime.CallersFrames(pcs[:n]).Next()
	return strings.Contains(frame.Function, modulePrefix) || frame.Function == ""
}

// New builds the process-wide logger writing text records to os.Stderr
// at the given level.
func New(level slog.Level) *slog.Logger {
	handler := &filteringHandler{
		Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		level:   level,
	}
	return slog.New(handler)
}
