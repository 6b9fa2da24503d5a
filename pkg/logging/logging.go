package logging

import (
	"log/slog"
	"os"
)

// Re-exported so callers don't need to import log/slog just to pick a level.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// New builds the application logger. All components derive their own loggers
// from this one via With().
func New(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
