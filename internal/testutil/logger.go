package testutil

import (
	"log/slog"
	"os"
	"strings"
)

// NewTestLogger writes text logs to stderr. TEST_LOG_LEVEL (debug, info, warn,
// error) raises or lowers the threshold; the default is debug.
func NewTestLogger() *slog.Logger {
	level := slog.LevelDebug
	if raw := strings.TrimSpace(os.Getenv("TEST_LOG_LEVEL")); raw != "" {
		_ = level.UnmarshalText([]byte(raw))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewNullLogger drops every record.
func NewNullLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
