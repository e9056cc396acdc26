// internal/logging/logging.go
package logging

import (
	"log/slog"
	"os"
)

// New builds a JSON logger writing to stdout and installs it as the process
// default. The returned LevelVar starts at info and can be adjusted once the
// configured level is known.
func New() (*slog.Logger, *slog.LevelVar) {
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, logLevel
}

// ParseLevel maps a configured level string onto a slog level, falling back
// to info for anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
