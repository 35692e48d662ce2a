// Package logger builds the process-wide slog.Logger from configuration.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"doorman/internal/infra/config"
)

// New builds a logger from cfg. The returned close function flushes and
// closes a file sink; for stdout/stderr it is a no-op. Callers defer it
// for the life of the process.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	w, closeFn, err := openSink(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("log sink %q: %w", cfg.Output, err)
	}

	opts := &slog.HandlerOptions{Level: threshold(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closeFn, nil
}

// threshold maps a configured level name to a slog.Level. Unknown names
// fall back to info rather than failing startup.
func threshold(name string) slog.Level {
	switch strings.ToLower(name) {
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

// openSink resolves the output target. Anything that is not a standard
// stream name is treated as a file path and opened append-only, so a
// restart extends the previous log instead of truncating it.
func openSink(target string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(target) {
	case "", "stderr":
		return os.Stderr, noop, nil
	case "stdout":
		return os.Stdout, noop, nil
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
