// Package logging wires log/slog for the server-side components. Loggers are
// injected through constructors rather than taken from a global.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so components depend on the stdlib type.
type Logger = *slog.Logger

type Config struct {
	Level     slog.Level
	JSON      bool
	AddSource bool
}

// New creates a logger writing to stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Useful in tests.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop returns a logger that discards everything. Tests only.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
