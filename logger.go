package objcore

import (
	"log/slog"

	"github.com/objcore/objcore/obj"
)

// Logger is the structured logger used across the store. It lives in the
// obj package next to the accessor code that emits on it; the alias keeps
// root-level configuration (WithLogger) self-contained.
type Logger = obj.Logger

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger { return obj.NewLogger(handler) }

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger { return obj.NewJSONLogger(level) }

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger { return obj.NewTextLogger(level) }

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger { return obj.NoopLogger() }
