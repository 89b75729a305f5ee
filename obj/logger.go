package obj

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with accessor-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{Logger: l.Logger.With("table", name)}
}

// WithKey adds a row key field to the logger.
func (l *Logger) WithKey(key int64) *Logger {
	return &Logger{Logger: l.Logger.With("key", key)}
}

// LogCascade logs a completed cascade.
func (l *Logger) LogCascade(ctx context.Context, removed int) {
	l.DebugContext(ctx, "cascade completed", "removed", removed)
}

// LogReplicate logs a replication emission failure.
func (l *Logger) LogReplicate(ctx context.Context, op string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "replication emit failed", "op", op, "error", err)
	}
}
