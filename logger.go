package tensordb

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/definition"
)

// Logger wraps slog.Logger with tensordb-specific context.
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

	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPath adds a tensor path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogAction logs a dispatched action.
func (l *Logger) LogAction(ctx context.Context, path string, action definition.Action, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "action failed",
			"path", path,
			"action", action,
			"duration", took,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "action completed",
			"path", path,
			"action", action,
			"duration", took,
		)
	}
}

// LogWrite logs the materialized writes of an action.
func (l *Logger) LogWrite(ctx context.Context, path string, action definition.Action, results []*chunkstore.Result) {
	chunks, bytes := 0, int64(0)
	for _, r := range results {
		chunks += r.ChunksWritten
		bytes += r.BytesWritten
	}

	l.DebugContext(ctx, "write committed",
		"path", path,
		"action", action,
		"writes", len(results),
		"chunks", chunks,
		"bytes", bytes,
	)
}

// LogRewrite logs an append or drop that rewrote the whole tensor.
func (l *Logger) LogRewrite(ctx context.Context, path string, action definition.Action) {
	l.InfoContext(ctx, "tensor rewritten",
		"path", path,
		"action", action,
	)
}

// LogFormula logs a formula evaluation.
func (l *Logger) LogFormula(ctx context.Context, formula string, refs int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "formula failed",
			"formula", formula,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "formula parsed",
			"formula", formula,
			"refs", refs,
		)
	}
}
