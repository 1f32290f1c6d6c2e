package retrago

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with retrago-specific context.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithSnapshot adds a snapshot id field to the logger.
func (l *Logger) WithSnapshot(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("snapshot", id),
	}
}

// LogBuild logs a build operation.
func (l *Logger) LogBuild(ctx context.Context, snapshotID string, items, chunks, skipped int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"snapshot", snapshotID,
			"items", items,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "build completed",
			"snapshot", snapshotID,
			"items", items,
			"chunks", chunks,
			"skipped", skipped,
			"duration", duration,
		)
	}
}

// LogQuery logs a query operation.
func (l *Logger) LogQuery(ctx context.Context, snapshotID string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"snapshot", snapshotID,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"snapshot", snapshotID,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogDelete logs a snapshot delete operation.
func (l *Logger) LogDelete(ctx context.Context, snapshotID string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"snapshot", snapshotID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot deleted",
			"snapshot", snapshotID,
		)
	}
}

// LogPush logs a snapshot push to a blob store.
func (l *Logger) LogPush(ctx context.Context, snapshotID, dest string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "push failed",
			"snapshot", snapshotID,
			"dest", dest,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot pushed",
			"snapshot", snapshotID,
			"dest", dest,
		)
	}
}

// LogPull logs a snapshot pull from a blob store.
func (l *Logger) LogPull(ctx context.Context, snapshotID, source string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pull failed",
			"snapshot", snapshotID,
			"source", source,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot pulled",
			"snapshot", snapshotID,
			"source", source,
		)
	}
}
