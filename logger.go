package nexus

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with nexus-specific context.
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

// WithShard adds a shard index field to the logger.
func (l *Logger) WithShard(shard int) *Logger {
	return &Logger{
		Logger: l.Logger.With("shard", shard),
	}
}

// WithSource adds a source field to the logger (a load source or input file).
func (l *Logger) WithSource(source string) *Logger {
	return &Logger{
		Logger: l.Logger.With("source", source),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogLoad logs the baseline load of a pass.
func (l *Logger) LogLoad(ctx context.Context, count int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "registry load failed",
			"count", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "registry loaded",
			"count", count,
			"duration", d,
		)
	}
}

// LogUpsert logs the merge phase of a pass.
func (l *Logger) LogUpsert(ctx context.Context, inserted, updated, decayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"inserted", inserted,
			"updated", updated,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "upsert completed",
			"inserted", inserted,
			"updated", updated,
			"decayed", decayed,
		)
	}
}

// LogSave logs a registry save.
func (l *Logger) LogSave(ctx context.Context, count, written, skipped, failed int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "registry save failed",
			"count", count,
			"error", err,
		)
	case failed > 0:
		l.WarnContext(ctx, "registry saved with remote failures",
			"count", count,
			"written", written,
			"skipped", skipped,
			"failed", failed,
		)
	default:
		l.InfoContext(ctx, "registry saved",
			"count", count,
			"written", written,
			"skipped", skipped,
		)
	}
}

// LogPack logs an artifact build.
func (l *Logger) LogPack(ctx context.Context, dir string, entities, bundles int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pack failed",
			"dir", dir,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "artifact packed",
			"dir", dir,
			"entities", entities,
			"bundles", bundles,
		)
	}
}
