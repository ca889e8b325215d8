package sparsego

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with sparsego-specific helpers.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithDir adds the data directory to every record.
func (l *Logger) WithDir(dir string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dir", dir),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, id PointID, nnz int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"nnz", nnz,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "insert completed",
		"id", id,
		"nnz", nnz,
	)
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id PointID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "delete completed",
		"id", id,
	)
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "search completed",
		"k", k,
		"results", resultsFound,
	)
}

// LogCompaction logs an explicit flush or compaction.
func (l *Logger) LogCompaction(ctx context.Context, op string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"duration", duration,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, op+" completed",
		"duration", duration,
	)
}

// LogSnapshot logs a snapshot export or import.
func (l *Logger) LogSnapshot(ctx context.Context, op string, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot "+op+" failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "snapshot "+op+" completed",
		"segments", segments,
	)
}

// LogRecovery logs the state an index was opened with.
func (l *Logger) LogRecovery(ctx context.Context, st Stats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "index opened",
		"segments", st.Segments,
		"buffered", st.BufferedPoints,
		"live_points", st.LivePoints,
		"next_id", st.NextPointID,
	)
}
