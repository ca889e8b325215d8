package engine

import (
	"log/slog"
	"time"

	"github.com/hupe1980/sparsego/internal/fs"
	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/internal/resource"
	"github.com/hupe1980/sparsego/internal/wal"
)

const (
	// DefaultBufferCapacity is the default element budget of the buffer.
	DefaultBufferCapacity = 1 << 20
	// DefaultSegmentThreshold is the segment count that triggers a full
	// compaction in the background.
	DefaultSegmentThreshold = 8
	// DefaultCompactionRetries bounds retries of transient IO failures.
	DefaultCompactionRetries = 3

	retryBackoff = 10 * time.Millisecond
)

// Option defines a configuration option for the Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithFileSystem sets the file system used for segments and the WAL.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(e *Engine) {
		e.fs = fsys
	}
}

// WithResourceController limits background workers and compaction IO.
func WithResourceController(rc *resource.Controller) Option {
	return func(e *Engine) {
		e.rc = rc
	}
}

// WithMetricsObserver sets the metrics observer for the engine.
func WithMetricsObserver(o MetricsObserver) Option {
	return func(e *Engine) {
		if o != nil {
			e.metrics = o
		}
	}
}

// WithBufferCapacity sets the buffer element budget. Every stored weight and
// every delete counts as one element. n <= 0 means unbounded.
func WithBufferCapacity(n int) Option {
	return func(e *Engine) {
		e.bufferCapacity = n
	}
}

// WithBlockOnFull makes Insert run a synchronous flush and retry once
// when the buffer is full, instead of returning ErrBufferFull.
func WithBlockOnFull(block bool) Option {
	return func(e *Engine) {
		e.blockOnFull = block
	}
}

// WithSegmentThreshold sets the segment count at which the background worker
// merges all segments. n <= 1 disables segment-count triggered compaction.
func WithSegmentThreshold(n int) Option {
	return func(e *Engine) {
		e.segmentThreshold = n
	}
}

// WithCompactionRetries sets how often a transient IO failure is retried.
func WithCompactionRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// WithWeightFormat selects the on-disk weight encoding of new indexes.
// Existing indexes keep the format recorded in their manifest.
func WithWeightFormat(f posting.WeightFormat) Option {
	return func(e *Engine) {
		e.format = f
	}
}

// WithDurability sets the WAL durability mode.
func WithDurability(d wal.Durability) Option {
	return func(e *Engine) {
		e.durability = d
	}
}

// WithVerifyChecksums verifies the full-file checksum of every segment on
// open. Metadata checksums are always verified.
func WithVerifyChecksums(verify bool) Option {
	return func(e *Engine) {
		e.verifyChecksums = verify
	}
}

// WithBackgroundCompaction enables or disables the background worker.
// Enabled by default.
func WithBackgroundCompaction(enabled bool) Option {
	return func(e *Engine) {
		e.background = enabled
	}
}
