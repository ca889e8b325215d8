package sparsego

import (
	"log/slog"

	"github.com/hupe1980/sparsego/internal/engine"
	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/internal/resource"
	"github.com/hupe1980/sparsego/internal/wal"
)

// WeightFormat selects how posting weights are stored on disk.
type WeightFormat = posting.WeightFormat

const (
	// WeightFloat16 stores weights as IEEE half floats (default).
	WeightFloat16 = posting.WeightFloat16
	// WeightFloat32 stores weights losslessly.
	WeightFloat32 = posting.WeightFloat32
)

// Durability controls when writes reach stable storage.
type Durability = wal.Durability

const (
	// DurabilityAsync leaves WAL writes in the OS page cache.
	DurabilityAsync = wal.DurabilityAsync
	// DurabilitySync fsyncs the WAL before a write returns (default).
	// Concurrent writers share one fsync.
	DurabilitySync = wal.DurabilitySync
)

// MetricsObserver receives engine-level events, including background
// flushes and compactions.
type MetricsObserver = engine.MetricsObserver

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	engineOpts       []engine.Option
}

// Option configures Open and ImportSnapshot.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := sparsego.NewJSONLogger(slog.LevelInfo)
//	db, _ := sparsego.Open("./data", sparsego.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &sparsego.BasicMetricsCollector{}
//	db, _ := sparsego.Open("./data", sparsego.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, Avg latency: %dns\n", stats.InsertCount, stats.InsertAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithMetricsObserver forwards engine events to obs.
func WithMetricsObserver(obs MetricsObserver) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithMetricsObserver(obs))
	}
}

// WithBufferCapacity bounds the in-memory buffer. Every stored weight and
// every pending delete counts as one element. n <= 0 means unbounded.
func WithBufferCapacity(n int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithBufferCapacity(n))
	}
}

// WithBlockOnFull makes Insert flush synchronously instead of returning
// ErrBufferFull when the buffer is at capacity.
func WithBlockOnFull(block bool) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithBlockOnFull(block))
	}
}

// WithSegmentThreshold sets the segment count at which all segments are
// merged in the background. n <= 1 disables it.
func WithSegmentThreshold(n int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithSegmentThreshold(n))
	}
}

// WithCompactionRetries bounds retries of transient IO failures during
// flush and compaction.
func WithCompactionRetries(n int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithCompactionRetries(n))
	}
}

// WithWeightFormat selects the weight encoding of a new index. An existing
// index keeps the format it was created with.
func WithWeightFormat(f WeightFormat) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithWeightFormat(f))
	}
}

// WithDurability sets the WAL durability mode.
func WithDurability(d Durability) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithDurability(d))
	}
}

// WithVerifyChecksums verifies the full checksum of every segment on open.
func WithVerifyChecksums(verify bool) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithVerifyChecksums(verify))
	}
}

// WithBackgroundCompaction enables or disables background flushes and
// compactions. Enabled by default.
func WithBackgroundCompaction(enabled bool) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithBackgroundCompaction(enabled))
	}
}

// WithResourceLimits limits concurrent background work and the write rate
// of flushes and compactions. bytesPerSec <= 0 means unlimited.
func WithResourceLimits(workers int, bytesPerSec int64) Option {
	return func(o *options) {
		rc := resource.NewController(resource.Config{
			MaxBackgroundWorkers: int64(workers),
			IOLimitBytesPerSec:   bytesPerSec,
		})
		o.engineOpts = append(o.engineOpts, engine.WithResourceController(rc))
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}

func (o options) engineOptions() []engine.Option {
	return append([]engine.Option{engine.WithLogger(o.logger.Logger)}, o.engineOpts...)
}
