package engine

import "time"

// MetricsObserver defines the interface for observing engine events.
type MetricsObserver interface {
	// OnInsert is called when an insert completes.
	OnInsert(duration time.Duration, err error)

	// OnDelete is called when a delete completes.
	OnDelete(duration time.Duration, err error)

	// OnSearch is called when a search completes.
	OnSearch(duration time.Duration, results int, err error)

	// OnCompaction is called when a compaction completes.
	OnCompaction(duration time.Duration, inputSegments int, outputPoints int, err error)

	// OnFlush is called when a flush completes.
	OnFlush(duration time.Duration, points int, err error)

	// OnSnapshot is called when an export or import completes.
	OnSnapshot(op string, duration time.Duration, bytes int64, err error)

	// OnBufferUsage reports buffer occupancy in elements.
	OnBufferUsage(used, capacity int)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnInsert(duration time.Duration, err error)              {}
func (o *NoopMetricsObserver) OnDelete(duration time.Duration, err error)              {}
func (o *NoopMetricsObserver) OnSearch(duration time.Duration, results int, err error) {}
func (o *NoopMetricsObserver) OnCompaction(duration time.Duration, inputSegments int, outputPoints int, err error) {
}
func (o *NoopMetricsObserver) OnFlush(duration time.Duration, points int, err error)                {}
func (o *NoopMetricsObserver) OnSnapshot(op string, duration time.Duration, bytes int64, err error) {}
func (o *NoopMetricsObserver) OnBufferUsage(used, capacity int)                                     {}
