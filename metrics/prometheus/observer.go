// Package prometheus exports engine events as Prometheus metrics.
//
//	obs := prometheus.NewObserver(prom.DefaultRegisterer)
//	db, _ := sparsego.Open("./data", sparsego.WithMetricsObserver(obs))
package prometheus

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "sparsego"

// Observer implements sparsego.MetricsObserver.
type Observer struct {
	opLatency      *prom.HistogramVec
	writes         *prom.CounterVec
	searchResults  prom.Histogram
	flushes        *prom.CounterVec
	flushedPoints  prom.Counter
	compactions    *prom.CounterVec
	compactInputs  prom.Histogram
	snapshots      *prom.CounterVec
	snapshotBytes  *prom.CounterVec
	bufferUsed     prom.Gauge
	bufferCapacity prom.Gauge
}

// NewObserver creates an Observer and registers its collectors with reg.
// A nil reg leaves the collectors unregistered.
func NewObserver(reg prom.Registerer) *Observer {
	o := &Observer{
		opLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of engine operations",
			Buckets:   prom.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"op", "status"}),
		writes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Total writes processed",
		}, []string{"type", "status"}),
		searchResults: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per search",
			Buckets:   prom.ExponentialBuckets(1, 2, 10),
		}),
		flushes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Total buffer flushes",
		}, []string{"status"}),
		flushedPoints: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_points_total",
			Help:      "Points written to segments by flushes",
		}),
		compactions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Total compactions",
		}, []string{"status"}),
		compactInputs: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_input_segments",
			Help:      "Segments merged per compaction",
			Buckets:   prom.LinearBuckets(1, 2, 8),
		}),
		snapshots: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot exports and imports",
		}, []string{"op", "status"}),
		snapshotBytes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes_total",
			Help:      "Segment bytes transferred by snapshots",
		}, []string{"op"}),
		bufferUsed: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_used_elements",
			Help:      "Elements held by the write buffer",
		}),
		bufferCapacity: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_capacity_elements",
			Help:      "Capacity of the write buffer, 0 if unbounded",
		}),
	}

	if reg != nil {
		reg.MustRegister(o.Collectors()...)
	}
	return o
}

// Collectors returns every collector owned by o.
func (o *Observer) Collectors() []prom.Collector {
	return []prom.Collector{
		o.opLatency, o.writes, o.searchResults,
		o.flushes, o.flushedPoints,
		o.compactions, o.compactInputs,
		o.snapshots, o.snapshotBytes,
		o.bufferUsed, o.bufferCapacity,
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (o *Observer) OnInsert(d time.Duration, err error) {
	o.opLatency.WithLabelValues("insert", status(err)).Observe(d.Seconds())
	o.writes.WithLabelValues("insert", status(err)).Inc()
}

func (o *Observer) OnDelete(d time.Duration, err error) {
	o.opLatency.WithLabelValues("delete", status(err)).Observe(d.Seconds())
	o.writes.WithLabelValues("delete", status(err)).Inc()
}

func (o *Observer) OnSearch(d time.Duration, results int, err error) {
	o.opLatency.WithLabelValues("search", status(err)).Observe(d.Seconds())
	if err == nil {
		o.searchResults.Observe(float64(results))
	}
}

func (o *Observer) OnFlush(d time.Duration, points int, err error) {
	o.opLatency.WithLabelValues("flush", status(err)).Observe(d.Seconds())
	o.flushes.WithLabelValues(status(err)).Inc()
	if err == nil {
		o.flushedPoints.Add(float64(points))
	}
}

func (o *Observer) OnCompaction(d time.Duration, inputSegments, _ int, err error) {
	o.opLatency.WithLabelValues("compaction", status(err)).Observe(d.Seconds())
	o.compactions.WithLabelValues(status(err)).Inc()
	if err == nil {
		o.compactInputs.Observe(float64(inputSegments))
	}
}

func (o *Observer) OnSnapshot(op string, d time.Duration, bytes int64, err error) {
	o.opLatency.WithLabelValues(op, status(err)).Observe(d.Seconds())
	o.snapshots.WithLabelValues(op, status(err)).Inc()
	o.snapshotBytes.WithLabelValues(op).Add(float64(bytes))
}

// OnBufferUsage is called after every write.
func (o *Observer) OnBufferUsage(used, capacity int) {
	o.bufferUsed.Set(float64(used))
	o.bufferCapacity.Set(float64(capacity))
}
