package sparsego

import (
	"context"
	"time"

	"github.com/hupe1980/sparsego/blobstore"
	"github.com/hupe1980/sparsego/internal/compress"
	"github.com/hupe1980/sparsego/internal/engine"
	"github.com/hupe1980/sparsego/internal/manifest"
	"github.com/hupe1980/sparsego/model"
)

type (
	// SparseVector is a vector stored as (dimension, weight) pairs.
	SparseVector = model.SparseVector
	// PointID identifies a stored point. Ids are assigned in ascending order
	// and never reused.
	PointID = model.PointID
	// Candidate is a scored search hit.
	Candidate = model.Candidate
	// Stats describes the state of a database.
	Stats = engine.Stats
	// Manifest describes a committed set of segments.
	Manifest = manifest.Manifest
)

// NewSparseVector builds a vector from a dimension → weight map.
func NewSparseVector(m map[uint32]float32) (SparseVector, error) {
	v, err := model.NewSparseVector(m)
	if err != nil {
		return SparseVector{}, translateError(err)
	}
	return v, nil
}

// DB is an embedded sparse-vector index. It is safe for concurrent use.
type DB struct {
	engine  *engine.Engine
	logger  *Logger
	metrics MetricsCollector
}

// Open opens the index in dir, creating it if it does not exist.
func Open(dir string, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)
	logger := opts.logger.WithDir(dir)
	opts.logger = logger

	e, err := engine.Open(dir, opts.engineOptions()...)
	if err != nil {
		logger.LogRecovery(context.Background(), Stats{}, err)
		return nil, translateError(err)
	}
	return newDB(e, opts), nil
}

func newDB(e *engine.Engine, opts options) *DB {
	db := &DB{
		engine:  e,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
	}
	if st, err := e.Stats(); err == nil {
		db.logger.LogRecovery(context.Background(), st, nil)
	}
	return db
}

// Insert stores v and returns its id. The point is visible to Search once
// Insert returns.
func (db *DB) Insert(ctx context.Context, v SparseVector) (PointID, error) {
	start := time.Now()
	id, err := db.engine.Insert(ctx, v)
	err = translateError(err)
	db.metrics.RecordInsert(time.Since(start), err)
	db.logger.LogInsert(ctx, id, v.Len(), err)
	return id, err
}

// Delete removes id. Deleting an unknown or already deleted id is a no-op.
func (db *DB) Delete(ctx context.Context, id PointID) error {
	start := time.Now()
	err := translateError(db.engine.Delete(ctx, id))
	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDelete(ctx, id, err)
	return err
}

// Search returns up to k points with the highest dot product against
// query, ordered by score descending and id ascending. Points that share no
// dimension with the query are not returned.
func (db *DB) Search(ctx context.Context, query SparseVector, k int) ([]Candidate, error) {
	start := time.Now()
	res, err := db.engine.Search(ctx, query, k)
	err = translateError(err)
	db.metrics.RecordSearch(k, time.Since(start), err)
	db.logger.LogSearch(ctx, k, len(res), err)
	return res, err
}

// Flush writes buffered writes into a new segment.
func (db *DB) Flush(ctx context.Context) error {
	start := time.Now()
	err := translateError(db.engine.Flush(ctx))
	db.metrics.RecordCompaction(time.Since(start), err)
	db.logger.LogCompaction(ctx, "flush", time.Since(start), err)
	return err
}

// Compact merges all segments and the buffer into one segment and drops
// deleted points.
func (db *DB) Compact(ctx context.Context) error {
	start := time.Now()
	err := translateError(db.engine.Compact(ctx))
	db.metrics.RecordCompaction(time.Since(start), err)
	db.logger.LogCompaction(ctx, "compaction", time.Since(start), err)
	return err
}

// Stats returns a snapshot of database statistics.
func (db *DB) Stats() (Stats, error) {
	st, err := db.engine.Stats()
	return st, translateError(err)
}

// Dir returns the data directory.
func (db *DB) Dir() string { return db.engine.Dir() }

// Close flushes the WAL and releases all resources. Buffered writes are
// recovered from the WAL on the next Open.
func (db *DB) Close() error {
	return translateError(db.engine.Close())
}

// Compression selects the codec of exported segment blobs.
type Compression = compress.Algorithm

const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZSTD = compress.ZSTD
)

// ParseCompression maps "", "none", "lz4" or "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	if s == "none" {
		return CompressionNone, nil
	}
	return compress.Parse(s)
}

// SnapshotOption configures ExportSnapshot.
type SnapshotOption = engine.ExportOption

// WithSnapshotCompression compresses exported segment blobs.
func WithSnapshotCompression(c Compression) SnapshotOption {
	return engine.WithCompression(c)
}

// WithSnapshotConcurrency bounds parallel segment uploads.
func WithSnapshotConcurrency(n int) SnapshotOption {
	return engine.WithConcurrency(n)
}

// ExportSnapshot writes a consistent copy of the index, including buffered
// writes, to dst. The database is not modified.
func (db *DB) ExportSnapshot(ctx context.Context, dst blobstore.BlobStore, opts ...SnapshotOption) (*Manifest, error) {
	m, err := db.engine.ExportSnapshot(ctx, dst, opts...)
	err = translateError(err)
	segments := 0
	if m != nil {
		segments = len(m.Segments)
	}
	db.logger.LogSnapshot(ctx, "export", segments, err)
	return m, err
}

// ImportSnapshot restores the snapshot in src into dir, which must not hold
// an index yet, and opens it. Every segment checksum is verified.
func ImportSnapshot(ctx context.Context, src blobstore.BlobStore, dir string, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)
	opts.logger = opts.logger.WithDir(dir)

	e, err := engine.ImportSnapshot(ctx, src, dir, opts.engineOptions()...)
	if err != nil {
		err = translateError(err)
		opts.logger.LogSnapshot(ctx, "import", 0, err)
		return nil, err
	}
	st, _ := e.Stats()
	opts.logger.LogSnapshot(ctx, "import", st.Segments, nil)
	return newDB(e, opts), nil
}
