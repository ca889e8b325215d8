package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sparsego/blobstore"
	"github.com/hupe1980/sparsego/internal/buffer"
	"github.com/hupe1980/sparsego/internal/fs"
	"github.com/hupe1980/sparsego/internal/manifest"
	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/internal/resource"
	"github.com/hupe1980/sparsego/internal/segment"
	"github.com/hupe1980/sparsego/internal/wal"
	"github.com/hupe1980/sparsego/model"
)

const segmentExt = ".sps"

func segmentFileName(id model.SegmentID) string {
	return fmt.Sprintf("segment_%d%s", id, segmentExt)
}

func parseSegmentFileName(name string) (model.SegmentID, bool) {
	s, ok := strings.CutPrefix(name, "segment_")
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, segmentExt)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return model.SegmentID(id), true
}

// Engine is the sparse-vector index engine. It is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex // serializes writers and view publication
	compactMu sync.Mutex // one flush or compaction at a time

	dir       string
	fs        fs.FileSystem
	logger    *slog.Logger
	metrics   MetricsObserver
	rc        *resource.Controller
	manifests *manifest.Store

	bufferCapacity   int
	blockOnFull      bool
	segmentThreshold int
	retries          int
	format           posting.WeightFormat
	durability       wal.Durability
	verifyChecksums  bool
	background       bool

	// Guarded by mu.
	manifest      *manifest.Manifest
	segments      []*RefCountedSegment // engine references, ascending id
	tombstones    *roaring.Bitmap      // union of segment tombstones
	active        *buffer.Buffer
	nextID        model.PointID
	nextSegmentID model.SegmentID
	lsn           uint64
	wal           *wal.WAL
	walGen        uint64

	current atomic.Pointer[View]
	closed  atomic.Bool

	compactionCh chan struct{}
	closeCh      chan struct{}
	wg           sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func newEngine(dir string, opts ...Option) *Engine {
	e := &Engine{
		dir:              dir,
		fs:               fs.Default,
		logger:           slog.New(slog.DiscardHandler),
		metrics:          &NoopMetricsObserver{},
		bufferCapacity:   DefaultBufferCapacity,
		segmentThreshold: DefaultSegmentThreshold,
		retries:          DefaultCompactionRetries,
		format:           posting.WeightFloat16,
		durability:       wal.DurabilitySync,
		background:       true,
		tombstones:       roaring.New(),
		compactionCh:     make(chan struct{}, 1),
		closeCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.fs == nil {
		e.fs = fs.Default
	}
	return e
}

// Open opens the index stored in dir, creating it if necessary. Buffered
// writes that were not yet compacted are recovered from the WAL.
func Open(dir string, opts ...Option) (*Engine, error) {
	e := newEngine(dir, opts...)
	if e.format.Size() == 0 {
		return nil, fmt.Errorf("unsupported weight format %s", e.format)
	}
	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.manifests = manifest.NewStore(blobstore.NewLocalStoreFS(dir, e.fs))
	m, err := e.manifests.Load(e.ctx)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		m = manifest.New(uint8(e.format))
	case err != nil:
		e.cancel()
		return nil, manifestError(err)
	}
	if f := posting.WeightFormat(m.WeightFormat); f != e.format {
		e.logger.Info("Using weight format recorded in manifest", "format", f, "requested", e.format)
		e.format = f
	}

	e.manifest = m
	e.nextID = m.NextPointID
	e.nextSegmentID = max(m.NextSegmentID, 1)
	e.lsn = m.MaxLSN
	e.active = buffer.New(e.bufferCapacity)

	if err := e.openSegments(); err != nil {
		e.releaseSegments()
		e.cancel()
		return nil, err
	}
	e.removeOrphans()

	if err := e.recover(); err != nil {
		e.releaseSegments()
		e.cancel()
		return nil, err
	}

	e.mu.Lock()
	e.publishLocked()
	e.mu.Unlock()

	if e.background {
		e.wg.Add(1)
		go e.runCompactionLoop()
	}
	return e, nil
}

func manifestError(err error) error {
	if errors.Is(err, manifest.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	return err
}

func (e *Engine) openSegments() error {
	for _, info := range e.manifest.Segments {
		var opts []segment.Option
		if e.verifyChecksums {
			opts = append(opts, segment.WithChecksum(info.Checksum))
		}
		seg, err := segment.Open(filepath.Join(e.dir, info.Path), opts...)
		if err != nil {
			return fmt.Errorf("open segment %d: %w", info.ID, err)
		}
		if seg.ID() != info.ID {
			_ = seg.Close()
			return fmt.Errorf("%w: segment file %s holds segment %d", ErrIntegrity, info.Path, seg.ID())
		}
		e.segments = append(e.segments, newRefCountedSegment(seg, info))
	}
	slices.SortFunc(e.segments, func(a, b *RefCountedSegment) int { return cmp.Compare(a.ID(), b.ID()) })
	e.tombstones = unionTombstones(e.segments)
	return nil
}

func (e *Engine) releaseSegments() {
	for _, seg := range e.segments {
		seg.DecRef()
	}
	e.segments = nil
}

// removeOrphans deletes temporary files and segments a crashed compaction
// left behind.
func (e *Engine) removeOrphans() {
	entries, err := e.fs.ReadDir(e.dir)
	if err != nil {
		e.logger.Warn("Listing data directory failed", "dir", e.dir, "error", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		orphan := strings.HasSuffix(name, ".tmp")
		if id, ok := parseSegmentFileName(name); ok {
			if _, live := e.manifest.Segment(id); !live {
				orphan = true
			}
		}
		if !orphan {
			continue
		}
		if err := e.fs.Remove(filepath.Join(e.dir, name)); err != nil {
			e.logger.Warn("Removing orphaned file failed", "file", name, "error", err)
			continue
		}
		e.logger.Info("Removed orphaned file", "file", name)
	}
}

// recover replays WAL generations into the buffer and opens a fresh one.
func (e *Engine) recover() error {
	start := time.Now()
	gens, err := wal.List(e.fs, e.dir)
	if err != nil {
		return fmt.Errorf("list wal: %w", err)
	}

	var applied, skipped int
	for _, gen := range gens {
		path := filepath.Join(e.dir, wal.FileName(gen))
		res, err := wal.Replay(e.fs, path, func(rec *wal.Record) error {
			if rec.LSN <= e.manifest.MaxLSN {
				skipped++
				return nil
			}
			applied++
			return e.apply(rec)
		})
		if err != nil {
			return fmt.Errorf("replay %s: %w", path, err)
		}
		if res.Truncated {
			e.logger.Warn("WAL tail truncated", "file", path, "records", res.Records, "error", res.TailErr)
		}
		e.lsn = max(e.lsn, res.LastLSN)
	}

	e.walGen = 1
	if len(gens) > 0 {
		e.walGen = gens[len(gens)-1] + 1
	}
	w, err := wal.Open(e.fs, filepath.Join(e.dir, wal.FileName(e.walGen)), wal.Options{Durability: e.durability})
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	e.wal = w

	if len(gens) > 0 {
		e.logger.Info("Recovered from WAL",
			"generations", len(gens),
			"applied", applied,
			"skipped", skipped,
			"last_lsn", e.lsn,
			"duration", time.Since(start),
		)
	}
	return nil
}

func (e *Engine) apply(rec *wal.Record) error {
	switch rec.Type {
	case wal.RecordTypeInsert:
		if err := e.active.Restore(rec.ID, rec.Vector); err != nil && !errors.Is(err, buffer.ErrDuplicatePoint) {
			return err
		}
		if rec.ID >= e.nextID {
			e.nextID = rec.ID + 1
		}
	case wal.RecordTypeDelete:
		e.active.Delete(rec.ID)
	default:
		return fmt.Errorf("%w: %d", wal.ErrInvalidType, rec.Type)
	}
	return nil
}

func unionTombstones(segments []*RefCountedSegment) *roaring.Bitmap {
	sets := make([]*roaring.Bitmap, 0, len(segments))
	for _, seg := range segments {
		if !seg.Tombstones().IsEmpty() {
			sets = append(sets, seg.Tombstones())
		}
	}
	return roaring.FastOr(sets...)
}

// publishLocked installs a new view of the current state.
func (e *Engine) publishLocked() {
	segs := slices.Clone(e.segments)
	for _, seg := range segs {
		seg.IncRef()
	}
	v := newView(segs, e.tombstones, e.active.Snapshot(), e.manifest, e.nextID)
	if old := e.current.Swap(v); old != nil {
		old.Release()
	}
	e.metrics.OnBufferUsage(e.active.Used(), e.active.Capacity())
}

// CurrentView returns the current view with an incremented reference count.
// Callers must Release it.
func (e *Engine) CurrentView() (*View, error) {
	for {
		if e.closed.Load() {
			return nil, ErrClosed
		}

		v := e.current.Load()
		if v == nil {
			return nil, ErrClosed
		}
		if v.TryIncRef() {
			return v, nil
		}

		// The view was released concurrently; its successor is already
		// installed.
		runtime.Gosched()
	}
}

// prepare validates v and returns a canonical copy with weights quantized
// to the storage format. Weights that quantize to zero are dropped.
func (e *Engine) prepare(v model.SparseVector) (model.SparseVector, error) {
	c := v.Clone()
	if err := c.Canonicalize(); err != nil {
		return model.SparseVector{}, fmt.Errorf("%w: %w", ErrInvalidVector, err)
	}
	n := 0
	for i := range c.Indices {
		w := e.format.Quantize(c.Values[i])
		if w == 0 {
			continue
		}
		c.Indices[n], c.Values[n] = c.Indices[i], w
		n++
	}
	c.Indices, c.Values = c.Indices[:n], c.Values[:n]
	return c, nil
}

// Insert stores v under a newly assigned id. Weights are stored with the
// engine's weight format, so scores use the quantized values.
func (e *Engine) Insert(ctx context.Context, v model.SparseVector) (id model.PointID, err error) {
	start := time.Now()
	defer func() {
		e.metrics.OnInsert(time.Since(start), err)
	}()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	vec, err := e.prepare(v)
	if err != nil {
		return 0, err
	}

	for attempt := 0; ; attempt++ {
		id, w, offset, err := e.insert(vec)
		if errors.Is(err, ErrBufferFull) {
			e.signalCompaction()
			if !e.blockOnFull || attempt > 0 {
				return 0, err
			}
			if err := e.Flush(ctx); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		if err := w.WaitFor(offset); err != nil {
			return 0, fmt.Errorf("wal sync: %w", err)
		}
		return id, nil
	}
}

func (e *Engine) insert(vec model.SparseVector) (model.PointID, *wal.WAL, int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return 0, nil, 0, ErrClosed
	}
	if !e.active.Fits(vec.Len()) {
		return 0, nil, 0, ErrBufferFull
	}

	id := e.nextID
	offset, err := e.wal.AppendAsync(&wal.Record{
		LSN:    e.lsn + 1,
		Type:   wal.RecordTypeInsert,
		ID:     id,
		Vector: vec,
	})
	if err != nil {
		return 0, nil, 0, fmt.Errorf("wal append: %w", err)
	}
	e.lsn++
	e.nextID++

	if err := e.active.Insert(id, vec); err != nil {
		return 0, nil, 0, err
	}
	e.publishLocked()

	if e.active.Full() {
		e.signalCompaction()
	}
	return id, e.wal, offset, nil
}

// Delete removes id from the index. The point disappears from search results
// before Delete returns. Deleting an id that was never assigned is a no-op.
func (e *Engine) Delete(ctx context.Context, id model.PointID) (err error) {
	start := time.Now()
	defer func() {
		e.metrics.OnDelete(time.Since(start), err)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return ErrClosed
	}
	if id >= e.nextID {
		e.mu.Unlock()
		return nil
	}

	offset, err := e.wal.AppendAsync(&wal.Record{LSN: e.lsn + 1, Type: wal.RecordTypeDelete, ID: id})
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("wal append: %w", err)
	}
	e.lsn++
	e.active.Delete(id)
	e.publishLocked()
	full := e.active.Full()
	w := e.wal
	e.mu.Unlock()

	if full {
		e.signalCompaction()
	}
	if err := w.WaitFor(offset); err != nil {
		return fmt.Errorf("wal sync: %w", err)
	}
	return nil
}

// Search returns the k points with the highest dot product against query,
// ordered by score descending and id ascending.
func (e *Engine) Search(ctx context.Context, query model.SparseVector, k int) (res []model.Candidate, err error) {
	start := time.Now()
	defer func() {
		e.metrics.OnSearch(time.Since(start), len(res), err)
	}()

	if k <= 0 {
		return nil, ErrInvalidK
	}
	q := query.Clone()
	if err := q.Canonicalize(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVector, err)
	}

	v, err := e.CurrentView()
	if err != nil {
		return nil, err
	}
	defer v.Release()

	res, _, err = v.Search(ctx, q, k)
	return res, err
}

// Stats describes the engine state.
type Stats struct {
	Segments       int
	SegmentPoints  int
	Tombstones     int
	BufferedPoints int
	BufferUsed     int
	BufferCapacity int
	LivePoints     int
	NextPointID    model.PointID
	LastLSN        uint64
	ManifestID     uint64
	WeightFormat   posting.WeightFormat
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() (Stats, error) {
	v, err := e.CurrentView()
	if err != nil {
		return Stats{}, err
	}
	defer v.Release()

	st := Stats{
		Segments:       len(v.Segments()),
		BufferedPoints: v.Buffer().Len(),
		LivePoints:     v.PointCount(),
		NextPointID:    v.NextID(),
		ManifestID:     v.Manifest().ID,
		WeightFormat:   e.format,
		BufferCapacity: e.bufferCapacity,
	}
	for _, seg := range v.Segments() {
		st.SegmentPoints += seg.PointCount()
		st.Tombstones += int(seg.Tombstones().GetCardinality())
	}

	e.mu.Lock()
	st.BufferUsed = e.active.Used()
	st.LastLSN = e.lsn
	e.mu.Unlock()
	return st, nil
}

// Dir returns the data directory.
func (e *Engine) Dir() string { return e.dir }

// WeightFormat returns the weight encoding of the index.
func (e *Engine) WeightFormat() posting.WeightFormat { return e.format }

func (e *Engine) signalCompaction() {
	if !e.background {
		return
	}
	select {
	case e.compactionCh <- struct{}{}:
	default:
	}
}

func (e *Engine) runCompactionLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.closeCh:
			return
		case <-e.compactionCh:
			e.checkCompaction(e.ctx)
		}
	}
}

// checkCompaction flushes a full buffer and merges segments once there are
// too many of them.
func (e *Engine) checkCompaction(ctx context.Context) {
	if err := e.rc.AcquireBackground(ctx); err != nil {
		return
	}
	defer e.rc.ReleaseBackground()

	if e.active.Full() {
		if err := e.Flush(ctx); err != nil {
			e.logger.Error("Background flush failed", "error", err)
			return
		}
	}

	e.mu.Lock()
	n := len(e.segments)
	e.mu.Unlock()

	if e.segmentThreshold > 1 && n >= e.segmentThreshold {
		if err := e.Compact(ctx); err != nil {
			e.logger.Error("Background compaction failed", "error", err)
		}
	}
}

// Close stops background work, syncs the WAL and releases the current view.
// Segments stay mapped until the last outstanding view is released.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	e.cancel()
	close(e.closeCh)
	e.wg.Wait()

	e.compactMu.Lock()
	defer e.compactMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.wal != nil {
		err = e.wal.Close()
	}
	if v := e.current.Swap(nil); v != nil {
		v.Release()
	}
	e.releaseSegments()
	return err
}
