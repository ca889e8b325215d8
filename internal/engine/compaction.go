package engine

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sparsego/internal/buffer"
	"github.com/hupe1980/sparsego/internal/fs"
	"github.com/hupe1980/sparsego/internal/manifest"
	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/internal/resource"
	"github.com/hupe1980/sparsego/internal/segment"
	"github.com/hupe1980/sparsego/internal/wal"
	"github.com/hupe1980/sparsego/model"
)

// keepManifests is the number of manifest versions kept on disk.
const keepManifests = 2

// compactionJob holds the frozen inputs of a flush or compaction.
type compactionJob struct {
	view      *View
	segmentID model.SegmentID
	lsn       uint64 // last WAL record reflected in view
	walGen    uint64 // newest WAL generation fully reflected in view
}

// freeze captures the segment list and a buffer snapshot. The WAL is rotated
// so the frozen writes live in closed generations that can be deleted once
// the result is committed.
func (e *Engine) freeze() (*compactionJob, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return nil, ErrClosed
	}

	frozen := e.active.Snapshot()
	if !frozen.Empty() {
		if err := e.rotateWALLocked(); err != nil {
			return nil, err
		}
	}

	segs := slices.Clone(e.segments)
	for _, seg := range segs {
		seg.IncRef()
	}

	job := &compactionJob{
		view:      newView(segs, e.tombstones, frozen, e.manifest, e.nextID),
		segmentID: e.nextSegmentID,
		lsn:       e.lsn,
		walGen:    e.walGen - 1,
	}
	e.nextSegmentID++
	return job, nil
}

func (e *Engine) rotateWALLocked() error {
	next := e.walGen + 1
	w, err := wal.Open(e.fs, filepath.Join(e.dir, wal.FileName(next)), wal.Options{Durability: e.durability})
	if err != nil {
		return fmt.Errorf("rotate wal: %w", err)
	}
	old := e.wal
	e.wal, e.walGen = w, next
	if err := old.Close(); err != nil {
		e.logger.Warn("Closing rotated WAL failed", "file", old.Path(), "error", err)
	}
	return nil
}

// Flush writes the buffered points into a new segment without merging
// existing segments. Buffered deletes become tombstones of the new segment.
func (e *Engine) Flush(ctx context.Context) (err error) {
	start := time.Now()
	var points int
	defer func() {
		e.metrics.OnFlush(time.Since(start), points, err)
	}()

	e.compactMu.Lock()
	defer e.compactMu.Unlock()

	job, err := e.freeze()
	if err != nil {
		return err
	}
	defer job.view.Release()

	frozen := job.view.Buffer()
	if frozen.Empty() {
		return nil
	}

	seg, err := e.writeSegment(ctx, "flush", job.segmentID, func(w *segment.Writer) error {
		return writeBuffer(ctx, w, frozen)
	}, frozen.Deleted())
	if err != nil {
		e.logger.Error("Flush failed", "segment", job.segmentID, "error", err)
		return err
	}
	points = seg.PointCount()

	if err := e.commit(ctx, "flush", job, seg, nil); err != nil {
		return err
	}

	e.logger.Info("Flush completed",
		"segment", job.segmentID,
		"points", points,
		"tombstones", frozen.Deleted().GetCardinality(),
		"duration", time.Since(start),
	)
	e.signalCompaction()
	return nil
}

// Compact merges the buffer snapshot and all segments into one segment,
// dropping deleted points. Deletes that arrive while it runs are kept in the
// buffer and applied by the next compaction. On failure the previous view
// stays in place and the error wraps ErrCompactionFailed.
func (e *Engine) Compact(ctx context.Context) (err error) {
	start := time.Now()
	var inputs, points int
	defer func() {
		e.metrics.OnCompaction(time.Since(start), inputs, points, err)
	}()

	e.compactMu.Lock()
	defer e.compactMu.Unlock()

	job, err := e.freeze()
	if err != nil {
		return err
	}
	defer job.view.Release()

	segs := job.view.Segments()
	frozen := job.view.Buffer()
	inputs = len(segs)

	if frozen.Empty() {
		if len(segs) == 0 || (len(segs) == 1 && segs[0].Tombstones().IsEmpty()) {
			return nil
		}
	}

	e.logger.Info("Compaction started", "segments", len(segs), "buffered", frozen.Len())

	var seg *RefCountedSegment
	if points = job.view.PointCount(); points > 0 {
		excluded := job.view.deletedSet()
		seg, err = e.writeSegment(ctx, "compaction", job.segmentID, func(w *segment.Writer) error {
			return merge(ctx, w, segs, frozen, excluded)
		}, nil)
		if err != nil {
			e.logger.Error("Compaction failed", "segment", job.segmentID, "error", err)
			return err
		}
	}

	if err := e.commit(ctx, "compaction", job, seg, segs); err != nil {
		return err
	}

	e.logger.Info("Compaction completed",
		"segments", len(segs),
		"segment", job.segmentID,
		"points", points,
		"duration", time.Since(start),
	)
	return nil
}

// writeBuffer writes the buffered posting lists and points.
func writeBuffer(ctx context.Context, w *segment.Writer, frozen *buffer.Frozen) error {
	var err error
	frozen.ForEachDimension(func(dim uint32, l posting.List) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		err = w.Add(dim, l.Elements)
		return err == nil
	})
	if err != nil {
		return err
	}
	frozen.Scan(func(id model.PointID, _ model.SparseVector) bool {
		w.AddPoints(id)
		return true
	})
	return nil
}

// merge writes the union of segs and frozen minus excluded, one dimension at
// a time in ascending order.
func merge(ctx context.Context, w *segment.Writer, segs []*RefCountedSegment, frozen *buffer.Frozen, excluded *roaring.Bitmap) error {
	dims := frozen.Dimensions()
	for _, seg := range segs {
		dims = append(dims, seg.Dimensions()...)
	}
	slices.Sort(dims)
	dims = slices.Compact(dims)

	var elems []posting.Element
	for _, dim := range dims {
		if err := ctx.Err(); err != nil {
			return err
		}

		elems = elems[:0]
		for _, seg := range segs {
			l, ok, err := seg.PostingList(dim)
			if err != nil {
				return fmt.Errorf("segment %d: %w", seg.ID(), err)
			}
			if ok {
				elems = appendLive(elems, l.Elements, excluded)
			}
		}
		elems = appendLive(elems, frozen.PostingList(dim).Elements, excluded)

		slices.SortFunc(elems, func(a, b posting.Element) int { return cmp.Compare(a.ID, b.ID) })
		if err := w.Add(dim, elems); err != nil {
			return err
		}
	}

	for _, seg := range segs {
		live := roaring.AndNot(seg.Points(), excluded)
		it := live.Iterator()
		for it.HasNext() {
			w.AddPoints(model.PointID(it.Next()))
		}
	}
	frozen.Scan(func(id model.PointID, _ model.SparseVector) bool {
		if !excluded.Contains(uint32(id)) {
			w.AddPoints(id)
		}
		return true
	})
	return nil
}

func appendLive(dst, src []posting.Element, excluded *roaring.Bitmap) []posting.Element {
	for _, el := range src {
		if !excluded.Contains(uint32(el.ID)) {
			dst = append(dst, el)
		}
	}
	return dst
}

// isTransient reports whether a failed attempt may succeed when retried.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrCorruptPostingList),
		errors.Is(err, ErrIntegrity),
		errors.Is(err, segment.ErrDimensionOrder),
		errors.Is(err, ErrClosed):
		return false
	}
	return true
}

// retry runs fn until it succeeds, fails permanently or the retry budget is
// spent. Failures are reported as *CompactionError.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt > e.retries || !isTransient(err) {
			return &CompactionError{Op: op, Attempts: attempt, Cause: err}
		}

		backoff := retryBackoff << (attempt - 1)
		e.logger.Warn("Retrying after transient failure",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return &CompactionError{Op: op, Attempts: attempt, Cause: ctx.Err()}
		case <-t.C:
		}
	}
}

// writeSegment builds, persists and opens segment id.
func (e *Engine) writeSegment(ctx context.Context, op string, id model.SegmentID, build func(*segment.Writer) error, tombstones *roaring.Bitmap) (*RefCountedSegment, error) {
	var seg *RefCountedSegment
	err := e.retry(ctx, op, func() error {
		var err error
		seg, err = e.tryWriteSegment(ctx, id, build, tombstones)
		return err
	})
	return seg, err
}

// tryWriteSegment writes to a temporary file, syncs it, renames it into place
// and syncs the directory. A failed attempt leaves no file behind.
func (e *Engine) tryWriteSegment(ctx context.Context, id model.SegmentID, build func(*segment.Writer) error, tombstones *roaring.Bitmap) (_ *RefCountedSegment, err error) {
	name := segmentFileName(id)
	path := filepath.Join(e.dir, name)
	tmpPath := path + ".tmp"

	f, err := e.fs.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	defer func() {
		if f != nil {
			_ = f.Close() // Intentionally ignore: cleanup path
		}
		if err != nil {
			_ = e.fs.Remove(tmpPath) // Intentionally ignore: best-effort cleanup
		}
	}()

	bw := bufio.NewWriterSize(resource.NewRateLimitedWriter(ctx, f, e.rc), 1<<20)
	sw := segment.NewWriter(bw, id, segment.WithWeightFormat(e.format))
	if err := build(sw); err != nil {
		return nil, err
	}
	info, err := sw.Finish(tombstones)
	if err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, err
	}
	closeErr := f.Close()
	f = nil
	if closeErr != nil {
		return nil, closeErr
	}

	if err := e.fs.Rename(tmpPath, path); err != nil {
		return nil, err
	}
	if err := fs.SyncDir(e.fs, e.dir); err != nil {
		_ = e.fs.Remove(path)
		return nil, err
	}

	s, err := segment.Open(path, segment.WithChecksum(info.Checksum))
	if err != nil {
		_ = e.fs.Remove(path)
		return nil, err
	}
	return newRefCountedSegment(s, manifest.SegmentInfo{
		ID:         id,
		Path:       name,
		Size:       info.Size,
		Checksum:   info.Checksum,
		PointCount: uint32(info.PointCount),
		Tombstones: uint32(info.Tombstones),
	}), nil
}

// commit saves a manifest with seg added and replaced removed, then swaps
// the view. seg may be nil when nothing survived. On failure seg is
// discarded and the current view is untouched, unless CURRENT already points
// at the new manifest, in which case the commit is adopted.
func (e *Engine) commit(ctx context.Context, op string, job *compactionJob, seg *RefCountedSegment, replaced []*RefCountedSegment) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	gone := make(map[model.SegmentID]bool, len(replaced))
	for _, s := range replaced {
		gone[s.ID()] = true
	}

	next := e.manifest.Clone()
	next.Segments = slices.DeleteFunc(next.Segments, func(info manifest.SegmentInfo) bool { return gone[info.ID] })
	if seg != nil {
		next.Segments = append(next.Segments, seg.Info())
	}
	next.NextSegmentID = e.nextSegmentID
	next.NextPointID = e.nextID
	next.MaxLSN = job.lsn

	if err := e.retry(ctx, op, func() error { return e.manifests.Save(ctx, next) }); err != nil {
		landed, ok := e.committedAnyway(ctx)
		if !ok {
			if seg != nil {
				e.discard(seg)
			}
			e.logger.Error("Manifest commit failed", "op", op, "error", err)
			return err
		}
		e.logger.Warn("Manifest commit reported an error but CURRENT was updated",
			"op", op,
			"manifest", landed.ID,
			"error", err,
		)
		next = landed
	}

	e.manifest = next
	e.active.Reset(job.view.Buffer())

	kept := e.segments[:0:0]
	for _, s := range e.segments {
		if gone[s.ID()] {
			e.discard(s)
			continue
		}
		kept = append(kept, s)
	}
	if seg != nil {
		kept = append(kept, seg)
	}
	slices.SortFunc(kept, func(a, b *RefCountedSegment) int { return cmp.Compare(a.ID(), b.ID()) })
	e.segments = kept
	e.tombstones = unionTombstones(kept)
	e.publishLocked()

	e.removeWALGenerations(job.walGen)
	if err := e.manifests.Prune(ctx, keepManifests); err != nil {
		e.logger.Warn("Pruning manifests failed", "error", err)
	}
	return nil
}

// committedAnyway reports whether a failed Save still repointed CURRENT, as
// happens when only the directory sync after the rename fails. Any manifest
// newer than the current one was written by the commit holding e.mu.
func (e *Engine) committedAnyway(ctx context.Context) (*manifest.Manifest, bool) {
	m, err := e.manifests.Load(context.WithoutCancel(ctx))
	if err != nil || m.ID <= e.manifest.ID {
		return nil, false
	}
	return m, true
}

// discard drops the engine reference of s and deletes its file once the
// last view holding it is released.
func (e *Engine) discard(s *RefCountedSegment) {
	path := s.Path()
	s.SetOnClose(func() {
		if err := e.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("Removing segment file failed", "file", path, "error", err)
		}
	})
	s.DecRef()
}

// removeWALGenerations deletes WAL files up to and including gen.
func (e *Engine) removeWALGenerations(gen uint64) {
	gens, err := wal.List(e.fs, e.dir)
	if err != nil {
		e.logger.Warn("Listing WAL files failed", "error", err)
		return
	}
	for _, g := range gens {
		if g > gen || g == e.walGen {
			continue
		}
		if err := e.fs.Remove(filepath.Join(e.dir, wal.FileName(g))); err != nil {
			e.logger.Warn("Removing WAL file failed", "generation", g, "error", err)
		}
	}
}
