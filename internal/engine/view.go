package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sparsego/internal/buffer"
	"github.com/hupe1980/sparsego/internal/manifest"
	"github.com/hupe1980/sparsego/internal/search"
	"github.com/hupe1980/sparsego/internal/segment"
	"github.com/hupe1980/sparsego/model"
)

// RefCountedSegment wraps a Segment with a reference count.
type RefCountedSegment struct {
	*segment.Segment
	info    manifest.SegmentInfo
	refs    atomic.Int64
	onClose atomic.Pointer[func()]
}

func newRefCountedSegment(seg *segment.Segment, info manifest.SegmentInfo) *RefCountedSegment {
	r := &RefCountedSegment{Segment: seg, info: info}
	r.refs.Store(1)
	return r
}

// Info returns the manifest entry of the segment.
func (r *RefCountedSegment) Info() manifest.SegmentInfo { return r.info }

func (r *RefCountedSegment) IncRef() {
	r.refs.Add(1)
}

// DecRef drops a reference. The last one unmaps the file and runs the
// close callback.
func (r *RefCountedSegment) DecRef() {
	if r.refs.Add(-1) == 0 {
		_ = r.Segment.Close()
		if f := r.onClose.Load(); f != nil {
			(*f)()
		}
	}
}

// SetOnClose sets a callback that runs after the segment is closed.
// It is used to delete files of replaced segments.
func (r *RefCountedSegment) SetOnClose(f func()) {
	r.onClose.Store(&f)
}

type segmentSource struct{ seg *RefCountedSegment }

func (s segmentSource) Postings(dim uint32) (search.Postings, bool, error) {
	r, ok, err := s.seg.Segment.Postings(dim)
	if err != nil || !ok {
		return search.Postings{}, false, err
	}
	return search.ReaderPostings(r), true, nil
}

type bufferSource struct{ frozen *buffer.Frozen }

func (s bufferSource) Postings(dim uint32) (search.Postings, bool, error) {
	l := s.frozen.PostingList(dim)
	if l.Len() == 0 {
		return search.Postings{}, false, nil
	}
	return search.ListPostings(l), true, nil
}

// View is an immutable, consistent state of the index: a segment list and
// a frozen buffer. Views are reference counted; every CurrentView must be
// paired with Release.
type View struct {
	refs       atomic.Int64
	segments   []*RefCountedSegment // ascending id
	tombstones *roaring.Bitmap      // union of segment tombstones
	buffer     *buffer.Frozen
	manifest   *manifest.Manifest
	nextID     model.PointID

	deletedOnce sync.Once
	deleted     *roaring.Bitmap
}

// newView takes over one reference of every segment.
func newView(segments []*RefCountedSegment, tombstones *roaring.Bitmap, frozen *buffer.Frozen, m *manifest.Manifest, nextID model.PointID) *View {
	v := &View{
		segments:   segments,
		tombstones: tombstones,
		buffer:     frozen,
		manifest:   m,
		nextID:     nextID,
	}
	v.refs.Store(1)
	return v
}

// TryIncRef attempts to increment the reference count.
// Returns false if the view is already released (refs == 0).
func (v *View) TryIncRef() bool {
	for {
		refs := v.refs.Load()
		if refs <= 0 {
			return false
		}
		if v.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Release drops a reference. Segments of the last reference are released.
func (v *View) Release() {
	if v.refs.Add(-1) == 0 {
		for _, seg := range v.segments {
			seg.DecRef()
		}
	}
}

// Segments returns the segments in ascending id order.
func (v *View) Segments() []*RefCountedSegment { return v.segments }

// Buffer returns the frozen buffer contents.
func (v *View) Buffer() *buffer.Frozen { return v.buffer }

// Manifest returns the committed manifest the segments belong to.
// Callers must not modify it.
func (v *View) Manifest() *manifest.Manifest { return v.manifest }

// NextID returns the first point id not handed out when the view was taken.
func (v *View) NextID() model.PointID { return v.nextID }

// deletedSet is the union of all segment tombstones and buffered deletes.
func (v *View) deletedSet() *roaring.Bitmap {
	v.deletedOnce.Do(func() {
		if v.buffer == nil || v.buffer.Deleted().IsEmpty() {
			v.deleted = v.tombstones
			return
		}
		v.deleted = roaring.Or(v.tombstones, v.buffer.Deleted())
	})
	return v.deleted
}

// IsDeleted reports whether id is tombstoned in any segment or deleted in
// the buffer.
func (v *View) IsDeleted(id model.PointID) bool {
	return v.deletedSet().Contains(uint32(id))
}

// PointCount returns the number of live points.
func (v *View) PointCount() int {
	all := roaring.New()
	for _, seg := range v.segments {
		all.Or(seg.Points())
	}
	if v.buffer != nil {
		v.buffer.Scan(func(id model.PointID, _ model.SparseVector) bool {
			all.Add(uint32(id))
			return true
		})
	}
	all.AndNot(v.deletedSet())
	return int(all.GetCardinality())
}

// Contains reports whether id is a live point of the view.
func (v *View) Contains(id model.PointID) bool {
	if v.IsDeleted(id) {
		return false
	}
	if v.buffer != nil {
		if _, ok := v.buffer.Vector(id); ok {
			return true
		}
	}
	for _, seg := range v.segments {
		if seg.Contains(id) {
			return true
		}
	}
	return false
}

func (v *View) sources() []search.Source {
	sources := make([]search.Source, 0, len(v.segments)+1)
	for _, seg := range v.segments {
		sources = append(sources, segmentSource{seg: seg})
	}
	if v.buffer != nil && v.buffer.NumEntries() > 0 {
		sources = append(sources, bufferSource{frozen: v.buffer})
	}
	return sources
}

// Search runs a top-k query against the view. query must be canonical.
func (v *View) Search(ctx context.Context, query model.SparseVector, k int) ([]model.Candidate, search.Stats, error) {
	deleted := v.deletedSet()
	req := search.Request{Query: query, K: k}
	if !deleted.IsEmpty() {
		req.Deleted = func(id model.PointID) bool { return deleted.Contains(uint32(id)) }
	}
	return search.Search(ctx, v.sources(), req)
}
