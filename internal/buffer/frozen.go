package buffer

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tidwall/btree"

	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/model"
)

// Frozen is an immutable view of a Buffer.
type Frozen struct {
	vectors    *btree.Map[model.PointID, model.SparseVector]
	postings   *btree.BTreeG[entry]
	deleted    *roaring.Bitmap
	numEntries int
}

// Len returns the number of buffered points.
func (f *Frozen) Len() int { return f.vectors.Len() }

// NumEntries returns the number of non-zero weights.
func (f *Frozen) NumEntries() int { return f.numEntries }

// Empty reports whether the view holds neither points nor deletes.
func (f *Frozen) Empty() bool {
	return f.vectors.Len() == 0 && f.deleted.IsEmpty()
}

// IsDeleted reports whether id was deleted.
func (f *Frozen) IsDeleted(id model.PointID) bool {
	return f.deleted.Contains(uint32(id))
}

// Deleted returns the delete set. Callers must not modify it.
func (f *Frozen) Deleted() *roaring.Bitmap { return f.deleted }

// Vector returns the vector buffered for id.
func (f *Frozen) Vector(id model.PointID) (model.SparseVector, bool) {
	return f.vectors.Get(id)
}

// Scan calls fn for every buffered point in ascending id order.
func (f *Frozen) Scan(fn func(id model.PointID, v model.SparseVector) bool) {
	f.vectors.Scan(fn)
}

// PostingList builds the posting list for dim.
func (f *Frozen) PostingList(dim uint32) posting.List {
	var elems []posting.Element
	f.postings.Ascend(entry{dim: dim}, func(e entry) bool {
		if e.dim != dim {
			return false
		}
		elems = append(elems, posting.Element{ID: e.id, Weight: e.weight})
		return true
	})
	return posting.NewList(elems)
}

// ForEachDimension calls fn with each dimension's posting list in ascending
// dimension order.
func (f *Frozen) ForEachDimension(fn func(dim uint32, l posting.List) bool) {
	var (
		cur   uint32
		elems []posting.Element
	)
	stopped := false
	f.postings.Scan(func(e entry) bool {
		if len(elems) > 0 && e.dim != cur {
			if !fn(cur, posting.NewList(elems)) {
				stopped = true
				return false
			}
			elems = nil
		}
		cur = e.dim
		elems = append(elems, posting.Element{ID: e.id, Weight: e.weight})
		return true
	})
	if !stopped && len(elems) > 0 {
		fn(cur, posting.NewList(elems))
	}
}

// Dimensions returns the buffered dimensions in ascending order.
func (f *Frozen) Dimensions() []uint32 {
	var dims []uint32
	f.postings.Scan(func(e entry) bool {
		if len(dims) == 0 || dims[len(dims)-1] != e.dim {
			dims = append(dims, e.dim)
		}
		return true
	})
	return dims
}
