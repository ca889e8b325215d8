package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tidwall/btree"

	"github.com/hupe1980/sparsego/model"
)

var (
	// ErrBufferFull is returned when an insert would exceed the element cap.
	ErrBufferFull = errors.New("buffer: full")
	// ErrDuplicatePoint is returned when inserting an id that is already buffered.
	ErrDuplicatePoint = errors.New("buffer: point already present")
)

// entry is one non-zero weight, ordered by dimension then point.
type entry struct {
	dim    uint32
	id     model.PointID
	weight float32
}

func entryLess(a, b entry) bool {
	if a.dim != b.dim {
		return a.dim < b.dim
	}
	return a.id < b.id
}

// Buffer is the mutable write buffer. It is safe for concurrent use.
type Buffer struct {
	mu         sync.Mutex
	capacity   int
	vectors    *btree.Map[model.PointID, model.SparseVector]
	postings   *btree.BTreeG[entry]
	deleted    *roaring.Bitmap
	shared     bool // deleted is referenced by a snapshot
	numEntries int
}

// New returns an empty buffer that holds at most capacity elements.
// Every non-zero weight and every delete counts as one element.
// A capacity <= 0 means unbounded.
func New(capacity int) *Buffer {
	return &Buffer{
		capacity: capacity,
		vectors:  new(btree.Map[model.PointID, model.SparseVector]),
		postings: btree.NewBTreeGOptions(entryLess, btree.Options{NoLocks: true}),
		deleted:  roaring.New(),
	}
}

// Insert adds a canonical vector under id. The vector is owned by the buffer
// afterwards. An empty buffer accepts a vector of any size.
func (b *Buffer) Insert(id model.PointID, v model.SparseVector) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.fits(v.Len()) {
		return ErrBufferFull
	}
	return b.insert(id, v)
}

// Restore inserts without enforcing the capacity. Recovery uses it to
// rebuild a buffer that was full when the process stopped.
func (b *Buffer) Restore(id model.PointID, v model.SparseVector) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.insert(id, v)
}

func (b *Buffer) insert(id model.PointID, v model.SparseVector) error {
	if _, ok := b.vectors.Get(id); ok {
		return fmt.Errorf("%w: %d", ErrDuplicatePoint, id)
	}

	b.vectors.Set(id, v)
	for i, dim := range v.Indices {
		b.postings.Set(entry{dim: dim, id: id, weight: v.Values[i]})
	}
	b.numEntries += v.Len()
	return nil
}

// Fits reports whether a vector with n non-zero weights would be accepted.
func (b *Buffer) Fits(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fits(n)
}

func (b *Buffer) fits(n int) bool {
	used := b.used()
	return b.capacity <= 0 || used == 0 || used+n <= b.capacity
}

// Delete marks id deleted. If the point is buffered its vector is dropped.
// Deletes are never rejected.
func (b *Buffer) Delete(id model.PointID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if v, ok := b.vectors.Delete(id); ok {
		for _, dim := range v.Indices {
			b.postings.Delete(entry{dim: dim, id: id})
		}
		b.numEntries -= v.Len()
	}
	if b.shared {
		b.deleted = b.deleted.Clone()
		b.shared = false
	}
	b.deleted.Add(uint32(id))
}

func (b *Buffer) used() int {
	return b.numEntries + int(b.deleted.GetCardinality())
}

// Len returns the number of buffered points.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vectors.Len()
}

// Used returns the number of elements counted against the capacity.
func (b *Buffer) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used()
}

// Capacity returns the element cap, or 0 when unbounded.
func (b *Buffer) Capacity() int { return b.capacity }

// Full reports whether the buffer has reached its capacity.
func (b *Buffer) Full() bool {
	if b.capacity <= 0 {
		return false
	}
	return b.Used() >= b.capacity
}

// Snapshot returns an immutable view of the current contents.
func (b *Buffer) Snapshot() *Frozen {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shared = true
	return &Frozen{
		vectors:    b.vectors.Copy(),
		postings:   b.postings.Copy(),
		deleted:    b.deleted,
		numEntries: b.numEntries,
	}
}

// Reset drops everything a compaction consumed: the points of the frozen
// view and the deletes it folded. Writes made after the snapshot stay.
func (b *Buffer) Reset(consumed *Frozen) {
	b.mu.Lock()
	defer b.mu.Unlock()

	consumed.vectors.Scan(func(id model.PointID, _ model.SparseVector) bool {
		if v, ok := b.vectors.Delete(id); ok {
			for _, dim := range v.Indices {
				b.postings.Delete(entry{dim: dim, id: id})
			}
			b.numEntries -= v.Len()
		}
		return true
	})

	if consumed.deleted.IsEmpty() {
		return
	}
	b.deleted = roaring.AndNot(b.deleted, consumed.deleted)
	b.shared = false
}
