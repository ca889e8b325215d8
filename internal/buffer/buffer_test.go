package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/model"
)

func vec(t *testing.T, m map[uint32]float32) model.SparseVector {
	t.Helper()
	v, err := model.NewSparseVector(m)
	require.NoError(t, err)
	return v
}

func TestBuffer_InsertAndPostingList(t *testing.T) {
	b := New(0)
	require.NoError(t, b.Insert(2, vec(t, map[uint32]float32{10: 0.5, 30: 1})))
	require.NoError(t, b.Insert(1, vec(t, map[uint32]float32{10: 1, 20: 2})))
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 4, b.Used())
	assert.False(t, b.Full())

	f := b.Snapshot()
	l := f.PostingList(10)
	assert.Equal(t, []posting.Element{{ID: 1, Weight: 1}, {ID: 2, Weight: 0.5}}, l.Elements)
	assert.Equal(t, float32(1), l.MaxWeight)
	assert.Equal(t, float32(0.5), l.MinWeight)
	assert.Empty(t, f.PostingList(99).Elements)
	assert.Equal(t, []uint32{10, 20, 30}, f.Dimensions())

	err := b.Insert(1, vec(t, map[uint32]float32{1: 1}))
	assert.ErrorIs(t, err, ErrDuplicatePoint)
}

func TestBuffer_Delete(t *testing.T) {
	b := New(0)
	require.NoError(t, b.Insert(1, vec(t, map[uint32]float32{10: 1, 20: 2})))
	require.NoError(t, b.Insert(2, vec(t, map[uint32]float32{10: 0.5})))

	before := b.Snapshot()
	b.Delete(1)
	b.Delete(42) // not buffered: lives in a segment

	after := b.Snapshot()
	assert.True(t, after.IsDeleted(1))
	assert.True(t, after.IsDeleted(42))
	assert.Equal(t, []posting.Element{{ID: 2, Weight: 0.5}}, after.PostingList(10).Elements)
	assert.Empty(t, after.PostingList(20).Elements)
	_, ok := after.Vector(1)
	assert.False(t, ok)
	assert.Equal(t, 1, after.NumEntries())
	assert.Equal(t, uint64(2), after.Deleted().GetCardinality())

	// The earlier snapshot is unaffected.
	assert.False(t, before.IsDeleted(1))
	assert.Len(t, before.PostingList(10).Elements, 2)
	v, ok := before.Vector(1)
	require.True(t, ok)
	assert.Equal(t, []uint32{10, 20}, v.Indices)
}

func TestBuffer_Capacity(t *testing.T) {
	b := New(3)
	// An empty buffer accepts anything so progress is always possible.
	require.NoError(t, b.Insert(1, vec(t, map[uint32]float32{1: 1, 2: 1, 3: 1, 4: 1})))
	assert.True(t, b.Full())
	assert.ErrorIs(t, b.Insert(2, vec(t, map[uint32]float32{1: 1})), ErrBufferFull)

	b2 := New(3)
	require.NoError(t, b2.Insert(1, vec(t, map[uint32]float32{1: 1})))
	b2.Delete(7)
	require.NoError(t, b2.Insert(2, vec(t, map[uint32]float32{1: 1})))
	assert.ErrorIs(t, b2.Insert(3, vec(t, map[uint32]float32{1: 1})), ErrBufferFull)
	// Deletes are always accepted.
	b2.Delete(8)
	assert.Equal(t, 4, b2.Used())
	assert.Equal(t, 3, b2.Capacity())
}

func TestFrozen_ForEachDimension(t *testing.T) {
	b := New(0)
	require.NoError(t, b.Insert(1, vec(t, map[uint32]float32{10: 1, 20: 2})))
	require.NoError(t, b.Insert(2, vec(t, map[uint32]float32{10: 0.5, 30: 1})))
	require.NoError(t, b.Insert(3, model.SparseVector{}))
	f := b.Snapshot()

	var dims []uint32
	var sizes []int
	f.ForEachDimension(func(dim uint32, l posting.List) bool {
		dims = append(dims, dim)
		sizes = append(sizes, l.Len())
		return true
	})
	assert.Equal(t, []uint32{10, 20, 30}, dims)
	assert.Equal(t, []int{2, 1, 1}, sizes)

	n := 0
	f.ForEachDimension(func(uint32, posting.List) bool {
		n++
		return false
	})
	assert.Equal(t, 1, n)

	var ids []model.PointID
	f.Scan(func(id model.PointID, _ model.SparseVector) bool {
		ids = append(ids, id)
		return true
	})
	assert.Equal(t, []model.PointID{1, 2, 3}, ids)
	assert.Equal(t, 3, f.Len())
	assert.False(t, f.Empty())
	assert.True(t, New(0).Snapshot().Empty())
}

func TestBuffer_ConcurrentSnapshots(t *testing.T) {
	b := New(0)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = b.Insert(model.PointID(i), model.SparseVector{Indices: []uint32{uint32(i % 7)}, Values: []float32{1}})
			if i%10 == 0 {
				b.Delete(model.PointID(i))
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			f := b.Snapshot()
			l := f.PostingList(3)
			assert.NoError(t, l.Validate())
			for _, e := range l.Elements {
				assert.False(t, f.IsDeleted(e.ID))
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 900, b.Len())
}

func TestBuffer_Reset(t *testing.T) {
	b := New(0)
	require.NoError(t, b.Insert(1, vec(t, map[uint32]float32{10: 1})))
	require.NoError(t, b.Insert(2, vec(t, map[uint32]float32{10: 2})))
	b.Delete(40)

	frozen := b.Snapshot()

	// Writes after the snapshot survive the reset.
	require.NoError(t, b.Insert(3, vec(t, map[uint32]float32{10: 3})))
	b.Delete(2)
	b.Delete(41)

	b.Reset(frozen)

	snap := b.Snapshot()
	assert.Equal(t, 1, snap.Len())
	_, ok := snap.Vector(3)
	assert.True(t, ok)
	assert.False(t, snap.IsDeleted(40))
	assert.True(t, snap.IsDeleted(2))
	assert.True(t, snap.IsDeleted(41))
	assert.Equal(t, []posting.Element{{ID: 3, Weight: 3}}, snap.PostingList(10).Elements)
	assert.Equal(t, 3, b.Used())

	// The consumed view is untouched.
	assert.Equal(t, 2, frozen.Len())
	assert.True(t, frozen.IsDeleted(40))
}

func TestBuffer_RestoreIgnoresCapacity(t *testing.T) {
	b := New(2)
	require.NoError(t, b.Insert(1, vec(t, map[uint32]float32{1: 1, 2: 1})))
	assert.False(t, b.Fits(1))
	assert.ErrorIs(t, b.Insert(2, vec(t, map[uint32]float32{1: 1})), ErrBufferFull)

	require.NoError(t, b.Restore(2, vec(t, map[uint32]float32{1: 1})))
	assert.Equal(t, 2, b.Len())
	assert.ErrorIs(t, b.Restore(2, vec(t, map[uint32]float32{1: 1})), ErrDuplicatePoint)
}
