package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/hupe1980/sparsego/internal/engine"
	"github.com/hupe1980/sparsego/internal/fs"
	"github.com/hupe1980/sparsego/model"
)

func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "segment_*"))
	require.NoError(t, err)
	return matches
}

func TestCompaction_MergesAndDropsDeleted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := openEngine(t, dir)

	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			_, err := e.Insert(ctx, vec(t, map[uint32]float32{1: float32(j + 1), uint32(10 + i): 1}))
			require.NoError(t, err)
		}
		require.NoError(t, e.Flush(ctx))
	}
	require.NoError(t, e.Delete(ctx, 1))
	require.NoError(t, e.Delete(ctx, 6))
	require.NoError(t, e.Flush(ctx))

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, st.Segments)
	assert.Equal(t, 2, st.Tombstones)
	assert.Equal(t, 10, st.LivePoints)

	require.NoError(t, e.Compact(ctx))

	st, err = e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, 10, st.SegmentPoints)
	assert.Equal(t, 0, st.Tombstones)
	assert.Equal(t, 10, st.LivePoints)
	assert.Len(t, segmentFiles(t, dir), 1)

	res, err := e.Search(ctx, vec(t, map[uint32]float32{1: 1}), 20)
	require.NoError(t, err)
	assert.Len(t, res, 10)
	for _, c := range res {
		assert.NotEqual(t, model.PointID(1), c.ID)
		assert.NotEqual(t, model.PointID(6), c.ID)
	}
}

func TestCompaction_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, t.TempDir())

	require.NoError(t, e.Compact(ctx))

	_, err := e.Insert(ctx, vec(t, map[uint32]float32{1: 1}))
	require.NoError(t, err)
	require.NoError(t, e.Compact(ctx))

	before, err := e.Stats()
	require.NoError(t, err)
	require.NoError(t, e.Compact(ctx))
	after, err := e.Stats()
	require.NoError(t, err)

	assert.Equal(t, before.ManifestID, after.ManifestID)
	assert.Equal(t, 1, after.Segments)
	assert.Equal(t, 1, after.LivePoints)
}

func TestCompaction_EverythingDeleted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := openEngine(t, dir)

	id, err := e.Insert(ctx, vec(t, map[uint32]float32{1: 1}))
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))
	require.NoError(t, e.Delete(ctx, id))
	require.NoError(t, e.Compact(ctx))

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Segments)
	assert.Equal(t, 0, st.LivePoints)
	assert.Empty(t, segmentFiles(t, dir))
}

func TestFlush_BufferedDeletesBecomeTombstones(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := openEngine(t, dir)

	old, err := e.Insert(ctx, vec(t, map[uint32]float32{1: 1}))
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))

	require.NoError(t, e.Delete(ctx, old))
	_, err = e.Insert(ctx, vec(t, map[uint32]float32{1: 2}))
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Segments)
	assert.Equal(t, 1, st.Tombstones)
	assert.Equal(t, 0, st.BufferedPoints)
	assert.Equal(t, 0, st.BufferUsed)
	assert.Equal(t, 1, st.LivePoints)

	// Tombstones survive a restart without any WAL left to replay.
	require.NoError(t, e.Close())
	e = openEngine(t, dir)

	res, err := e.Search(ctx, vec(t, map[uint32]float32{1: 1}), 5)
	require.NoError(t, err)
	assert.Equal(t, []model.Candidate{{ID: 1, Score: 2}}, res)
}

func TestFlush_RemovesCoveredWAL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := openEngine(t, dir)

	_, err := e.Insert(ctx, vec(t, map[uint32]float32{1: 1}))
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))

	logs, err := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestBuffer_RejectsWhenFull(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, t.TempDir(), engine.WithBufferCapacity(4))

	// An empty buffer takes a vector of any size.
	_, err := e.Insert(ctx, vec(t, map[uint32]float32{1: 1, 2: 1, 3: 1, 4: 1, 5: 1, 6: 1}))
	require.NoError(t, err)

	_, err = e.Insert(ctx, vec(t, map[uint32]float32{1: 1}))
	assert.ErrorIs(t, err, engine.ErrBufferFull)

	// Deletes are accepted regardless.
	require.NoError(t, e.Delete(ctx, 0))

	require.NoError(t, e.Flush(ctx))
	id, err := e.Insert(ctx, vec(t, map[uint32]float32{1: 1}))
	require.NoError(t, err)
	assert.Equal(t, model.PointID(1), id)
}

func TestBuffer_BlockOnFullFlushes(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, t.TempDir(), engine.WithBufferCapacity(4), engine.WithBlockOnFull(true))

	for i := 0; i < 3; i++ {
		_, err := e.Insert(ctx, vec(t, map[uint32]float32{1: 1, 2: 1}))
		require.NoError(t, err)
	}

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, 1, st.BufferedPoints)
	assert.Equal(t, 3, st.LivePoints)
}

func TestBackground_FlushWhenFull(t *testing.T) {
	ctx := context.Background()
	e, err := engine.Open(t.TempDir(), engine.WithBufferCapacity(4), engine.WithSegmentThreshold(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	for i := 0; i < 2; i++ {
		_, err := e.Insert(ctx, vec(t, map[uint32]float32{1: 1, 2: 1}))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		st, err := e.Stats()
		return err == nil && st.Segments == 1 && st.BufferedPoints == 0
	}, 5*time.Second, 10*time.Millisecond)

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.LivePoints)
}

func TestBackground_CompactsAtThreshold(t *testing.T) {
	ctx := context.Background()
	e, err := engine.Open(t.TempDir(), engine.WithSegmentThreshold(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	for i := 0; i < 2; i++ {
		_, err := e.Insert(ctx, vec(t, map[uint32]float32{1: float32(i + 1)}))
		require.NoError(t, err)
		require.NoError(t, e.Flush(ctx))
	}

	require.Eventually(t, func() bool {
		st, err := e.Stats()
		return err == nil && st.Segments == 1
	}, 5*time.Second, 10*time.Millisecond)

	res, err := e.Search(ctx, vec(t, map[uint32]float32{1: 1}), 5)
	require.NoError(t, err)
	assert.Equal(t, []model.Candidate{{ID: 1, Score: 2}, {ID: 0, Score: 1}}, res)
}

// gatedFS blocks the first segment write until release is closed.
type gatedFS struct {
	fs.FileSystem
	started chan struct{}
	release chan struct{}
	fired   atomic.Bool
}

func (g *gatedFS) OpenFile(name string, flag int, perm os.FileMode) (fs.File, error) {
	if strings.HasSuffix(name, ".sps.tmp") && g.fired.CompareAndSwap(false, true) {
		close(g.started)
		<-g.release
	}
	return g.FileSystem.OpenFile(name, flag, perm)
}

func TestCompaction_DeleteDuringCompaction(t *testing.T) {
	ctx := context.Background()
	gate := &gatedFS{
		FileSystem: fs.Default,
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	e := openEngine(t, t.TempDir(), engine.WithFileSystem(gate))

	for i := 0; i < 3; i++ {
		_, err := e.Insert(ctx, vec(t, map[uint32]float32{1: float32(i + 1)}))
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Compact(ctx) }()

	<-gate.started
	require.NoError(t, e.Delete(ctx, 2))
	close(gate.release)
	require.NoError(t, <-done)

	// The compacted segment still holds point 2; the pending delete hides it.
	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, 3, st.SegmentPoints)
	assert.Equal(t, 2, st.LivePoints)

	query := vec(t, map[uint32]float32{1: 1})
	want := []model.Candidate{{ID: 1, Score: 2}, {ID: 0, Score: 1}}
	res, err := e.Search(ctx, query, 5)
	require.NoError(t, err)
	assert.Equal(t, want, res)

	require.NoError(t, e.Compact(ctx))
	st, err = e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.SegmentPoints)
	assert.Equal(t, 0, st.BufferUsed)

	res, err = e.Search(ctx, query, 5)
	require.NoError(t, err)
	assert.Equal(t, want, res)
}
