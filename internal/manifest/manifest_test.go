package manifest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/sparsego/blobstore"
	"github.com/hupe1980/sparsego/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	return &Manifest{
		Version:       CurrentVersion,
		ID:            4,
		CreatedAt:     time.Unix(0, 1_700_000_000_000_000_000),
		WeightFormat:  1,
		NextSegmentID: 3,
		NextPointID:   42,
		MaxLSN:        123,
		Segments: []SegmentInfo{
			{ID: 1, Path: "segment_000001.sps", Size: 1024, Checksum: 0xdeadbeef, PointCount: 30, Tombstones: 2},
			{ID: 2, Path: "segment_000002.sps.zst", Size: 2048, Checksum: 7, PointCount: 12, Compression: CompressionZSTD},
		},
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	m := sampleManifest()

	var buf bytes.Buffer
	require.NoError(t, m.WriteBinary(&buf))

	got, err := ReadBinary(&buf)
	require.NoError(t, err)

	assert.Equal(t, m.ID, got.ID)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, m.NextPointID, got.NextPointID)
	assert.Equal(t, m.Segments, got.Segments)
	assert.Equal(t, uint64(42), got.PointCount())

	info, ok := got.Segment(2)
	require.True(t, ok)
	assert.Equal(t, CompressionZSTD, info.Compression)
	_, ok = got.Segment(9)
	assert.False(t, ok)
}

func TestReadBinary_Corruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleManifest().WriteBinary(&buf))
	data := buf.Bytes()

	t.Run("Checksum", func(t *testing.T) {
		c := bytes.Clone(data)
		c[len(c)-1] ^= 0x01
		_, err := ReadBinary(bytes.NewReader(c))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("Magic", func(t *testing.T) {
		c := bytes.Clone(data)
		c[0] ^= 0xFF
		_, err := ReadBinary(bytes.NewReader(c))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("Version", func(t *testing.T) {
		c := bytes.Clone(data)
		c[4] = 99
		_, err := ReadBinary(bytes.NewReader(c))
		assert.ErrorIs(t, err, ErrIncompatibleVersion)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := ReadBinary(bytes.NewReader(data[:len(data)-3]))
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewStore(blobstore.NewLocalStore(dir))

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	m := New(1)
	m.NextSegmentID = 100
	require.NoError(t, store.Save(ctx, m))
	assert.Equal(t, uint64(1), m.ID)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.ID)
	assert.Equal(t, model.SegmentID(100), loaded.NextSegmentID)
	assert.Equal(t, CurrentVersion, loaded.Version)

	current, err := os.ReadFile(filepath.Join(dir, CurrentFileName))
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000001.bin", string(current))

	m.NextPointID = 7
	require.NoError(t, store.Save(ctx, m))
	require.NoError(t, store.Save(ctx, m))
	assert.Equal(t, uint64(3), m.ID)

	ids, err := store.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	old, err := store.LoadVersion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.PointID(0), old.NextPointID)

	require.NoError(t, store.Prune(ctx, 2))
	ids, err = store.ListVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, ids)

	latest, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.ID)
	assert.Equal(t, model.PointID(7), latest.NextPointID)
}

func TestStore_LoadErrors(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	store := NewStore(mem)

	require.NoError(t, mem.Put(ctx, CurrentFileName, []byte("MANIFEST-999999.bin")))
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, mem.Put(ctx, CurrentFileName, []byte("garbage")))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, store.Save(ctx, New(1)))
	require.True(t, mem.Corrupt(FileName(1), 20))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestClone(t *testing.T) {
	m := sampleManifest()
	c := m.Clone()
	c.Segments[0].PointCount = 0
	c.Segments = append(c.Segments, SegmentInfo{ID: 9})

	assert.Equal(t, uint32(30), m.Segments[0].PointCount)
	assert.Len(t, m.Segments, 2)
}
