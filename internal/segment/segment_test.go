package segment

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sparsego/internal/hash"
	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/model"
)

func buildSegment(t *testing.T, opts ...WriterOption) ([]byte, Info) {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, 7, opts...)
	require.NoError(t, w.Add(10, []posting.Element{{ID: 1, Weight: 1}, {ID: 2, Weight: 0.5}}))
	require.NoError(t, w.Add(20, []posting.Element{{ID: 1, Weight: 2}}))
	require.NoError(t, w.Add(25, nil))
	require.NoError(t, w.Add(30, []posting.Element{{ID: 2, Weight: 1}}))
	w.AddPoints(3)

	tombs := roaring.BitmapOf(99)
	info, err := w.Finish(tombs)
	require.NoError(t, err)
	return buf.Bytes(), info
}

func TestSegment_WriteOpen(t *testing.T) {
	data, info := buildSegment(t)
	assert.Equal(t, model.SegmentID(7), info.ID)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, 3, info.NumDims)
	assert.Equal(t, 3, info.PointCount)
	assert.Equal(t, 1, info.Tombstones)

	path := filepath.Join(t.TempDir(), "segment.sps")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := Open(path, WithChecksum(info.Checksum))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, model.SegmentID(7), s.ID())
	assert.Equal(t, path, s.Path())
	assert.Equal(t, []uint32{10, 20, 30}, s.Dimensions())
	assert.Equal(t, 3, s.PointCount())
	assert.True(t, s.Contains(3))
	assert.True(t, s.IsDeleted(99))
	assert.False(t, s.IsDeleted(1))
	assert.Equal(t, posting.WeightFloat16, s.WeightFormat())

	l, ok, err := s.PostingList(10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []posting.Element{{ID: 1, Weight: 1}, {ID: 2, Weight: 0.5}}, l.Elements)
	assert.Equal(t, float32(1), l.MaxWeight)

	_, ok, err = s.PostingList(25)
	require.NoError(t, err)
	assert.False(t, ok)

	r, ok, err := s.Postings(30)
	require.NoError(t, err)
	require.True(t, ok)
	c := r.Cursor()
	require.True(t, c.Next())
	assert.Equal(t, model.PointID(2), c.ID())

	_, ok, err = s.Postings(1000)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Verify(info.Checksum))
}

func TestSegment_Empty(t *testing.T) {
	var buf bytes.Buffer
	info, err := NewWriter(&buf, 1).Finish(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, info.NumDims)

	s, err := Load(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, s.Dimensions())
	assert.Equal(t, 0, s.PointCount())
	require.NoError(t, s.Close())
}

func TestSegment_DimensionOrder(t *testing.T) {
	w := NewWriter(&bytes.Buffer{}, 1)
	require.NoError(t, w.Add(5, []posting.Element{{ID: 1, Weight: 1}}))
	assert.ErrorIs(t, w.Add(5, []posting.Element{{ID: 2, Weight: 1}}), ErrDimensionOrder)
	assert.ErrorIs(t, w.Add(4, []posting.Element{{ID: 2, Weight: 1}}), ErrDimensionOrder)
	assert.ErrorIs(t, w.Add(6, []posting.Element{{ID: 2}, {ID: 1}}), posting.ErrUnsorted)
}

func TestSegment_Float32Weights(t *testing.T) {
	data, _ := buildSegment(t, WithWeightFormat(posting.WeightFloat32))
	s, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, posting.WeightFloat32, s.WeightFormat())
	l, _, err := s.PostingList(20)
	require.NoError(t, err)
	assert.Equal(t, float32(2), l.Elements[0].Weight)
}

func TestSegment_Integrity(t *testing.T) {
	data, info := buildSegment(t)

	flip := func(off int) []byte {
		b := append([]byte(nil), data...)
		b[off] ^= 0x01
		return b
	}

	// Header, directory and trailer damage is caught on open.
	for name, off := range map[string]int{
		"header":    9,
		"directory": len(data) - trailerSize - 3,
		"trailer":   len(data) - 1,
		"meta crc":  len(data) - trailerSize + 36,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(flip(off))
			assert.ErrorIs(t, err, ErrIntegrity)
		})
	}

	// Posting damage passes the metadata check but not the full checksum.
	damaged := flip(headerSize + 2)
	s, err := Load(damaged)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Verify(info.Checksum), ErrIntegrity)
	_, err = Load(damaged, WithChecksum(info.Checksum))
	assert.ErrorIs(t, err, ErrIntegrity)

	_, err = Load(data[:10])
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestSegment_DirectoryOffsetWraps(t *testing.T) {
	data, _ := buildSegment(t)
	b := append([]byte(nil), data...)
	end := uint64(len(b) - trailerSize)
	tr, err := decodeTrailer(b[end:])
	require.NoError(t, err)

	// off+n wraps around to a small value that looks in range.
	entry := b[tr.DirOff:]
	binary.LittleEndian.PutUint64(entry[4:], math.MaxUint64-4)
	binary.LittleEndian.PutUint32(entry[12:], 16)

	tr.MetaCRC = hash.UpdateCRC32C(hash.CRC32C(b[:headerSize]), b[tr.PointsOff:end])
	copy(b[end:], tr.encode())

	_, err = Load(b)
	assert.ErrorIs(t, err, ErrIntegrity)
}
