package posting

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sparsego/model"
)

func randomList(rng *rand.Rand, n int, maxGap int) []Element {
	elems := make([]Element, n)
	id := uint32(rng.Intn(maxGap))
	for i := range elems {
		elems[i] = Element{ID: model.PointID(id), Weight: rng.Float32()*20 - 10}
		id += uint32(1 + rng.Intn(maxGap))
	}
	return elems
}

func withinBound(t *testing.T, want, got float32) {
	t.Helper()
	bound := math.Max(math.Abs(float64(want))*math.Pow(2, -11), math.Pow(2, -25))
	assert.LessOrEqual(t, math.Abs(float64(got-want)), bound, "weight %v decoded as %v", want, got)
}

func TestCodec_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, tc := range []struct {
		name   string
		n, gap int
	}{
		{"empty", 0, 1},
		{"single", 1, 1000},
		{"dense", 1000, 1},
		{"one block", BlockSize, 7},
		{"block boundary", BlockSize + 1, 50},
		{"sparse", 777, 1 << 20},
	} {
		t.Run(tc.name, func(t *testing.T) {
			elems := randomList(rng, tc.n, tc.gap)
			data, err := Encode(NewList(elems))
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			require.Len(t, got.Elements, len(elems))
			for i, e := range elems {
				assert.Equal(t, e.ID, got.Elements[i].ID)
				withinBound(t, e.Weight, got.Elements[i].Weight)
				assert.GreaterOrEqual(t, got.MaxWeight, e.Weight)
				assert.GreaterOrEqual(t, got.MaxWeight, got.Elements[i].Weight)
				assert.LessOrEqual(t, got.MinWeight, e.Weight)
				assert.LessOrEqual(t, got.MinWeight, got.Elements[i].Weight)
			}
		})
	}
}

func TestCodec_Float32Exact(t *testing.T) {
	elems := randomList(rand.New(rand.NewSource(2)), 300, 9)
	data, err := EncodeFormat(NewList(elems), WeightFloat32)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, elems, got.Elements)
}

func TestCodec_SmallAndLargeWeights(t *testing.T) {
	elems := []Element{
		{ID: 1, Weight: 1e-9},
		{ID: 2, Weight: 3e-6},
		{ID: 3, Weight: 65504},
		{ID: 4, Weight: 1e6},
		{ID: 5, Weight: -1e6},
	}
	data, err := Encode(NewList(elems))
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	withinBound(t, elems[0].Weight, got.Elements[0].Weight)
	withinBound(t, elems[1].Weight, got.Elements[1].Weight)
	assert.Equal(t, float32(65504), got.Elements[2].Weight)
	// Out-of-range weights are clamped, never infinite.
	assert.Equal(t, float32(65504), got.Elements[3].Weight)
	assert.Equal(t, float32(-65504), got.Elements[4].Weight)
	// The stored bounds still cover the original weights.
	assert.Equal(t, float32(1e6), got.MaxWeight)
	assert.Equal(t, float32(-1e6), got.MinWeight)
}

func TestCodec_RejectsUnsorted(t *testing.T) {
	_, err := Encode(List{Elements: []Element{{ID: 5}, {ID: 5}}})
	assert.ErrorIs(t, err, ErrUnsorted)
	_, err = Encode(List{Elements: []Element{{ID: 5}, {ID: 3}}})
	assert.ErrorIs(t, err, ErrUnsorted)
	_, err = EncodeFormat(List{}, WeightFormat(9))
	assert.Error(t, err)
}

func TestDecodeAt(t *testing.T) {
	elems := randomList(rand.New(rand.NewSource(3)), 1000, 100)
	data, err := Encode(NewList(elems))
	require.NoError(t, err)

	for _, i := range []int{0, 1, 127, 128, 500, 999} {
		e, err := DecodeAt(data, i)
		require.NoError(t, err)
		assert.Equal(t, elems[i].ID, e.ID)
		withinBound(t, elems[i].Weight, e.Weight)
	}
	_, err = DecodeAt(data, 1000)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = DecodeAt(data, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDecode_Corrupt(t *testing.T) {
	elems := randomList(rand.New(rand.NewSource(4)), 300, 1000)
	good, err := Encode(NewList(elems))
	require.NoError(t, err)
	dirEnd := headerSize + 3*dirEntrySize

	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}

	cases := map[string][]byte{
		"short header": good[:10],
		"bad magic": mutate(func(b []byte) []byte {
			b[0] ^= 0xFF
			return b
		}),
		"unknown format": mutate(func(b []byte) []byte {
			b[2] = 7
			return b
		}),
		"count mismatch": mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[4:], 10)
			return b
		}),
		"bit width too large": mutate(func(b []byte) []byte {
			b[dirEnd] = 40
			return b
		}),
		"bit width disagrees with payload": mutate(func(b []byte) []byte {
			b[dirEnd]++
			return b
		}),
		"truncated payload": good[:len(good)-3],
		"trailing bytes":    append(append([]byte(nil), good...), 0),
		"directory last id": mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[headerSize:], 1)
			return b
		}),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.ErrorIs(t, err, ErrCorruptPostingList)
		})
	}
}

func TestCursor_NextAndAdvance(t *testing.T) {
	var elems []Element
	for i := 0; i < 1000; i++ {
		elems = append(elems, Element{ID: model.PointID(i * 3), Weight: 1})
	}
	data, err := Encode(NewList(elems))
	require.NoError(t, err)
	r, err := NewReader(data)
	require.NoError(t, err)
	assert.Equal(t, 1000, r.Len())
	assert.Equal(t, 8, r.NumBlocks())

	c := r.Cursor()
	n := 0
	for c.Next() {
		assert.Equal(t, elems[n].ID, c.ID())
		n++
	}
	require.NoError(t, c.Err())
	assert.Equal(t, 1000, n)
	assert.False(t, c.Next())

	c = r.Cursor()
	require.True(t, c.Advance(10))
	assert.Equal(t, model.PointID(12), c.ID())
	// Advancing to an id at or below the current one stays put.
	require.True(t, c.Advance(5))
	assert.Equal(t, model.PointID(12), c.ID())
	// Skip several blocks.
	require.True(t, c.Advance(2000))
	assert.Equal(t, model.PointID(2001), c.ID())
	require.True(t, c.Next())
	assert.Equal(t, model.PointID(2004), c.ID())
	require.True(t, c.Advance(2997))
	assert.Equal(t, model.PointID(2997), c.ID())
	assert.False(t, c.Advance(2998))
	assert.False(t, c.Next())
}

func TestCursor_Empty(t *testing.T) {
	data, err := Encode(List{})
	require.NoError(t, err)
	r, err := NewReader(data)
	require.NoError(t, err)
	c := r.Cursor()
	assert.False(t, c.Next())
	assert.False(t, c.Advance(0))
	assert.NoError(t, c.Err())
}

func TestCursor_StopsOnCorruptBlock(t *testing.T) {
	elems := randomList(rand.New(rand.NewSource(5)), 200, 10)
	data, err := Encode(NewList(elems))
	require.NoError(t, err)
	// Second block's bit width.
	r, err := NewReader(data)
	require.NoError(t, err)
	secondBlock := headerSize + 2*dirEntrySize + int(r.offset(1))
	data[secondBlock] = 33

	r, err = NewReader(data)
	require.NoError(t, err)
	c := r.Cursor()
	n := 0
	for c.Next() {
		n++
	}
	assert.Equal(t, BlockSize, n)
	assert.ErrorIs(t, c.Err(), ErrCorruptPostingList)
}

func TestBitpack(t *testing.T) {
	vals := []uint32{0, 1, 7, 1 << 20, 3}
	require.Equal(t, uint8(21), bitWidth(vals))
	for width := bitWidth(vals); width <= 32; width++ {
		packed := appendPacked(nil, vals, width)
		require.Len(t, packed, packedLen(len(vals), width))
		out := make([]uint32, len(vals))
		unpack(out, packed, width)
		assert.Equal(t, vals, out)
	}
	full := []uint32{math.MaxUint32, 0, 1}
	out := make([]uint32, len(full))
	unpack(out, appendPacked(nil, full, 32), 32)
	assert.Equal(t, full, out)

	assert.Equal(t, uint8(0), bitWidth([]uint32{0, 0}))
	assert.Empty(t, appendPacked(nil, []uint32{0, 0}, 0))
}
