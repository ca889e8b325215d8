package search

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/model"
)

// memSource serves posting lists built from a set of vectors.
type memSource struct {
	lists   map[uint32]posting.List
	encoded bool
	err     error
}

func newSource(t *testing.T, encoded bool, points map[model.PointID]model.SparseVector) *memSource {
	t.Helper()
	ids := make([]model.PointID, 0, len(points))
	for id := range points {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	byDim := map[uint32][]posting.Element{}
	for _, id := range ids {
		v := points[id]
		for i, d := range v.Indices {
			byDim[d] = append(byDim[d], posting.Element{ID: id, Weight: v.Values[i]})
		}
	}
	s := &memSource{lists: map[uint32]posting.List{}, encoded: encoded}
	for d, elems := range byDim {
		s.lists[d] = posting.NewList(elems)
	}
	return s
}

func (s *memSource) Postings(dim uint32) (Postings, bool, error) {
	if s.err != nil {
		return Postings{}, false, s.err
	}
	l, ok := s.lists[dim]
	if !ok {
		return Postings{}, false, nil
	}
	if !s.encoded {
		return ListPostings(l), true, nil
	}
	data, err := posting.EncodeFormat(l, posting.WeightFloat32)
	if err != nil {
		return Postings{}, false, err
	}
	r, err := posting.NewReader(data)
	if err != nil {
		return Postings{}, false, err
	}
	return ReaderPostings(r), true, nil
}

func sv(t *testing.T, m map[uint32]float32) model.SparseVector {
	t.Helper()
	v, err := model.NewSparseVector(m)
	require.NoError(t, err)
	return v
}

func bruteForce(query model.SparseVector, points map[model.PointID]model.SparseVector, deleted map[model.PointID]bool, k int) []model.Candidate {
	top := NewTopK(k)
	for id, v := range points {
		if deleted[id] {
			continue
		}
		shares := false
		for _, d := range query.Indices {
			if _, ok := v.Get(d); ok {
				shares = true
				break
			}
		}
		if shares {
			top.Offer(model.Candidate{ID: id, Score: model.Dot(query, v)})
		}
	}
	return top.Results()
}

func TestSearch_Scenario(t *testing.T) {
	points := map[model.PointID]model.SparseVector{
		1: sv(t, map[uint32]float32{10: 1, 20: 2}),
		2: sv(t, map[uint32]float32{10: 0.5, 30: 1}),
	}
	src := newSource(t, false, points)
	q := sv(t, map[uint32]float32{10: 1, 20: 1})

	got, _, err := Search(context.Background(), []Source{src}, Request{Query: q, K: 2})
	require.NoError(t, err)
	assert.Equal(t, []model.Candidate{{ID: 1, Score: 3}, {ID: 2, Score: 0.5}}, got)

	got, _, err = Search(context.Background(), []Source{src}, Request{
		Query:   q,
		K:       2,
		Deleted: func(id model.PointID) bool { return id == 1 },
	})
	require.NoError(t, err)
	assert.Equal(t, []model.Candidate{{ID: 2, Score: 0.5}}, got)

	got, _, err = Search(context.Background(), []Source{src}, Request{Query: sv(t, map[uint32]float32{99: 1}), K: 2})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_EdgeCases(t *testing.T) {
	src := newSource(t, false, map[model.PointID]model.SparseVector{1: sv(t, map[uint32]float32{1: 1})})

	_, _, err := Search(context.Background(), []Source{src}, Request{Query: sv(t, map[uint32]float32{1: 1}), K: 0})
	assert.ErrorIs(t, err, ErrInvalidK)

	got, _, err := Search(context.Background(), []Source{src}, Request{K: 3})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, _, err = Search(context.Background(), nil, Request{Query: sv(t, map[uint32]float32{1: 1}), K: 3})
	require.NoError(t, err)
	assert.Empty(t, got)

	boom := errors.New("boom")
	_, _, err = Search(context.Background(), []Source{&memSource{err: boom}}, Request{Query: sv(t, map[uint32]float32{1: 1}), K: 1})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = Search(ctx, []Source{src}, Request{Query: sv(t, map[uint32]float32{1: 1}), K: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_TiesPreferSmallerID(t *testing.T) {
	points := map[model.PointID]model.SparseVector{}
	for id := model.PointID(1); id <= 20; id++ {
		points[id] = sv(t, map[uint32]float32{5: 1})
	}
	// Two sources so the tied points come from different cursors.
	a, b := map[model.PointID]model.SparseVector{}, map[model.PointID]model.SparseVector{}
	for id, v := range points {
		if id%2 == 0 {
			a[id] = v
		} else {
			b[id] = v
		}
	}
	got, _, err := Search(context.Background(), []Source{newSource(t, true, a), newSource(t, false, b)},
		Request{Query: sv(t, map[uint32]float32{5: 2}), K: 3})
	require.NoError(t, err)
	assert.Equal(t, []model.Candidate{{ID: 1, Score: 2}, {ID: 2, Score: 2}, {ID: 3, Score: 2}}, got)
}

func TestSearch_NegativeWeights(t *testing.T) {
	points := map[model.PointID]model.SparseVector{
		1: sv(t, map[uint32]float32{1: -2, 2: 1}),
		2: sv(t, map[uint32]float32{1: -0.5}),
		3: sv(t, map[uint32]float32{2: 0.25}),
	}
	q := sv(t, map[uint32]float32{1: -1, 2: 1})
	got, _, err := Search(context.Background(), []Source{newSource(t, true, points)}, Request{Query: q, K: 2})
	require.NoError(t, err)
	assert.Equal(t, []model.Candidate{{ID: 1, Score: 3}, {ID: 2, Score: 0.5}}, got)
}

func TestSearch_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const numPoints, dims = 3000, 200

	sources := make([]map[model.PointID]model.SparseVector, 4)
	for i := range sources {
		sources[i] = map[model.PointID]model.SparseVector{}
	}
	all := map[model.PointID]model.SparseVector{}
	deleted := map[model.PointID]bool{}
	for id := model.PointID(0); id < numPoints; id++ {
		m := map[uint32]float32{}
		for j := 0; j < 1+rng.Intn(12); j++ {
			// Skewed dimensions give lists of very different lengths.
			d := uint32(rng.ExpFloat64() * 30) % dims
			m[d] = float32(rng.Intn(64)-8) / 16
		}
		v := sv(t, m)
		all[id] = v
		sources[rng.Intn(len(sources))][id] = v
		if rng.Intn(10) == 0 {
			deleted[id] = true
		}
	}
	srcs := make([]Source, len(sources))
	for i, pts := range sources {
		srcs[i] = newSource(t, i%2 == 0, pts)
	}

	for trial := 0; trial < 50; trial++ {
		m := map[uint32]float32{}
		for j := 0; j < 1+rng.Intn(6); j++ {
			m[uint32(rng.Intn(dims/2))] = float32(rng.Intn(32)-4) / 8
		}
		q := sv(t, m)
		k := 1 + rng.Intn(20)

		got, st, err := Search(context.Background(), srcs, Request{
			Query:   q,
			K:       k,
			Deleted: func(id model.PointID) bool { return deleted[id] },
		})
		require.NoError(t, err)
		want := bruteForce(q, all, deleted, k)
		require.Equal(t, want, got, "trial %d query %v k %d", trial, q, k)
		assert.LessOrEqual(t, len(got), k)
		assert.LessOrEqual(t, st.Scored, numPoints)
	}
}

func TestTopK(t *testing.T) {
	h := NewTopK(3)
	for _, c := range []model.Candidate{
		{ID: 1, Score: 1}, {ID: 2, Score: 5}, {ID: 3, Score: 3},
		{ID: 4, Score: 5}, {ID: 5, Score: 0}, {ID: 0, Score: 3},
	} {
		h.Offer(c)
	}
	assert.True(t, h.Full())
	assert.Equal(t, []model.Candidate{{ID: 2, Score: 5}, {ID: 4, Score: 5}, {ID: 0, Score: 3}}, h.Results())

	assert.False(t, NewTopK(0).Offer(model.Candidate{ID: 1, Score: 1}))
}

func TestTopK_UnboundedK(t *testing.T) {
	h := NewTopK(math.MaxInt)
	for i := range 2000 {
		assert.True(t, h.Offer(model.Candidate{ID: model.PointID(i), Score: float32(i % 7)}))
	}
	assert.False(t, h.Full())

	res := h.Results()
	require.Len(t, res, 2000)
	for i := 1; i < len(res); i++ {
		assert.True(t, res[i-1].Better(res[i]))
	}
}
