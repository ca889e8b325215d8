package search

import (
	"context"
	"errors"
	"slices"

	"github.com/hupe1980/sparsego/model"
)

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("search: k must be positive")

// relErr bounds the relative float32 rounding error per accumulated term,
// with a factor of two for the bound sums.
const relErr = 1.2e-7

type term struct {
	dim    uint32
	weight float32 // query weight
	bound  float32 // upper bound of weight * posting weight
	abs    float32 // bound on |weight * posting weight|
	cur    Cursor
	done   bool
}

func (t *term) at(doc model.PointID) bool {
	return !t.done && t.cur.ID() == doc
}

// Request describes one query.
type Request struct {
	Query model.SparseVector
	K     int
	// Deleted reports points that must not be returned. May be nil.
	Deleted func(model.PointID) bool
}

// Stats reports the work done by a query.
type Stats struct {
	Terms  int
	Scored int
	Pruned int
}

// Search returns up to k points with the highest dot product against the
// query, ordered by score descending then id ascending. Only points that
// share at least one dimension with the query are candidates.
func Search(ctx context.Context, sources []Source, req Request) ([]model.Candidate, Stats, error) {
	var st Stats
	if req.K <= 0 {
		return nil, st, ErrInvalidK
	}

	terms, err := openTerms(sources, req.Query)
	if err != nil {
		return nil, st, err
	}
	st.Terms = len(terms)
	if len(terms) == 0 {
		return []model.Candidate{}, st, nil
	}

	// Final scores are summed in dimension order; pruning walks terms by bound.
	byDim := make([]*term, len(terms))
	copy(byDim, terms)
	slices.SortStableFunc(byDim, func(a, b *term) int { return cmpUint32(a.dim, b.dim) })
	slices.SortStableFunc(terms, func(a, b *term) int { return cmpFloat32(a.bound, b.bound) })

	prefix := make([]float32, len(terms)+1)
	var absSum float32
	for i, t := range terms {
		prefix[i+1] = prefix[i] + t.bound
		absSum += t.abs
	}
	slack := float32(len(terms)+2) * relErr * absSum

	top := NewTopK(req.K)
	// terms[:pivot] are non-essential.
	pivot := 0
	threshold := float32(0)

	for n := 0; ; n++ {
		if n&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, st, err
			}
		}

		doc, ok := minDoc(terms[pivot:])
		if !ok {
			break
		}

		if req.Deleted != nil && req.Deleted(doc) {
			advancePast(terms[pivot:], doc)
			continue
		}

		ub := prefix[pivot]
		for _, t := range terms[pivot:] {
			if t.at(doc) {
				ub += t.weight * t.cur.Weight()
			}
		}

		pruned := false
		for i := pivot - 1; i >= 0; i-- {
			if top.Full() && ub+slack < threshold {
				pruned = true
				break
			}
			t := terms[i]
			ub -= t.bound
			if t.done {
				continue
			}
			if !t.cur.Advance(doc) {
				t.done = true
				continue
			}
			if t.cur.ID() == doc {
				ub += t.weight * t.cur.Weight()
			}
		}

		if !pruned && (!top.Full() || ub+slack >= threshold) {
			st.Scored++
			var score float32
			for _, t := range byDim {
				if t.at(doc) {
					score += t.weight * t.cur.Weight()
				}
			}
			if top.Offer(model.Candidate{ID: doc, Score: score}) && top.Full() {
				threshold = top.Worst().Score
				for pivot < len(terms) && prefix[pivot+1]+slack < threshold {
					pivot++
				}
			}
		} else {
			st.Pruned++
		}

		advancePast(terms[pivot:], doc)
	}

	for _, t := range terms {
		if err := t.cur.Err(); err != nil {
			return nil, st, err
		}
	}
	return top.Results(), st, nil
}

func openTerms(sources []Source, query model.SparseVector) ([]*term, error) {
	var terms []*term
	for i, dim := range query.Indices {
		qw := query.Values[i]
		if qw == 0 {
			continue
		}
		for _, src := range sources {
			p, ok, err := src.Postings(dim)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if !p.Cursor.Next() {
				if err := p.Cursor.Err(); err != nil {
					return nil, err
				}
				continue
			}
			hi, lo := qw*p.MaxWeight, qw*p.MinWeight
			terms = append(terms, &term{
				dim:    dim,
				weight: qw,
				bound:  max(0, hi, lo),
				abs:    max(abs32(hi), abs32(lo)),
				cur:    p.Cursor,
			})
		}
	}
	return terms, nil
}

func minDoc(terms []*term) (model.PointID, bool) {
	var doc model.PointID
	found := false
	for _, t := range terms {
		if t.done {
			continue
		}
		if id := t.cur.ID(); !found || id < doc {
			doc, found = id, true
		}
	}
	return doc, found
}

func advancePast(terms []*term, doc model.PointID) {
	for _, t := range terms {
		if t.at(doc) && !t.cur.Next() {
			t.done = true
		}
	}
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

func cmpUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat32(a, b float32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
