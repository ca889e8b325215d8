package search

import (
	"slices"

	"github.com/hupe1980/sparsego/model"
)

const heapArity = 4

// initialCap bounds the up-front allocation; larger k grows on demand.
const initialCap = 1024

// worse reports whether a ranks below b: lower score, or equal score and
// larger id.
func worse(a, b model.Candidate) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

// TopK keeps the k best candidates in a 4-ary heap ordered worst first, so
// the eviction candidate is always at the root.
type TopK struct {
	k     int
	items []model.Candidate
}

// NewTopK returns an empty collector for k results. Any k is accepted; a
// non-positive k collects nothing.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]model.Candidate, 0, max(0, min(k, initialCap)))}
}

// Len returns the number of collected candidates.
func (h *TopK) Len() int { return len(h.items) }

// Full reports whether k candidates have been collected.
func (h *TopK) Full() bool { return len(h.items) >= h.k }

// Worst returns the lowest ranked candidate. The heap must not be empty.
func (h *TopK) Worst() model.Candidate { return h.items[0] }

// Offer adds c if it ranks among the best k. It reports whether c was kept.
func (h *TopK) Offer(c model.Candidate) bool {
	if h.k <= 0 {
		return false
	}
	if len(h.items) < h.k {
		h.items = append(h.items, c)
		h.up(len(h.items) - 1)
		return true
	}
	if !c.Better(h.items[0]) {
		return false
	}
	h.items[0] = c
	h.down(0)
	return true
}

// Results returns the candidates best first. The collector is left empty.
func (h *TopK) Results() []model.Candidate {
	out := h.items
	h.items = nil
	slices.SortFunc(out, func(a, b model.Candidate) int {
		switch {
		case a.Better(b):
			return -1
		case b.Better(a):
			return 1
		default:
			return 0
		}
	})
	return out
}

func (h *TopK) up(j int) {
	item := h.items[j]
	for j > 0 {
		i := (j - 1) / heapArity
		if !worse(item, h.items[i]) {
			break
		}
		h.items[j] = h.items[i]
		j = i
	}
	h.items[j] = item
}

func (h *TopK) down(i int) {
	n := len(h.items)
	item := h.items[i]
	for {
		first := heapArity*i + 1
		if first >= n {
			break
		}
		best := first
		for c := first + 1; c < min(first+heapArity, n); c++ {
			if worse(h.items[c], h.items[best]) {
				best = c
			}
		}
		if !worse(h.items[best], item) {
			break
		}
		h.items[i] = h.items[best]
		i = best
	}
	h.items[i] = item
}
