package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/sparsego/internal/search"
	"github.com/hupe1980/sparsego/model"
)

// weightSteps is the number of distinct weight magnitudes; weights are
// k/16 for k in [1, weightSteps].
const weightSteps = 64

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// Weight returns a positive weight that float16 represents exactly.
func (r *RNG) Weight() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.weightLocked(false)
}

func (r *RNG) weightLocked(signed bool) float32 {
	w := float32(r.rand.Intn(weightSteps)+1) / 16
	if signed && r.rand.Intn(2) == 0 {
		w = -w
	}
	return w
}

// SparseVector returns a canonical vector with nnz distinct dimensions drawn
// uniformly from [0, numDims).
func (r *RNG) SparseVector(numDims uint32, nnz int) model.SparseVector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sparseLocked(nnz, false, func() uint32 { return uint32(r.rand.Int63n(int64(numDims))) }, numDims)
}

// SignedSparseVector is like SparseVector but half of the weights are
// negative.
func (r *RNG) SignedSparseVector(numDims uint32, nnz int) model.SparseVector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sparseLocked(nnz, true, func() uint32 { return uint32(r.rand.Int63n(int64(numDims))) }, numDims)
}

// SparseVectors generates num vectors with SparseVector.
func (r *RNG) SparseVectors(num int, numDims uint32, nnz int) []model.SparseVector {
	out := make([]model.SparseVector, num)
	for i := range out {
		out[i] = r.SparseVector(numDims, nnz)
	}
	return out
}

// ZipfSparseVectors generates vectors whose dimensions follow Zipf's law
// with skew s > 1, the way term frequencies of real text do.
func (r *RNG) ZipfSparseVectors(num int, numDims uint32, nnz int, s float64) []model.SparseVector {
	r.mu.Lock()
	defer r.mu.Unlock()

	zipf := rand.NewZipf(r.rand, s, 1, uint64(numDims-1))
	out := make([]model.SparseVector, num)
	for i := range out {
		out[i] = r.sparseLocked(nnz, false, func() uint32 { return uint32(zipf.Uint64()) }, numDims)
	}
	return out
}

func (r *RNG) sparseLocked(nnz int, signed bool, dim func() uint32, numDims uint32) model.SparseVector {
	nnz = min(nnz, int(numDims))
	m := make(map[uint32]float32, nnz)
	// Skewed samplers may repeat dimensions; give up after a bounded number
	// of draws so a tiny vocabulary cannot loop forever.
	for draws := 0; len(m) < nnz && draws < nnz*32; draws++ {
		d := dim()
		if _, ok := m[d]; ok {
			continue
		}
		m[d] = r.weightLocked(signed)
	}
	v, err := model.NewSparseVector(m)
	if err != nil {
		panic(err) // weights are finite and dimensions distinct
	}
	return v
}

// ExactTopK scans every point and returns the k best candidates that share
// at least one dimension with the query, skipping deleted ids.
func ExactTopK(query model.SparseVector, points map[model.PointID]model.SparseVector, deleted map[model.PointID]bool, k int) []model.Candidate {
	top := search.NewTopK(k)
	for id, v := range points {
		if deleted[id] || !Overlaps(query, v) {
			continue
		}
		top.Offer(model.Candidate{ID: id, Score: model.Dot(query, v)})
	}
	return top.Results()
}

// Overlaps reports whether a and b share a dimension.
func Overlaps(a, b model.SparseVector) bool {
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] < b.Indices[j]:
			i++
		case a.Indices[i] > b.Indices[j]:
			j++
		default:
			return true
		}
	}
	return false
}

// ComputeRecall computes recall@k by comparing results against ground truth.
func ComputeRecall(groundTruth, approximate []model.Candidate) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[model.PointID]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, c := range approximate {
		if _, ok := truthSet[c.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}
