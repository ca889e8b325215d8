package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// PointID identifies a point. IDs are assigned by the engine in ascending
// order and are never reused.
type PointID uint32

// SegmentID identifies an immutable segment.
type SegmentID uint64

var (
	// ErrLengthMismatch is returned when Indices and Values differ in length.
	ErrLengthMismatch = errors.New("sparse vector: indices and values differ in length")
	// ErrDuplicateDimension is returned when a dimension appears twice.
	ErrDuplicateDimension = errors.New("sparse vector: duplicate dimension")
	// ErrInvalidWeight is returned for NaN or infinite weights.
	ErrInvalidWeight = errors.New("sparse vector: invalid weight")
)

// SparseVector is a vector stored as (dimension, weight) pairs.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// NewSparseVector builds a canonical vector from a dimension→weight map.
func NewSparseVector(m map[uint32]float32) (SparseVector, error) {
	v := SparseVector{
		Indices: make([]uint32, 0, len(m)),
		Values:  make([]float32, 0, len(m)),
	}
	for d, w := range m {
		v.Indices = append(v.Indices, d)
		v.Values = append(v.Values, w)
	}
	return v, v.Canonicalize()
}

// Len returns the number of stored entries.
func (v SparseVector) Len() int { return len(v.Indices) }

func (v SparseVector) Less(i, j int) bool { return v.Indices[i] < v.Indices[j] }

func (v SparseVector) Swap(i, j int) {
	v.Indices[i], v.Indices[j] = v.Indices[j], v.Indices[i]
	v.Values[i], v.Values[j] = v.Values[j], v.Values[i]
}

// Canonicalize sorts v by dimension in place and drops zero weights.
// It rejects duplicate dimensions and non-finite weights.
func (v *SparseVector) Canonicalize() error {
	if len(v.Indices) != len(v.Values) {
		return ErrLengthMismatch
	}
	for i, w := range v.Values {
		if math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
			return fmt.Errorf("%w: dimension %d", ErrInvalidWeight, v.Indices[i])
		}
	}
	if !sort.IsSorted(*v) {
		sort.Sort(*v)
	}

	n := 0
	for i := range v.Indices {
		if i > 0 && v.Indices[i] == v.Indices[i-1] {
			return fmt.Errorf("%w: %d", ErrDuplicateDimension, v.Indices[i])
		}
		if v.Values[i] == 0 {
			continue
		}
		v.Indices[n], v.Values[n] = v.Indices[i], v.Values[i]
		n++
	}
	v.Indices, v.Values = v.Indices[:n], v.Values[:n]
	return nil
}

// Validate reports whether v is already canonical.
func (v SparseVector) Validate() error {
	if len(v.Indices) != len(v.Values) {
		return ErrLengthMismatch
	}
	for i := range v.Indices {
		w := v.Values[i]
		if math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
			return fmt.Errorf("%w: dimension %d", ErrInvalidWeight, v.Indices[i])
		}
		if i > 0 && v.Indices[i] <= v.Indices[i-1] {
			if v.Indices[i] == v.Indices[i-1] {
				return fmt.Errorf("%w: %d", ErrDuplicateDimension, v.Indices[i])
			}
			return fmt.Errorf("sparse vector: dimensions not sorted at position %d", i)
		}
	}
	return nil
}

// Clone returns a deep copy of v.
func (v SparseVector) Clone() SparseVector {
	return SparseVector{
		Indices: append([]uint32(nil), v.Indices...),
		Values:  append([]float32(nil), v.Values...),
	}
}

// Get returns the weight stored for dim.
func (v SparseVector) Get(dim uint32) (float32, bool) {
	i := sort.Search(len(v.Indices), func(i int) bool { return v.Indices[i] >= dim })
	if i < len(v.Indices) && v.Indices[i] == dim {
		return v.Values[i], true
	}
	return 0, false
}

// Dot returns the dot product of two canonical vectors. Products are summed
// in ascending dimension order.
func Dot(a, b SparseVector) float32 {
	var sum float32
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] < b.Indices[j]:
			i++
		case a.Indices[i] > b.Indices[j]:
			j++
		default:
			sum += a.Values[i] * b.Values[j]
			i++
			j++
		}
	}
	return sum
}

// Candidate is a scored search hit.
type Candidate struct {
	ID    PointID
	Score float32
}

// String implements fmt.Stringer.
func (c Candidate) String() string {
	return fmt.Sprintf("(%d, %g)", c.ID, c.Score)
}

// Better reports whether c ranks ahead of o: higher score first, then lower id.
func (c Candidate) Better(o Candidate) bool {
	if c.Score != o.Score {
		return c.Score > o.Score
	}
	return c.ID < o.ID
}
