// Package model defines the types shared by every layer of sparsego.
//
//   - PointID: dense, engine-assigned point identifier (uint32)
//   - SegmentID: identifier of an immutable segment file (uint64)
//   - SparseVector: parallel dimension/weight arrays, sorted by dimension
//   - Candidate: a scored search hit
//
// Vectors handed to the engine are canonicalized first:
//
//	v := model.SparseVector{Indices: []uint32{20, 10}, Values: []float32{2, 1}}
//	if err := v.Canonicalize(); err != nil { ... }
//	// v.Indices == [10 20], v.Values == [1 2]
package model
