// Package testutil provides testing utilities for sparsego.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random sparse vectors, computing the
// exact top-k by brute force, and comparing result lists.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	v := rng.SparseVector(30000, 64)           // 64 distinct dimensions
//	vs := rng.ZipfSparseVectors(1000, 30000, 64, 1.2)
//
// Weights are multiples of 1/16 so they survive float16 storage unchanged
// and scores compare exactly.
//
// # Exact Search (Ground Truth)
//
//	want := testutil.ExactTopK(query, points, deleted, k)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(want, got)
package testutil
