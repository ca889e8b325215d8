// Package search runs top-k dot-product queries over posting lists with
// MaxScore dynamic pruning.
//
// Each (query dimension, source) pair becomes a term with a score upper
// bound derived from the posting list's weight range. Terms are split into
// essential and non-essential sets: a point that only occurs in
// non-essential terms cannot reach the current k-th best score, so only
// essential cursors generate candidates. Non-essential cursors are probed
// with Advance, and probing stops as soon as the remaining upper bound falls
// below the threshold.
//
// Ties are broken by ascending point id. Pruning is strict, with a small
// slack for float32 rounding, so a point whose score equals the threshold is
// always scored. Scores are accumulated in ascending dimension order and are
// bit-identical to a plain dot product of the query and the stored vector.
package search
