// Package buffer holds recent writes before they are compacted into a
// segment.
//
// A [Buffer] keeps inserted vectors in two ordered trees: one keyed by point
// and one keyed by (dimension, point), so a dimension's posting list is a
// range scan. Deleted ids go into a roaring bitmap that applies to the whole
// index, not just to points held in the buffer.
//
// [Buffer.Snapshot] returns an immutable [Frozen] view in constant time.
// The trees are copy-on-write and the delete bitmap is cloned lazily on the
// next delete, so readers never block writers for longer than a pointer
// copy.
package buffer
