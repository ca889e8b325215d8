// Package engine implements the sparse-vector index engine.
//
// The engine orchestrates:
//   - a bounded mutable buffer for hot writes, backed by a WAL
//   - immutable memory-mapped segments holding posting lists
//   - flush and compaction into new segments, in the foreground or background
//   - ref-counted views for concurrent readers
//   - export and import of consistent snapshots through a BlobStore
package engine
