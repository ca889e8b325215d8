// Package segment implements immutable, memory-mapped segment files.
//
// A segment holds one posting list per dimension, the set of points it
// stores, and a tombstone set of points deleted at the time it was written.
// Once written a segment never changes; it is replaced wholesale by
// compaction.
//
// # File layout
//
//	header      magic "SPSG" u32 | version u32 | segmentID u64 | flags u32 | reserved u32
//	postings    encoded posting lists (package posting), back to back
//	points      roaring bitmap, portable format
//	tombstones  roaring bitmap, portable format
//	directory   numDims × { dim u32 | offset u64 | length u32 }, ascending by dim
//	trailer     numDims u32 | pointsOff u64 | pointsLen u32 | tombOff u64 |
//	            tombLen u32 | dirOff u64 | metaCRC u32 | reserved u32 | magic u32
//
// metaCRC is the CRC32C of the header, both bitmaps and the directory, so
// [Open] detects damage to everything it reads eagerly in time proportional
// to the number of dimensions, not the file size. Posting bytes are paged in
// lazily and validated by the posting decoder. A full-file checksum, kept by
// the manifest, can be verified with [WithChecksum] or [Segment.Verify].
package segment
