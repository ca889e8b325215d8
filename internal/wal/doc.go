// Package wal implements the write-ahead log that makes buffered inserts and
// deletes durable before they are compacted into a segment.
//
// Each log file starts with a 12-byte header (magic "SPSGOWAL", version) and
// holds checksummed records. The engine writes one file per generation
// (wal-NNNNNN.log), rotates at every compaction freeze, and deletes a
// generation once the manifest records an LSN past its last record.
package wal
