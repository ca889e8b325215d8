// Package compress frames byte streams into independently compressed blocks
// using LZ4 or ZSTD. Snapshot export uses it for segment blobs.
package compress
