// Package manifest persists the list of live segments of an index.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x4d505053 ("SPPM")
//	  Version  (4 bytes) - format version (currently 1)
//	  Checksum (4 bytes) - CRC32-Castagnoli of the payload
//	  Length   (4 bytes) - payload length in bytes
//
//	Payload:
//	  ID, CreatedAt, WeightFormat, NextSegmentID, NextPointID, MaxLSN,
//	  then one record per segment (id, size, checksum, point count,
//	  tombstone count, path, compression).
//
// # Atomic Protocol
//
//  1. Write MANIFEST-NNNNNN.bin (N is the manifest ID)
//  2. Put CURRENT, containing that name
//
// LocalStore makes step 2 atomic with rename; S3 relies on read-after-write
// consistency, and s3.DDBCommitStore turns it into a conditional write.
package manifest
