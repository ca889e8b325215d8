// Package sparsego provides an embedded inverted index for sparse vectors.
//
// Points are sparse vectors (dimension → weight) such as SPLADE or BM25-style
// term weights. Search returns the k points with the highest dot product
// against a sparse query, exactly, using MaxScore pruning over block-encoded
// posting lists.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := sparsego.Open("./data")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	v, _ := sparsego.NewSparseVector(map[uint32]float32{10: 1, 20: 2})
//	id, _ := db.Insert(ctx, v)
//
//	q, _ := sparsego.NewSparseVector(map[uint32]float32{10: 1, 20: 1})
//	results, _ := db.Search(ctx, q, 10)
//	for _, r := range results {
//	    fmt.Println(r.ID, r.Score)
//	}
//
// # Durability Model
//
// Inserts and deletes are appended to a write-ahead log and applied to an
// in-memory buffer; they are visible to Search as soon as the call returns.
// Flush writes the buffer into an immutable, memory-mapped segment. Compact
// merges all segments and drops deleted points. Both run in the background
// when the buffer fills up or too many segments accumulate.
//
// # Snapshots
//
// ExportSnapshot writes a consistent copy of the index to any BlobStore
// (local directory, S3, MinIO); ImportSnapshot restores it into a new data
// directory, verifying every segment checksum:
//
//	store := blobstore.NewLocalStore("/backups/idx")
//	_, err := db.ExportSnapshot(ctx, store, sparsego.WithSnapshotCompression(sparsego.CompressionZSTD))
//
//	restored, err := sparsego.ImportSnapshot(ctx, store, "./restored")
package sparsego
