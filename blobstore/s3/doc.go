// Package s3 provides Amazon S3 implementations of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", "indexes/docs/")
//	m, err := idx.ExportSnapshot(ctx, store)
//
// For concurrent exporters, wrap the store with NewDDBCommitStore so that
// CURRENT is committed with a DynamoDB conditional write.
//
// # Features
//
//   - Range reads for partial fetches
//   - Streaming multipart uploads via the S3 transfer manager
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
