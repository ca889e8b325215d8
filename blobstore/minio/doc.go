// Package minio provides a BlobStore backed by MinIO or any other
// S3-compatible object store (Ceph, Garage, SeaweedFS) through the
// minio-go client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "indexes/docs/")
//	m, err := idx.ExportSnapshot(ctx, store)
package minio
