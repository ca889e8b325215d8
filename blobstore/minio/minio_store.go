package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/sparsego/blobstore"
	"github.com/hupe1980/sparsego/internal/manifest"
)

// Snapshot blobs carry these keys as object user metadata.
const (
	KindMetaKey        = "Sparsego-Kind"
	CompressionMetaKey = "Sparsego-Compression"
)

const (
	defaultPartSize = 16 << 20
	segmentPrefix   = "segments/"
	immutableCache  = "public, max-age=31536000, immutable"
)

var errUploadAborted = errors.New("minio: upload aborted")

// Kind classifies a snapshot blob by its name.
type Kind string

const (
	KindCurrent  Kind = "current"
	KindManifest Kind = "manifest"
	KindSegment  Kind = "segment"
	KindOther    Kind = "other"
)

// KindOf returns the kind of the snapshot blob called name.
func KindOf(name string) Kind {
	switch {
	case name == manifest.CurrentFileName:
		return KindCurrent
	case strings.HasPrefix(name, manifest.ManifestFileName+"-"):
		return KindManifest
	case strings.HasPrefix(name, segmentPrefix):
		return KindSegment
	default:
		return KindOther
	}
}

// Store implements blobstore.BlobStore for MinIO and S3-compatible storage.
//
// Objects are tagged with their snapshot role. Segments and manifests are
// written once and marked immutable; CURRENT is repointed by every export
// and is never cached.
type Store struct {
	client       *minio.Client
	bucket       string
	prefix       string
	partSize     uint64
	storageClass string
}

var _ blobstore.BlobStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPartSize sets the multipart chunk size of streamed uploads. Segment
// uploads have no known length, so each part is buffered in memory.
func WithPartSize(n uint64) Option {
	return func(s *Store) {
		if n > 0 {
			s.partSize = n
		}
	}
}

// WithStorageClass sets the storage class of segment and manifest objects.
// CURRENT keeps the bucket default.
func WithStorageClass(class string) Option {
	return func(s *Store) {
		s.storageClass = class
	}
}

// NewStore creates a new MinIO blob store.
// rootPrefix is prepended to all keys (e.g. "indexes/").
func NewStore(client *minio.Client, bucket, rootPrefix string, opts ...Option) *Store {
	s := &Store{
		client:   client,
		bucket:   bucket,
		prefix:   rootPrefix,
		partSize: defaultPartSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// putOptions derives object headers from the role of name in a snapshot.
func (s *Store) putOptions(name string) minio.PutObjectOptions {
	kind := KindOf(name)
	opts := minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{KindMetaKey: string(kind)},
		PartSize:     s.partSize,
	}
	switch kind {
	case KindCurrent:
		opts.ContentType = "text/plain; charset=utf-8"
		opts.CacheControl = "no-cache"
	case KindManifest:
		opts.CacheControl = immutableCache
		opts.StorageClass = s.storageClass
	case KindSegment:
		opts.CacheControl = immutableCache
		opts.StorageClass = s.storageClass
		if c := compressionOf(name); c != "" {
			opts.UserMetadata[CompressionMetaKey] = c
		}
	}
	return opts
}

func compressionOf(name string) string {
	switch path.Ext(name) {
	case ".zst":
		return "zstd"
	case ".lz4":
		return "lz4"
	default:
		return ""
	}
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Open opens an existing blob for reading.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	return &minioBlob{client: s.client, bucket: s.bucket, key: key, size: info.Size}, nil
}

// Put uploads data in a single request. Manifests and CURRENT are small.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), s.putOptions(name))
	return err
}

// Create streams a blob of unknown length as a multipart upload. Nothing is
// visible under name until Close returns nil.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key := s.key(name)
	opts := s.putOptions(name)
	pr, pw := io.Pipe()

	blob := &minioWritableBlob{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, key, pr, -1, opts)
		_ = pr.CloseWithError(err)
		blob.done <- err
	}()
	return blob, nil
}

// Delete removes a blob. A missing blob is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns the names below prefix, relative to the store root.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	root := strings.TrimSuffix(s.prefix, "/")
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, root), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type minioBlob struct {
	client *minio.Client
	bucket string
	key    string
	size   int64
}

func (b *minioBlob) Size() int64 {
	return b.size
}

// get fetches [off, off+length) clipped to the object size.
func (b *minioBlob) get(ctx context.Context, off, length int64) (*minio.Object, int64, error) {
	end := min(off+length, b.size) - 1
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return nil, 0, err
	}
	obj, err := b.client.GetObject(ctx, b.bucket, b.key, opts)
	if err != nil {
		return nil, 0, err
	}
	return obj, end - off + 1, nil
}

func (b *minioBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	obj, n, err := b.get(ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	read, err := io.ReadFull(obj, p[:n])
	if err != nil {
		return read, err
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

func (b *minioBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size {
		return nil, io.EOF
	}
	obj, _, err := b.get(ctx, off, length)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (b *minioBlob) Close() error {
	return nil
}

type minioWritableBlob struct {
	pw       *io.PipeWriter
	done     chan error
	finished atomic.Bool
}

func (b *minioWritableBlob) Write(p []byte) (int, error) {
	return b.pw.Write(p)
}

// Sync is a no-op; the object is durable once Close returns.
func (b *minioWritableBlob) Sync() error {
	return nil
}

func (b *minioWritableBlob) Close() error {
	if !b.finished.CompareAndSwap(false, true) {
		return io.ErrClosedPipe
	}
	if err := b.pw.Close(); err != nil {
		return err
	}
	return <-b.done
}

// Abort fails the pending upload so no object is created.
func (b *minioWritableBlob) Abort() error {
	if !b.finished.CompareAndSwap(false, true) {
		return nil
	}
	_ = b.pw.CloseWithError(errUploadAborted)
	<-b.done
	return nil
}
