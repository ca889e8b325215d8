package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction over a flat namespace of immutable blobs
// (segment files, manifests, the CURRENT pointer).
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create creates a blob for streaming writes. The blob becomes visible
	// once Close returns nil.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.Closer
	// ReadAt reads len(p) bytes starting at off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange returns a reader over [off, off+length).
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a handle to a blob being written.
type WritableBlob interface {
	io.WriteCloser
	// Sync flushes buffered data to stable storage, where supported.
	Sync() error
	// Abort discards everything written so far. The blob is never published.
	Abort() error
}

// Mappable is an optional interface for Blobs that support memory mapping.
type Mappable interface {
	// Bytes returns the underlying byte slice.
	// The slice is valid until the Blob is closed.
	Bytes() ([]byte, error)
}

// ReadAll reads a whole blob.
func ReadAll(ctx context.Context, store BlobStore, name string) ([]byte, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			return nil, err
		}
		return bytes.Clone(data), nil
	}

	if b.Size() == 0 {
		return []byte{}, nil
	}

	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", name, err)
	}
	if int64(len(data)) != b.Size() {
		return nil, fmt.Errorf("read blob %q: short read %d of %d: %w", name, len(data), b.Size(), io.ErrUnexpectedEOF)
	}
	return data, nil
}

// Copy streams a blob from src to dst under the same name.
func Copy(ctx context.Context, dst, src BlobStore, name string) (int64, error) {
	b, err := src.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = b.Close() }()

	w, err := dst.Create(ctx, name)
	if err != nil {
		return 0, err
	}

	var n int64
	if b.Size() > 0 {
		rc, err := b.ReadRange(ctx, 0, b.Size())
		if err != nil {
			_ = w.Abort()
			return 0, err
		}
		n, err = io.Copy(w, rc)
		_ = rc.Close()
		if err != nil {
			_ = w.Abort()
			return n, err
		}
	}

	if err := w.Sync(); err != nil {
		_ = w.Abort()
		return n, err
	}
	return n, w.Close()
}

type nopReadCloser struct {
	io.Reader
}

func (nopReadCloser) Close() error { return nil }

// NopReadCloser wraps r with a no-op Close.
func NopReadCloser(r io.Reader) io.ReadCloser {
	return nopReadCloser{Reader: r}
}
