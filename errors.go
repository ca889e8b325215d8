package sparsego

import (
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/sparsego/blobstore"
	"github.com/hupe1980/sparsego/internal/engine"
	"github.com/hupe1980/sparsego/internal/manifest"
)

var (
	// ErrNotFound is returned when a snapshot or blob does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when the database has been closed.
	ErrClosed = engine.ErrClosed

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = engine.ErrInvalidK

	// ErrInvalidVector is returned for vectors with duplicate dimensions,
	// mismatched lengths or non-finite weights.
	ErrInvalidVector = engine.ErrInvalidVector

	// ErrBufferFull is returned when an insert is rejected until the buffer
	// has been flushed.
	ErrBufferFull = engine.ErrBufferFull

	// ErrCompactionFailed is returned when a flush or compaction gave up.
	// The index is left unchanged.
	ErrCompactionFailed = engine.ErrCompactionFailed

	// ErrIntegrity is returned when a segment, manifest or snapshot fails
	// checksum validation.
	ErrIntegrity = engine.ErrIntegrity

	// ErrCorruptPostingList is returned when an encoded posting list is
	// structurally inconsistent.
	ErrCorruptPostingList = engine.ErrCorruptPostingList

	// ErrIndexExists is returned when importing into a directory that already
	// holds an index.
	ErrIndexExists = engine.ErrIndexExists
)

// CompactionError reports a flush or compaction that gave up after retrying.
// errors.Is matches both ErrCompactionFailed and the cause.
type CompactionError = engine.CompactionError

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, manifest.ErrNotFound) || errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// A write racing Close sees the WAL file closed underneath it.
	if errors.Is(err, os.ErrClosed) && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
