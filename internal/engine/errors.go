package engine

import (
	"errors"
	"fmt"

	"github.com/hupe1980/sparsego/internal/buffer"
	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/internal/search"
	"github.com/hupe1980/sparsego/internal/segment"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrCorruptPostingList is returned when an encoded posting list is
	// structurally inconsistent.
	ErrCorruptPostingList = posting.ErrCorruptPostingList

	// ErrIntegrity is returned when a checksum does not match on open or import.
	ErrIntegrity = segment.ErrIntegrity

	// ErrBufferFull is returned when an insert is rejected pending compaction.
	ErrBufferFull = buffer.ErrBufferFull

	// ErrCompactionFailed is returned when a compaction or flush could not be
	// committed. The previous view stays in place.
	ErrCompactionFailed = errors.New("compaction failed")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = search.ErrInvalidK

	// ErrInvalidVector is returned for vectors with mismatched lengths,
	// duplicate dimensions or non-finite weights.
	ErrInvalidVector = errors.New("invalid sparse vector")

	// ErrIndexExists is returned when importing into a directory that
	// already holds an index.
	ErrIndexExists = errors.New("index already exists")
)

// CompactionError reports a compaction or flush that gave up.
type CompactionError struct {
	Op       string
	Attempts int
	Cause    error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Cause)
}

// Unwrap exposes both ErrCompactionFailed and the cause to errors.Is.
func (e *CompactionError) Unwrap() []error {
	return []error{ErrCompactionFailed, e.Cause}
}
