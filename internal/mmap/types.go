package mmap

import "errors"

// AccessPattern is an access hint passed to the kernel.
type AccessPattern int

const (
	// AccessDefault removes any previous hint.
	AccessDefault AccessPattern = iota
	// AccessSequential expects reads in ascending order, e.g. a full checksum pass.
	AccessSequential
	// AccessRandom expects scattered reads, e.g. posting lookups by dimension.
	AccessRandom
	// AccessWillNeed asks the kernel to prefetch.
	AccessWillNeed
	// AccessDontNeed tells the kernel the pages can be dropped.
	AccessDontNeed
)

var (
	// ErrClosed is returned when using a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned when a file is too large to map.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrOutOfBounds is returned when a region falls outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)
