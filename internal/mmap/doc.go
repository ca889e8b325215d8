// Package mmap maps segment files read-only into memory.
//
// Segments are immutable once written, so a shared read-only mapping lets
// every query read posting bytes straight from the page cache. Pages are
// faulted in lazily; opening a large segment does not read it.
//
//	m, err := mmap.Open("segment_000001.sps")
//	if err != nil { ... }
//	defer m.Close()
//
//	postings, _ := m.Region(off, n)
//	_ = postings.Advise(mmap.AccessRandom)
//
// On Unix the mapping uses mmap(2) and madvise(2). On Windows it uses
// CreateFileMapping/MapViewOfFile and access hints are ignored.
//
// Close is idempotent. Slices returned by Bytes must not be used after Close.
package mmap
