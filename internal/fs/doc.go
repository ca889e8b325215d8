// Package fs abstracts the few filesystem calls the engine makes so tests
// can inject I/O failures.
//
// Production code uses [Default]. Tests wrap it in a [FaultyFS]:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tmp", fs.Fault{FailAfterBytes: 0, Times: 2})
//
// The calls take no context: local file operations are not interruptible
// at the syscall level. Remote storage goes through package blobstore.
package fs
