// Package hash provides the CRC32-Castagnoli checksums used by segment
// files, the manifest, the write-ahead log and snapshot artifacts.
//
//	sum := hash.CRC32C(data)
//
//	w := hash.NewWriter(f)
//	io.Copy(w, src)
//	sum, n := w.Sum32(), w.Len()
package hash
