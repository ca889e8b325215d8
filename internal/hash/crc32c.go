package hash

import (
	"hash"
	"io"

	"github.com/klauspost/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// UpdateCRC32C extends crc with data.
func UpdateCRC32C(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, castagnoli, data)
}

// NewCRC32C returns a streaming CRC32-Castagnoli hash.
func NewCRC32C() hash.Hash32 {
	return crc32.New(castagnoli)
}

// Writer checksums and counts everything written through it.
type Writer struct {
	w io.Writer
	h hash.Hash32
	n int64
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: NewCRC32C()}
}

func (cw *Writer) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.h.Write(p[:n])
	cw.n += int64(n)
	return n, err
}

// Sum32 returns the checksum of the bytes written so far.
func (cw *Writer) Sum32() uint32 { return cw.h.Sum32() }

// Len returns the number of bytes written so far.
func (cw *Writer) Len() int64 { return cw.n }

// Checksum reads r to EOF and returns its CRC32C and length.
func Checksum(r io.Reader) (uint32, int64, error) {
	h := NewCRC32C()
	n, err := io.Copy(h, r)
	if err != nil {
		return 0, n, err
	}
	return h.Sum32(), n, nil
}
