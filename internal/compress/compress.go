package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a block compression algorithm.
type Algorithm string

const (
	None Algorithm = ""
	LZ4  Algorithm = "lz4"
	ZSTD Algorithm = "zstd"
)

// ErrCorrupt is returned when a compressed frame cannot be decoded.
var ErrCorrupt = errors.New("compress: corrupt frame")

// ErrUnknownAlgorithm is returned for algorithm names Parse does not know.
var ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")

// Parse maps a configuration string to an Algorithm.
func Parse(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case None, "none":
		return None, nil
	case LZ4, ZSTD:
		return Algorithm(s), nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// Ext returns the file extension used for blobs compressed with a.
func (a Algorithm) Ext() string {
	switch a {
	case LZ4:
		return ".lz4"
	case ZSTD:
		return ".zst"
	}
	return ""
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Frame layout: [UncompressedSize u32][CompressedSize u32][Data...].
// CompressedSize 0 marks a block stored raw.
const frameHeaderSize = 8

// AppendBlock appends one compressed frame holding data to dst. Blocks that do
// not shrink below 90% of their size are stored raw.
func AppendBlock(dst, data []byte, a Algorithm) ([]byte, error) {
	var compressed []byte
	switch a {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, a)
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(data)))
	if len(compressed) == 0 || len(compressed)*10 > len(data)*9 {
		dst = binary.LittleEndian.AppendUint32(dst, 0)
		return append(dst, data...), nil
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(compressed)))
	return append(dst, compressed...), nil
}

// DecodeBlock decodes the frame at the start of src into dst (reusing its
// capacity) and returns the result and the number of bytes of src consumed.
func DecodeBlock(dst, src []byte, a Algorithm) ([]byte, int, error) {
	if len(src) < frameHeaderSize {
		return nil, 0, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	size := int(binary.LittleEndian.Uint32(src))
	csize := int(binary.LittleEndian.Uint32(src[4:]))

	if csize == 0 {
		if len(src) < frameHeaderSize+size {
			return nil, 0, fmt.Errorf("%w: raw block truncated", ErrCorrupt)
		}
		return append(dst[:0], src[frameHeaderSize:frameHeaderSize+size]...), frameHeaderSize + size, nil
	}
	if len(src) < frameHeaderSize+csize {
		return nil, 0, fmt.Errorf("%w: block truncated", ErrCorrupt)
	}
	payload := src[frameHeaderSize : frameHeaderSize+csize]

	switch a {
	case LZ4:
		if cap(dst) < size {
			dst = make([]byte, size)
		}
		dst = dst[:size]
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if n != size {
			return nil, 0, fmt.Errorf("%w: size mismatch %d != %d", ErrCorrupt, n, size)
		}
	case ZSTD:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(payload, dst[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(out) != size {
			return nil, 0, fmt.Errorf("%w: size mismatch %d != %d", ErrCorrupt, len(out), size)
		}
		dst = out
	default:
		return nil, 0, fmt.Errorf("%w: compressed frame for %q", ErrCorrupt, a)
	}
	return dst, frameHeaderSize + csize, nil
}
