package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultBlockSize is the uncompressed size of a frame written by Writer.
const DefaultBlockSize = 1 << 20

// Writer compresses a stream into a sequence of frames.
type Writer struct {
	w         io.Writer
	alg       Algorithm
	blockSize int
	buf       []byte
	frame     []byte
	written   int64
	err       error
}

// NewWriter returns a Writer. blockSize <= 0 selects DefaultBlockSize.
func NewWriter(w io.Writer, alg Algorithm, blockSize int) *Writer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Writer{
		w:         w,
		alg:       alg,
		blockSize: blockSize,
		buf:       make([]byte, 0, blockSize),
	}
}

func (c *Writer) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	total := 0
	for len(p) > 0 {
		n := min(c.blockSize-len(c.buf), len(p))
		c.buf = append(c.buf, p[:n]...)
		p = p[n:]
		total += n
		if len(c.buf) == c.blockSize {
			if err := c.flush(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (c *Writer) flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	frame, err := AppendBlock(c.frame[:0], c.buf, c.alg)
	if err != nil {
		c.err = err
		return err
	}
	c.frame = frame
	n, err := c.w.Write(frame)
	c.written += int64(n)
	if err != nil {
		c.err = err
		return err
	}
	c.buf = c.buf[:0]
	return nil
}

// Close flushes the final frame. The underlying writer is not closed.
func (c *Writer) Close() error {
	if c.err != nil {
		return c.err
	}
	return c.flush()
}

// Written returns the number of compressed bytes written so far.
func (c *Writer) Written() int64 {
	return c.written
}

// Reader decompresses a stream written by Writer.
type Reader struct {
	r     io.Reader
	alg   Algorithm
	in    []byte
	block []byte
	pos   int
	err   error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, alg Algorithm) *Reader {
	return &Reader{r: r, alg: alg}
}

func (c *Reader) Read(p []byte) (int, error) {
	for c.pos == len(c.block) {
		if c.err != nil {
			return 0, c.err
		}
		c.err = c.next()
	}
	n := copy(p, c.block[c.pos:])
	c.pos += n
	return n, nil
}

func (c *Reader) next() error {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	size := binary.LittleEndian.Uint32(header[0:])
	payload := binary.LittleEndian.Uint32(header[4:])
	if payload == 0 {
		payload = size
	}
	if size > 1<<30 || payload > 1<<30 {
		return fmt.Errorf("%w: frame too large", ErrCorrupt)
	}

	need := frameHeaderSize + int(payload)
	if cap(c.in) < need {
		c.in = make([]byte, need)
	}
	c.in = c.in[:need]
	copy(c.in, header[:])
	if _, err := io.ReadFull(c.r, c.in[frameHeaderSize:]); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	block, _, err := DecodeBlock(c.block, c.in, c.alg)
	if err != nil {
		return err
	}
	c.block = block
	c.pos = 0
	return nil
}
