package posting

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"

	"github.com/x448/float16"

	"github.com/hupe1980/sparsego/model"
)

// ErrOutOfRange is returned by At for an index outside the list.
var ErrOutOfRange = errors.New("posting: index out of range")

// Reader is a zero-copy view over an encoded posting list. The header and
// block directory are validated up front; blocks are validated as they are
// decoded.
type Reader struct {
	data      []byte
	format    WeightFormat
	count     int
	maxWeight float32
	minWeight float32
	numBlocks int
	dir       []byte
	blocks    []byte
}

// NewReader validates the header of data and returns a Reader over it.
// data must stay valid while the reader is in use.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < headerSize {
		return nil, corrupt("%d bytes is shorter than the header", len(data))
	}
	if binary.LittleEndian.Uint16(data[0:]) != magic {
		return nil, corrupt("bad magic")
	}
	r := &Reader{
		data:      data,
		format:    WeightFormat(data[2]),
		count:     int(binary.LittleEndian.Uint32(data[4:])),
		maxWeight: math.Float32frombits(binary.LittleEndian.Uint32(data[8:])),
		minWeight: math.Float32frombits(binary.LittleEndian.Uint32(data[12:])),
		numBlocks: int(binary.LittleEndian.Uint32(data[16:])),
	}
	if r.format.Size() == 0 {
		return nil, corrupt("unknown weight format %d", data[2])
	}
	if want := (r.count + BlockSize - 1) / BlockSize; r.numBlocks != want {
		return nil, corrupt("%d blocks for %d elements", r.numBlocks, r.count)
	}
	dirEnd := headerSize + r.numBlocks*dirEntrySize
	if dirEnd > len(data) {
		return nil, corrupt("block directory exceeds %d bytes", len(data))
	}
	r.dir = data[headerSize:dirEnd]
	r.blocks = data[dirEnd:]

	prev := -1
	for b := 0; b < r.numBlocks; b++ {
		off := int(r.offset(b))
		if (b == 0 && off != 0) || off <= prev || off > len(r.blocks) {
			return nil, corrupt("block %d offset %d out of order", b, off)
		}
		prev = off
	}
	if r.numBlocks == 0 && len(r.blocks) != 0 {
		return nil, corrupt("%d trailing bytes in empty list", len(r.blocks))
	}
	return r, nil
}

// Len returns the number of elements.
func (r *Reader) Len() int { return r.count }

// MaxWeight returns an upper bound on every weight in the list.
func (r *Reader) MaxWeight() float32 { return r.maxWeight }

// MinWeight returns a lower bound on every weight in the list.
func (r *Reader) MinWeight() float32 { return r.minWeight }

// Format returns the weight format.
func (r *Reader) Format() WeightFormat { return r.format }

// NumBlocks returns the number of blocks.
func (r *Reader) NumBlocks() int { return r.numBlocks }

// Size returns the encoded size in bytes.
func (r *Reader) Size() int { return len(r.data) }

// BlockLastID returns the largest id in block b.
func (r *Reader) BlockLastID(b int) model.PointID {
	return model.PointID(binary.LittleEndian.Uint32(r.dir[b*dirEntrySize:]))
}

func (r *Reader) offset(b int) uint32 {
	return binary.LittleEndian.Uint32(r.dir[b*dirEntrySize+4:])
}

func (r *Reader) blockLen(b int) int {
	if b == 0 {
		return min(r.count, BlockSize)
	}
	if b == r.numBlocks-1 {
		return r.count - b*BlockSize
	}
	return BlockSize
}

// decodeBlock decodes block b into ids and weights and returns the number of
// elements. Both slices must hold BlockSize entries.
func (r *Reader) decodeBlock(b int, ids []uint32, weights []float32) (int, error) {
	start := int(r.offset(b))
	end := len(r.blocks)
	if b+1 < r.numBlocks {
		end = int(r.offset(b + 1))
	}
	blk := r.blocks[start:end]
	if len(blk) < blockHeaderSize {
		return 0, corrupt("block %d truncated", b)
	}

	width, n := blk[0], int(blk[1])
	if width > 32 {
		return 0, corrupt("block %d bit width %d", b, width)
	}
	if n != r.blockLen(b) {
		return 0, corrupt("block %d holds %d elements, want %d", b, n, r.blockLen(b))
	}
	packed := packedLen(n-1, width)
	ws := r.format.Size()
	if want := blockHeaderSize + packed + n*ws; len(blk) != want {
		return 0, corrupt("block %d is %d bytes, want %d", b, len(blk), want)
	}

	first := binary.LittleEndian.Uint32(blk[2:])
	if b > 0 && first <= uint32(r.BlockLastID(b-1)) {
		return 0, corrupt("block %d starts at id %d after %d", b, first, r.BlockLastID(b-1))
	}
	ids[0] = first
	unpack(ids[1:n], blk[blockHeaderSize:blockHeaderSize+packed], width)
	acc := uint64(first)
	for i := 1; i < n; i++ {
		acc += uint64(ids[i]) + 1
		if acc > math.MaxUint32 {
			return 0, corrupt("block %d id overflow", b)
		}
		ids[i] = uint32(acc)
	}
	if ids[n-1] != uint32(r.BlockLastID(b)) {
		return 0, corrupt("block %d ends at id %d, directory says %d", b, ids[n-1], r.BlockLastID(b))
	}

	w := blk[blockHeaderSize+packed:]
	if r.format == WeightFloat16 {
		for i := 0; i < n; i++ {
			weights[i] = float16.Frombits(binary.LittleEndian.Uint16(w[2*i:])).Float32()
		}
	} else {
		for i := 0; i < n; i++ {
			weights[i] = math.Float32frombits(binary.LittleEndian.Uint32(w[4*i:]))
		}
	}
	return n, nil
}

// At returns the i-th element. It decodes a single block.
func (r *Reader) At(i int) (Element, error) {
	if i < 0 || i >= r.count {
		return Element{}, ErrOutOfRange
	}
	var ids [BlockSize]uint32
	var weights [BlockSize]float32
	if _, err := r.decodeBlock(i/BlockSize, ids[:], weights[:]); err != nil {
		return Element{}, err
	}
	j := i % BlockSize
	return Element{ID: model.PointID(ids[j]), Weight: weights[j]}, nil
}

// Cursor returns a forward iterator positioned before the first element.
func (r *Reader) Cursor() *Cursor {
	return &Cursor{r: r, block: -1}
}

// Cursor iterates a posting list in id order, decoding one block at a time.
type Cursor struct {
	r       *Reader
	block   int
	n       int
	pos     int
	done    bool
	err     error
	ids     [BlockSize]uint32
	weights [BlockSize]float32
}

// ID returns the current id. Only valid after Next or Advance returned true.
func (c *Cursor) ID() model.PointID { return model.PointID(c.ids[c.pos]) }

// Weight returns the current weight.
func (c *Cursor) Weight() float32 { return c.weights[c.pos] }

// Err returns the decode error that stopped iteration, if any.
func (c *Cursor) Err() error { return c.err }

// Reader returns the underlying reader.
func (c *Cursor) Reader() *Reader { return c.r }

func (c *Cursor) load(b int) bool {
	if b >= c.r.numBlocks {
		c.done = true
		return false
	}
	n, err := c.r.decodeBlock(b, c.ids[:], c.weights[:])
	if err != nil {
		c.err = err
		c.done = true
		return false
	}
	c.block, c.n, c.pos = b, n, 0
	return true
}

// Next moves to the next element.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	if c.block >= 0 && c.pos+1 < c.n {
		c.pos++
		return true
	}
	return c.load(c.block + 1)
}

// Advance moves to the first element with id >= target. It does not move
// backwards. Blocks that end below target are skipped without decoding.
func (c *Cursor) Advance(target model.PointID) bool {
	if c.done {
		return false
	}
	if c.block >= 0 && model.PointID(c.ids[c.pos]) >= target {
		return true
	}
	b := max(c.block, 0)
	for b < c.r.numBlocks && c.r.BlockLastID(b) < target {
		b++
	}
	if b != c.block && !c.load(b) {
		return false
	}
	ids := c.ids[c.pos:c.n]
	c.pos += sort.Search(len(ids), func(i int) bool { return model.PointID(ids[i]) >= target })
	return true
}
