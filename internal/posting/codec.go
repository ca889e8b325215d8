package posting

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/hupe1980/sparsego/model"
)

const (
	// BlockSize is the number of elements per encoded block.
	BlockSize = 128

	magic           = 0x5053 // "SP"
	headerSize      = 20
	dirEntrySize    = 8
	blockHeaderSize = 6

	maxFloat16 = 65504
)

// WeightFormat selects how weights are stored.
type WeightFormat uint8

const (
	// WeightFloat16 stores weights as IEEE 754 binary16.
	WeightFloat16 WeightFormat = 1
	// WeightFloat32 stores weights exactly.
	WeightFloat32 WeightFormat = 2
)

// Size returns the encoded size of one weight.
func (f WeightFormat) Size() int {
	switch f {
	case WeightFloat16:
		return 2
	case WeightFloat32:
		return 4
	default:
		return 0
	}
}

func (f WeightFormat) String() string {
	switch f {
	case WeightFloat16:
		return "float16"
	case WeightFloat32:
		return "float32"
	default:
		return fmt.Sprintf("WeightFormat(%d)", uint8(f))
	}
}

// Quantize returns the weight as it reads back after encoding with f.
func (f WeightFormat) Quantize(w float32) float32 {
	if f != WeightFloat16 {
		return w
	}
	return float16.Frombits(toFloat16(w)).Float32()
}

func toFloat16(w float32) uint16 {
	switch {
	case w > maxFloat16:
		w = maxFloat16
	case w < -maxFloat16:
		w = -maxFloat16
	}
	return float16.Fromfloat32(w).Bits()
}

// Encode encodes l with half-precision weights.
func Encode(l List) ([]byte, error) {
	return AppendEncode(nil, l.Elements, WeightFloat16)
}

// EncodeFormat encodes l with the given weight format.
func EncodeFormat(l List, format WeightFormat) ([]byte, error) {
	return AppendEncode(nil, l.Elements, format)
}

// AppendEncode appends the encoding of elements to dst. Element ids must be
// strictly ascending.
func AppendEncode(dst []byte, elements []Element, format WeightFormat) ([]byte, error) {
	if format.Size() == 0 {
		return nil, fmt.Errorf("posting: unknown weight format %d", format)
	}
	if err := (List{Elements: elements}).Validate(); err != nil {
		return nil, err
	}
	if uint64(len(elements)) > math.MaxUint32 {
		return nil, fmt.Errorf("posting: list too long (%d elements)", len(elements))
	}

	numBlocks := (len(elements) + BlockSize - 1) / BlockSize
	start := len(dst)
	dst = append(dst, make([]byte, headerSize+numBlocks*dirEntrySize)...)
	blocksStart := len(dst)

	var maxW, minW float32
	var deltas [BlockSize]uint32
	for b := 0; b < numBlocks; b++ {
		blk := elements[b*BlockSize : min((b+1)*BlockSize, len(elements))]
		n := len(blk)
		for i := 1; i < n; i++ {
			deltas[i-1] = uint32(blk[i].ID-blk[i-1].ID) - 1
		}
		width := bitWidth(deltas[:n-1])

		dir := start + headerSize + b*dirEntrySize
		binary.LittleEndian.PutUint32(dst[dir:], uint32(blk[n-1].ID))
		binary.LittleEndian.PutUint32(dst[dir+4:], uint32(len(dst)-blocksStart))

		dst = append(dst, width, byte(n))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(blk[0].ID))
		dst = appendPacked(dst, deltas[:n-1], width)

		for i, e := range blk {
			var q float32
			if format == WeightFloat16 {
				bits := toFloat16(e.Weight)
				dst = binary.LittleEndian.AppendUint16(dst, bits)
				q = float16.Frombits(bits).Float32()
			} else {
				dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(e.Weight))
				q = e.Weight
			}
			lo, hi := min(q, e.Weight), max(q, e.Weight)
			if b == 0 && i == 0 {
				minW, maxW = lo, hi
				continue
			}
			minW, maxW = min(minW, lo), max(maxW, hi)
		}
	}

	h := dst[start:]
	binary.LittleEndian.PutUint16(h[0:], magic)
	h[2] = byte(format)
	h[3] = 0
	binary.LittleEndian.PutUint32(h[4:], uint32(len(elements)))
	binary.LittleEndian.PutUint32(h[8:], math.Float32bits(maxW))
	binary.LittleEndian.PutUint32(h[12:], math.Float32bits(minW))
	binary.LittleEndian.PutUint32(h[16:], uint32(numBlocks))
	return dst, nil
}

// Decode decodes a full posting list.
func Decode(data []byte) (List, error) {
	r, err := NewReader(data)
	if err != nil {
		return List{}, err
	}
	l := List{
		Elements:  make([]Element, 0, r.Len()),
		MaxWeight: r.MaxWeight(),
		MinWeight: r.MinWeight(),
	}
	var ids [BlockSize]uint32
	var weights [BlockSize]float32
	for b := 0; b < r.numBlocks; b++ {
		n, err := r.decodeBlock(b, ids[:], weights[:])
		if err != nil {
			return List{}, err
		}
		for i := 0; i < n; i++ {
			l.Elements = append(l.Elements, Element{ID: model.PointID(ids[i]), Weight: weights[i]})
		}
	}
	return l, nil
}

// DecodeAt returns the i-th element without decoding the rest of the list.
func DecodeAt(data []byte, i int) (Element, error) {
	r, err := NewReader(data)
	if err != nil {
		return Element{}, err
	}
	return r.At(i)
}
