package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sparsego/internal/hash"
	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/model"
)

// ErrDimensionOrder is returned when dimensions are added out of order.
var ErrDimensionOrder = errors.New("segment: dimensions must be added in ascending order")

// Info describes a finished segment file.
type Info struct {
	ID         model.SegmentID
	Size       int64
	Checksum   uint32 // CRC32C of the whole file
	NumDims    int
	PointCount int
	Tombstones int
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWeightFormat selects the posting weight encoding. Defaults to float16.
func WithWeightFormat(f posting.WeightFormat) WriterOption {
	return func(w *Writer) {
		w.format = f
	}
}

// Writer streams a segment to an io.Writer. Posting lists must be added in
// ascending dimension order; nothing is buffered except the directory.
type Writer struct {
	w       *hash.Writer
	id      model.SegmentID
	format  posting.WeightFormat
	header  []byte
	dir     []byte
	numDims int
	lastDim uint32
	points  *roaring.Bitmap
	scratch []byte
	err     error
}

// NewWriter starts a segment with the given id.
func NewWriter(w io.Writer, id model.SegmentID, opts ...WriterOption) *Writer {
	sw := &Writer{
		w:      hash.NewWriter(w),
		id:     id,
		format: posting.WeightFloat16,
		points: roaring.New(),
	}
	for _, opt := range opts {
		opt(sw)
	}
	sw.header = fileHeader{SegmentID: uint64(id), Flags: uint32(sw.format)}.encode()
	_, sw.err = sw.w.Write(sw.header)
	return sw
}

// Add appends the posting list for dim. Empty lists are skipped.
func (w *Writer) Add(dim uint32, elements []posting.Element) error {
	if w.err != nil {
		return w.err
	}
	if len(elements) == 0 {
		return nil
	}
	if w.numDims > 0 && dim <= w.lastDim {
		return fmt.Errorf("%w: %d after %d", ErrDimensionOrder, dim, w.lastDim)
	}

	var err error
	w.scratch, err = posting.AppendEncode(w.scratch[:0], elements, w.format)
	if err != nil {
		return fmt.Errorf("segment: dimension %d: %w", dim, err)
	}

	offset := w.w.Len()
	if _, err := w.w.Write(w.scratch); err != nil {
		w.err = err
		return err
	}

	w.dir = binary.LittleEndian.AppendUint32(w.dir, dim)
	w.dir = binary.LittleEndian.AppendUint64(w.dir, uint64(offset))
	w.dir = binary.LittleEndian.AppendUint32(w.dir, uint32(len(w.scratch)))
	w.numDims++
	w.lastDim = dim

	for _, e := range elements {
		w.points.Add(uint32(e.ID))
	}
	return nil
}

// AddPoints records points that belong to the segment without postings,
// e.g. points whose vectors are empty.
func (w *Writer) AddPoints(ids ...model.PointID) {
	for _, id := range ids {
		w.points.Add(uint32(id))
	}
}

// Finish writes the bitmaps, directory and trailer. tombstones may be nil.
func (w *Writer) Finish(tombstones *roaring.Bitmap) (Info, error) {
	if w.err != nil {
		return Info{}, w.err
	}
	if tombstones == nil {
		tombstones = roaring.New()
	}

	w.points.RunOptimize()
	points, err := w.points.ToBytes()
	if err != nil {
		return Info{}, err
	}
	tombs, err := tombstones.ToBytes()
	if err != nil {
		return Info{}, err
	}

	t := trailer{NumDims: uint32(w.numDims)}
	t.PointsOff = uint64(w.w.Len())
	t.PointsLen = uint32(len(points))
	t.TombOff = t.PointsOff + uint64(len(points))
	t.TombLen = uint32(len(tombs))
	t.DirOff = t.TombOff + uint64(len(tombs))

	crc := hash.CRC32C(w.header)
	crc = hash.UpdateCRC32C(crc, points)
	crc = hash.UpdateCRC32C(crc, tombs)
	crc = hash.UpdateCRC32C(crc, w.dir)
	t.MetaCRC = crc

	for _, b := range [][]byte{points, tombs, w.dir, t.encode()} {
		if _, err := w.w.Write(b); err != nil {
			w.err = err
			return Info{}, err
		}
	}

	return Info{
		ID:         w.id,
		Size:       w.w.Len(),
		Checksum:   w.w.Sum32(),
		NumDims:    w.numDims,
		PointCount: int(w.points.GetCardinality()),
		Tombstones: int(tombstones.GetCardinality()),
	}, nil
}
