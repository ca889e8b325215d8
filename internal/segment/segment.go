package segment

import (
	"encoding/binary"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/sparsego/internal/hash"
	"github.com/hupe1980/sparsego/internal/mmap"
	"github.com/hupe1980/sparsego/internal/posting"
	"github.com/hupe1980/sparsego/model"
)

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	verify   bool
	checksum uint32
}

// WithChecksum verifies the CRC32C of the whole file on open.
func WithChecksum(crc uint32) Option {
	return func(o *openOptions) {
		o.verify = true
		o.checksum = crc
	}
}

// Segment is an open, read-only segment. It is safe for concurrent use.
type Segment struct {
	id         model.SegmentID
	path       string
	mapping    *mmap.Mapping
	data       []byte
	format     posting.WeightFormat
	numDims    int
	metaOff    uint64
	dir        []byte
	points     *roaring.Bitmap
	tombstones *roaring.Bitmap
}

// Open maps the segment file at path and validates its metadata.
func Open(path string, opts ...Option) (*Segment, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := load(m.Bytes(), opts...)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	_ = m.Advise(mmap.AccessRandom)
	// Every lookup binary-searches the directory.
	if meta, err := m.Region(int(s.metaOff), m.Size()-int(s.metaOff)); err == nil {
		_ = meta.Advise(mmap.AccessWillNeed)
	}
	s.path = path
	s.mapping = m
	return s, nil
}

// Load opens a segment held in memory. data must not be modified while the
// segment is in use.
func Load(data []byte, opts ...Option) (*Segment, error) {
	return load(data, opts...)
}

func load(data []byte, opts ...Option) (*Segment, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	if len(data) < headerSize+trailerSize {
		return nil, integrity("file too small (%d bytes)", len(data))
	}
	if o.verify {
		if got := hash.CRC32C(data); got != o.checksum {
			return nil, integrity("checksum %08x, want %08x", got, o.checksum)
		}
	}

	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	t, err := decodeTrailer(data[len(data)-trailerSize:])
	if err != nil {
		return nil, err
	}

	end := uint64(len(data) - trailerSize)
	dirLen := uint64(t.NumDims) * dirEntrySize
	if t.PointsOff < headerSize || t.PointsOff > end ||
		t.TombOff != t.PointsOff+uint64(t.PointsLen) ||
		t.DirOff != t.TombOff+uint64(t.TombLen) ||
		t.DirOff+dirLen != end {
		return nil, integrity("inconsistent section offsets")
	}

	pointsBytes := data[t.PointsOff:t.TombOff]
	tombBytes := data[t.TombOff:t.DirOff]
	dir := data[t.DirOff:end]

	crc := hash.CRC32C(data[:headerSize])
	crc = hash.UpdateCRC32C(crc, pointsBytes)
	crc = hash.UpdateCRC32C(crc, tombBytes)
	crc = hash.UpdateCRC32C(crc, dir)
	if crc != t.MetaCRC {
		return nil, integrity("metadata checksum %08x, want %08x", crc, t.MetaCRC)
	}

	s := &Segment{
		id:         model.SegmentID(h.SegmentID),
		data:       data,
		format:     posting.WeightFormat(h.Flags),
		numDims:    int(t.NumDims),
		metaOff:    t.PointsOff,
		dir:        dir,
		points:     roaring.New(),
		tombstones: roaring.New(),
	}
	if err := s.points.UnmarshalBinary(pointsBytes); err != nil {
		return nil, integrity("points bitmap: %v", err)
	}
	if err := s.tombstones.UnmarshalBinary(tombBytes); err != nil {
		return nil, integrity("tombstone bitmap: %v", err)
	}

	var prev uint32
	for i := 0; i < s.numDims; i++ {
		dim, off, n := s.entry(i)
		if (i > 0 && dim <= prev) || off < headerSize || off > t.PointsOff || uint64(n) > t.PointsOff-off {
			return nil, integrity("directory entry %d (dim %d) out of range", i, dim)
		}
		prev = dim
	}
	return s, nil
}

func (s *Segment) entry(i int) (dim uint32, off uint64, n uint32) {
	e := s.dir[i*dirEntrySize:]
	return binary.LittleEndian.Uint32(e), binary.LittleEndian.Uint64(e[4:]), binary.LittleEndian.Uint32(e[12:])
}

func (s *Segment) find(dim uint32) (int, bool) {
	i := sort.Search(s.numDims, func(i int) bool {
		return binary.LittleEndian.Uint32(s.dir[i*dirEntrySize:]) >= dim
	})
	if i < s.numDims && binary.LittleEndian.Uint32(s.dir[i*dirEntrySize:]) == dim {
		return i, true
	}
	return 0, false
}

// ID returns the segment id.
func (s *Segment) ID() model.SegmentID { return s.id }

// Path returns the file path, or "" for in-memory segments.
func (s *Segment) Path() string { return s.path }

// Size returns the file size in bytes.
func (s *Segment) Size() int64 { return int64(len(s.data)) }

// WeightFormat returns the weight encoding of the segment's postings.
func (s *Segment) WeightFormat() posting.WeightFormat { return s.format }

// NumDims returns the number of dimensions with postings.
func (s *Segment) NumDims() int { return s.numDims }

// Dimensions returns the dimensions present, ascending.
func (s *Segment) Dimensions() []uint32 {
	dims := make([]uint32, s.numDims)
	for i := range dims {
		dims[i], _, _ = s.entry(i)
	}
	return dims
}

// Postings returns a zero-copy reader over the posting list for dim.
func (s *Segment) Postings(dim uint32) (*posting.Reader, bool, error) {
	i, ok := s.find(dim)
	if !ok {
		return nil, false, nil
	}
	_, off, n := s.entry(i)
	r, err := posting.NewReader(s.data[off : off+uint64(n)])
	if err != nil {
		return nil, true, err
	}
	return r, true, nil
}

// PostingList decodes the full posting list for dim.
func (s *Segment) PostingList(dim uint32) (posting.List, bool, error) {
	i, ok := s.find(dim)
	if !ok {
		return posting.List{}, false, nil
	}
	_, off, n := s.entry(i)
	l, err := posting.Decode(s.data[off : off+uint64(n)])
	return l, true, err
}

// IsDeleted reports whether the segment carries a tombstone for id.
func (s *Segment) IsDeleted(id model.PointID) bool {
	return s.tombstones.Contains(uint32(id))
}

// Contains reports whether id is stored in this segment.
func (s *Segment) Contains(id model.PointID) bool {
	return s.points.Contains(uint32(id))
}

// PointCount returns the number of points stored in the segment.
func (s *Segment) PointCount() int {
	return int(s.points.GetCardinality())
}

// Points returns the stored point set. Callers must not modify it.
func (s *Segment) Points() *roaring.Bitmap { return s.points }

// Tombstones returns the tombstone set. Callers must not modify it.
func (s *Segment) Tombstones() *roaring.Bitmap { return s.tombstones }

// Verify checks the whole file against a CRC32C recorded elsewhere.
func (s *Segment) Verify(crc uint32) error {
	if got := hash.CRC32C(s.data); got != crc {
		return integrity("checksum %08x, want %08x", got, crc)
	}
	return nil
}

// Close unmaps the file. The segment must not be used afterwards.
func (s *Segment) Close() error {
	if s.mapping == nil {
		return nil
	}
	return s.mapping.Close()
}
