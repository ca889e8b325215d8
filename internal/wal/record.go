package wal

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/hupe1980/sparsego/internal/hash"
	"github.com/hupe1980/sparsego/model"
)

// RecordType identifies the type of WAL record.
type RecordType uint8

const (
	RecordTypeInsert RecordType = 1
	RecordTypeDelete RecordType = 2
)

const (
	recordHeaderSize = 4 + 1 + 8 + 4
	maxRecordSize    = 64 << 20
)

var (
	ErrInvalidCRC     = errors.New("invalid WAL record checksum")
	ErrInvalidType    = errors.New("invalid WAL record type")
	ErrShortRead      = errors.New("short read in WAL record")
	ErrRecordTooLarge = errors.New("WAL record too large")
)

// Record represents a single write in the WAL.
type Record struct {
	LSN    uint64
	Type   RecordType
	ID     model.PointID
	Vector model.SparseVector
}

func (r *Record) payloadLen() int {
	if r.Type == RecordTypeInsert {
		return 4 + 4 + r.Vector.Len()*8
	}
	return 4
}

// Size returns the encoded size of the record in bytes.
func (r *Record) Size() int {
	return recordHeaderSize + r.payloadLen()
}

// AppendEncode appends the encoded record to dst.
//
//	[CRC32C 4] [Type 1] [LSN 8] [Length 4] [Payload]
//	Insert payload: [ID 4] [N 4] [Indices N*4] [Values N*4]
//	Delete payload: [ID 4]
//
// The checksum covers everything after itself.
func (r *Record) AppendEncode(dst []byte) []byte {
	start := len(dst)
	dst = append(dst, 0, 0, 0, 0, byte(r.Type))
	dst = binary.LittleEndian.AppendUint64(dst, r.LSN)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.payloadLen()))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.ID))

	if r.Type == RecordTypeInsert {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Vector.Len()))
		for _, d := range r.Vector.Indices {
			dst = binary.LittleEndian.AppendUint32(dst, d)
		}
		for _, v := range r.Vector.Values {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
		}
	}

	binary.LittleEndian.PutUint32(dst[start:], hash.CRC32C(dst[start+4:]))
	return dst
}

// Encode writes the record to w.
func (r *Record) Encode(w io.Writer) error {
	_, err := w.Write(r.AppendEncode(make([]byte, 0, r.Size())))
	return err
}

// Decode reads a record from r. It returns the record and the number of
// bytes consumed.
func Decode(r io.Reader) (*Record, int64, error) {
	header := make([]byte, recordHeaderSize)
	if n, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, int64(n), ErrShortRead
		}
		return nil, int64(n), err
	}

	checksum := binary.LittleEndian.Uint32(header[0:])
	recType := RecordType(header[4])
	lsn := binary.LittleEndian.Uint64(header[5:])
	length := binary.LittleEndian.Uint32(header[13:])

	if length > maxRecordSize {
		return nil, recordHeaderSize, ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if n, err := io.ReadFull(r, payload); err != nil {
		return nil, recordHeaderSize + int64(n), ErrShortRead
	}

	total := recordHeaderSize + int64(length)

	crc := hash.UpdateCRC32C(hash.CRC32C(header[4:]), payload)
	if crc != checksum {
		return nil, total, ErrInvalidCRC
	}

	rec := &Record{Type: recType, LSN: lsn}
	switch recType {
	case RecordTypeInsert:
		if err := parseInsert(payload, rec); err != nil {
			return nil, total, err
		}
	case RecordTypeDelete:
		if len(payload) != 4 {
			return nil, total, ErrShortRead
		}
		rec.ID = model.PointID(binary.LittleEndian.Uint32(payload))
	default:
		return nil, total, ErrInvalidType
	}

	return rec, total, nil
}

func parseInsert(payload []byte, r *Record) error {
	if len(payload) < 8 {
		return ErrShortRead
	}
	r.ID = model.PointID(binary.LittleEndian.Uint32(payload))
	n := int(binary.LittleEndian.Uint32(payload[4:]))
	if len(payload) != 8+n*8 {
		return ErrShortRead
	}

	r.Vector = model.SparseVector{
		Indices: make([]uint32, n),
		Values:  make([]float32, n),
	}
	off := 8
	for i := range n {
		r.Vector.Indices[i] = binary.LittleEndian.Uint32(payload[off:])
		off += 4
	}
	for i := range n {
		r.Vector.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
	}
	return nil
}
