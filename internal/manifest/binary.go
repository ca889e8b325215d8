package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/sparsego/internal/hash"
	"github.com/hupe1980/sparsego/model"
)

const (
	binaryMagic      = 0x4d505053 // "SPPM"
	binaryHeaderSize = 16
	maxPayloadSize   = 64 << 20
)

// WriteBinary writes the manifest in binary format.
//
//	Magic (4) | Version (4) | CRC32C of payload (4) | PayloadLength (4)
//	Payload:
//	  ID u64 | CreatedAt u64 (UnixNano) | WeightFormat u8
//	  NextSegmentID u64 | NextPointID u32 | MaxLSN u64
//	  NumSegments u32
//	  Segments: ID u64 | Size u64 | Checksum u32 | PointCount u32 |
//	            Tombstones u32 | Path str | Compression str
//
// Strings are length-prefixed with a u16.
func (m *Manifest) WriteBinary(w io.Writer) error {
	pb := newPayloadBuffer(make([]byte, 0, 64+len(m.Segments)*64))

	pb.writeUint64(m.ID)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint8(m.WeightFormat)
	pb.writeUint64(uint64(m.NextSegmentID))
	pb.writeUint32(uint32(m.NextPointID))
	pb.writeUint64(m.MaxLSN)
	pb.writeUint32(uint32(len(m.Segments)))

	for _, s := range m.Segments {
		pb.writeUint64(uint64(s.ID))
		pb.writeUint64(uint64(s.Size))
		pb.writeUint32(s.Checksum)
		pb.writeUint32(s.PointCount)
		pb.writeUint32(s.Tombstones)
		pb.writeString(s.Path)
		pb.writeString(string(s.Compression))
	}

	if pb.err != nil {
		return pb.err
	}

	header := make([]byte, binaryHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], CurrentVersion)
	binary.LittleEndian.PutUint32(header[8:12], hash.CRC32C(pb.buf))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(pb.buf)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pb.buf)
	return err
}

// ReadBinary reads a manifest written by WriteBinary.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, binaryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %#x", ErrCorrupt, magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])
	if length > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload length %d", ErrCorrupt, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrCorrupt, err)
	}
	if hash.CRC32C(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{Version: int(version)}

	m.ID = pb.readUint64()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.WeightFormat = pb.readUint8()
	m.NextSegmentID = model.SegmentID(pb.readUint64())
	m.NextPointID = model.PointID(pb.readUint32())
	m.MaxLSN = pb.readUint64()

	numSegments := pb.readUint32()
	if pb.err == nil && uint64(numSegments)*32 > uint64(len(payload)) {
		return nil, fmt.Errorf("%w: %d segments in %d bytes", ErrCorrupt, numSegments, len(payload))
	}
	m.Segments = make([]SegmentInfo, numSegments)
	for i := range m.Segments {
		s := &m.Segments[i]
		s.ID = model.SegmentID(pb.readUint64())
		s.Size = int64(pb.readUint64())
		s.Checksum = pb.readUint32()
		s.PointCount = pb.readUint32()
		s.Tombstones = pb.readUint32()
		s.Path = pb.readString()
		s.Compression = Compression(pb.readString())
	}

	if pb.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, pb.err)
	}
	if pb.pos != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(payload)-pb.pos)
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint8(v uint8) {
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, v)
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) need(n int) bool {
	if p.err != nil {
		return false
	}
	if p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (p *payloadBuffer) readUint8() uint8 {
	if !p.need(1) {
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
	return v
}

func (p *payloadBuffer) readUint64() uint64 {
	if !p.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if !p.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readString() string {
	if !p.need(2) {
		return ""
	}
	l := int(binary.LittleEndian.Uint16(p.buf[p.pos:]))
	p.pos += 2
	if !p.need(l) {
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}
