package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	magicNumber = 0x47535053 // "SPSG"
	version     = 1

	headerSize   = 24
	trailerSize  = 48
	dirEntrySize = 16
)

// ErrIntegrity is returned when a segment fails validation.
var ErrIntegrity = errors.New("segment: integrity check failed")

func integrity(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

type fileHeader struct {
	SegmentID uint64
	Flags     uint32
}

func (h fileHeader) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:], magicNumber)
	binary.LittleEndian.PutUint32(buf[4:], version)
	binary.LittleEndian.PutUint64(buf[8:], h.SegmentID)
	binary.LittleEndian.PutUint32(buf[16:], h.Flags)
	return buf
}

func decodeHeader(buf []byte) (fileHeader, error) {
	if len(buf) < headerSize {
		return fileHeader{}, integrity("short header")
	}
	if binary.LittleEndian.Uint32(buf[0:]) != magicNumber {
		return fileHeader{}, integrity("bad magic")
	}
	if v := binary.LittleEndian.Uint32(buf[4:]); v != version {
		return fileHeader{}, integrity("unsupported version %d", v)
	}
	return fileHeader{
		SegmentID: binary.LittleEndian.Uint64(buf[8:]),
		Flags:     binary.LittleEndian.Uint32(buf[16:]),
	}, nil
}

type trailer struct {
	NumDims   uint32
	PointsOff uint64
	PointsLen uint32
	TombOff   uint64
	TombLen   uint32
	DirOff    uint64
	MetaCRC   uint32
}

func (t trailer) encode() []byte {
	buf := make([]byte, trailerSize)
	binary.LittleEndian.PutUint32(buf[0:], t.NumDims)
	binary.LittleEndian.PutUint64(buf[4:], t.PointsOff)
	binary.LittleEndian.PutUint32(buf[12:], t.PointsLen)
	binary.LittleEndian.PutUint64(buf[16:], t.TombOff)
	binary.LittleEndian.PutUint32(buf[24:], t.TombLen)
	binary.LittleEndian.PutUint64(buf[28:], t.DirOff)
	binary.LittleEndian.PutUint32(buf[36:], t.MetaCRC)
	binary.LittleEndian.PutUint32(buf[44:], magicNumber)
	return buf
}

func decodeTrailer(buf []byte) (trailer, error) {
	if len(buf) != trailerSize || binary.LittleEndian.Uint32(buf[44:]) != magicNumber {
		return trailer{}, integrity("bad trailer")
	}
	return trailer{
		NumDims:   binary.LittleEndian.Uint32(buf[0:]),
		PointsOff: binary.LittleEndian.Uint64(buf[4:]),
		PointsLen: binary.LittleEndian.Uint32(buf[12:]),
		TombOff:   binary.LittleEndian.Uint64(buf[16:]),
		TombLen:   binary.LittleEndian.Uint32(buf[24:]),
		DirOff:    binary.LittleEndian.Uint64(buf[28:]),
		MetaCRC:   binary.LittleEndian.Uint32(buf[36:]),
	}, nil
}
