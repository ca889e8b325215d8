package manifest

import (
	"fmt"
	"time"

	"github.com/hupe1980/sparsego/model"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// Compression names a codec applied to a segment blob. Local segments are
// always stored uncompressed.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionLZ4  Compression = "lz4"
	CompressionZSTD Compression = "zstd"
)

// Manifest describes the set of live segments at a point in time.
type Manifest struct {
	Version       int             `json:"version" yaml:"version"`
	ID            uint64          `json:"id" yaml:"id"`
	CreatedAt     time.Time       `json:"created_at" yaml:"created_at"`
	WeightFormat  uint8           `json:"weight_format" yaml:"weight_format"`
	NextSegmentID model.SegmentID `json:"next_segment_id" yaml:"next_segment_id"`
	// NextPointID is the first id never handed out. Ids are not reused.
	NextPointID model.PointID `json:"next_point_id" yaml:"next_point_id"`
	// MaxLSN is the last WAL record folded into the segments.
	MaxLSN   uint64        `json:"max_lsn" yaml:"max_lsn"`
	Segments []SegmentInfo `json:"segments" yaml:"segments"`
}

// New creates a new empty manifest.
func New(weightFormat uint8) *Manifest {
	return &Manifest{
		Version:       CurrentVersion,
		CreatedAt:     time.Now(),
		WeightFormat:  weightFormat,
		NextSegmentID: 1,
	}
}

// SegmentInfo describes a single segment.
type SegmentInfo struct {
	ID model.SegmentID `json:"id" yaml:"id"`
	// Path is relative to the data directory or snapshot root.
	Path string `json:"path" yaml:"path"`
	// Size and Checksum describe the uncompressed segment file.
	Size        int64       `json:"size" yaml:"size"`
	Checksum    uint32      `json:"checksum" yaml:"checksum"`
	PointCount  uint32      `json:"point_count" yaml:"point_count"`
	Tombstones  uint32      `json:"tombstones" yaml:"tombstones"`
	Compression Compression `json:"compression,omitempty" yaml:"compression,omitempty"`
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Segments = append([]SegmentInfo(nil), m.Segments...)
	return &c
}

// Segment returns the info for id.
func (m *Manifest) Segment(id model.SegmentID) (SegmentInfo, bool) {
	for _, s := range m.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return SegmentInfo{}, false
}

// PointCount is the number of stored points across segments, tombstones
// included.
func (m *Manifest) PointCount() uint64 {
	var n uint64
	for _, s := range m.Segments {
		n += uint64(s.PointCount)
	}
	return n
}

// FileName returns the blob name of manifest version id.
func FileName(id uint64) string {
	return fmt.Sprintf("%s-%06d.bin", ManifestFileName, id)
}
