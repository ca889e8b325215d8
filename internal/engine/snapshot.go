package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/sparsego/blobstore"
	"github.com/hupe1980/sparsego/internal/compress"
	"github.com/hupe1980/sparsego/internal/fs"
	"github.com/hupe1980/sparsego/internal/hash"
	"github.com/hupe1980/sparsego/internal/manifest"
	"github.com/hupe1980/sparsego/internal/segment"
	"github.com/hupe1980/sparsego/model"
)

// SegmentPrefix is the blob prefix under which snapshot segments are stored.
const SegmentPrefix = "segments"

const defaultTransferConcurrency = 4

// ExportOption configures ExportSnapshot.
type ExportOption func(*exportOptions)

type exportOptions struct {
	compression compress.Algorithm
	concurrency int
}

// WithCompression compresses exported segment blobs.
func WithCompression(a compress.Algorithm) ExportOption {
	return func(o *exportOptions) {
		o.compression = a
	}
}

// WithConcurrency bounds the number of parallel segment uploads.
func WithConcurrency(n int) ExportOption {
	return func(o *exportOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

type exportSource struct {
	info manifest.SegmentInfo
	open func() (io.ReadCloser, error)
}

// ExportSnapshot writes one consistent view of the index to dst: every
// segment, the buffered writes folded into an extra segment, a manifest and
// the CURRENT pointer. The live index is not modified.
func (e *Engine) ExportSnapshot(ctx context.Context, dst blobstore.BlobStore, opts ...ExportOption) (_ *manifest.Manifest, err error) {
	start := time.Now()
	var written atomic.Int64
	defer func() {
		e.metrics.OnSnapshot("export", time.Since(start), written.Load(), err)
	}()

	o := exportOptions{concurrency: defaultTransferConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	if _, err := compress.Parse(string(o.compression)); err != nil {
		return nil, err
	}

	v, err := e.CurrentView()
	if err != nil {
		return nil, err
	}
	defer v.Release()

	out := v.Manifest().Clone()
	out.MaxLSN = 0
	out.NextPointID = v.NextID()

	sources := make([]exportSource, 0, len(v.Segments())+1)
	for _, seg := range v.Segments() {
		p := seg.Path()
		sources = append(sources, exportSource{
			info: seg.Info(),
			open: func() (io.ReadCloser, error) { return e.fs.OpenFile(p, os.O_RDONLY, 0) },
		})
	}

	if frozen := v.Buffer(); !frozen.Empty() {
		e.mu.Lock()
		id := e.nextSegmentID
		e.nextSegmentID++
		e.mu.Unlock()

		var buf bytes.Buffer
		sw := segment.NewWriter(&buf, id, segment.WithWeightFormat(e.format))
		if err := writeBuffer(ctx, sw, frozen); err != nil {
			return nil, fmt.Errorf("fold buffer: %w", err)
		}
		info, err := sw.Finish(frozen.Deleted())
		if err != nil {
			return nil, fmt.Errorf("fold buffer: %w", err)
		}
		data := buf.Bytes()
		sources = append(sources, exportSource{
			info: manifest.SegmentInfo{
				ID:         id,
				Path:       segmentFileName(id),
				Size:       info.Size,
				Checksum:   info.Checksum,
				PointCount: uint32(info.PointCount),
				Tombstones: uint32(info.Tombstones),
			},
			open: func() (io.ReadCloser, error) { return blobstore.NopReadCloser(bytes.NewReader(data)), nil },
		})
		out.NextSegmentID = max(out.NextSegmentID, id+1)
	}

	// Export versions continue after whatever dst already holds.
	store := manifest.NewStore(dst)
	versions, err := store.ListVersions(ctx)
	if err != nil {
		return nil, err
	}
	out.ID = 0
	if len(versions) > 0 {
		out.ID = versions[len(versions)-1]
	}
	version := out.ID + 1

	infos := make([]manifest.SegmentInfo, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			info := src.info
			info.Path = snapshotSegmentPath(version, info.ID, o.compression)
			info.Compression = manifest.Compression(o.compression)

			n, err := upload(gctx, dst, info.Path, src.open, o.compression)
			if err != nil {
				return fmt.Errorf("export segment %d: %w", info.ID, err)
			}
			written.Add(n)
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out.Segments = infos

	if err := store.Save(ctx, out); err != nil {
		return nil, fmt.Errorf("export manifest: %w", err)
	}

	e.logger.Info("Snapshot exported",
		"manifest", out.ID,
		"segments", len(out.Segments),
		"points", out.PointCount(),
		"bytes", written.Load(),
		"compression", string(o.compression),
		"duration", time.Since(start),
	)
	return out, nil
}

// snapshotSegmentPath places segment blobs under the manifest version that
// references them. A later export into the same store, even of a different
// index, never overwrites blobs an older manifest points at.
func snapshotSegmentPath(version uint64, id model.SegmentID, alg compress.Algorithm) string {
	return path.Join(SegmentPrefix, fmt.Sprintf("%06d", version), segmentFileName(id)+alg.Ext())
}

func upload(ctx context.Context, dst blobstore.BlobStore, name string, open func() (io.ReadCloser, error), alg compress.Algorithm) (int64, error) {
	r, err := open()
	if err != nil {
		return 0, err
	}
	defer r.Close()

	wb, err := dst.Create(ctx, name)
	if err != nil {
		return 0, err
	}

	var n int64
	if alg == compress.None {
		n, err = io.Copy(wb, r)
	} else {
		cw := compress.NewWriter(wb, alg, 0)
		if _, err = io.Copy(cw, r); err == nil {
			err = cw.Close()
		}
		n = cw.Written()
	}
	if err != nil {
		_ = wb.Abort()
		return 0, err
	}
	if err := wb.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// ImportSnapshot downloads the snapshot in src into dir, verifies every
// segment checksum and opens the result. The imported index starts with an
// empty buffer. dir must not hold an index yet.
func ImportSnapshot(ctx context.Context, src blobstore.BlobStore, dir string, opts ...Option) (_ *Engine, err error) {
	start := time.Now()
	cfg := newEngine(dir, opts...)
	var read atomic.Int64
	defer func() {
		cfg.metrics.OnSnapshot("import", time.Since(start), read.Load(), err)
	}()

	local := manifest.NewStore(blobstore.NewLocalStoreFS(dir, cfg.fs))
	if _, err := local.Load(ctx); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, dir)
	} else if !errors.Is(err, manifest.ErrNotFound) {
		return nil, manifestError(err)
	}

	m, err := manifest.NewStore(src).Load(ctx)
	if err != nil {
		return nil, manifestError(err)
	}
	seen := make(map[model.SegmentID]bool, len(m.Segments))
	for _, info := range m.Segments {
		if seen[info.ID] {
			return nil, fmt.Errorf("%w: duplicate segment %d in manifest", ErrIntegrity, info.ID)
		}
		seen[info.ID] = true
	}

	if err := cfg.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	out := m.Clone()
	out.ID = 0
	out.MaxLSN = 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultTransferConcurrency)
	for i, info := range m.Segments {
		g.Go(func() error {
			name := segmentFileName(info.ID)
			n, err := cfg.download(gctx, src, info, filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("import segment %d: %w", info.ID, err)
			}
			read.Add(n)
			out.Segments[i].Path = name
			out.Segments[i].Compression = manifest.CompressionNone
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cfg.removeImported(m)
		return nil, err
	}
	if err := fs.SyncDir(cfg.fs, dir); err != nil {
		cfg.removeImported(m)
		return nil, err
	}
	if err := local.Save(ctx, out); err != nil {
		cfg.removeImported(m)
		return nil, err
	}

	cfg.logger.Info("Snapshot imported",
		"dir", dir,
		"segments", len(out.Segments),
		"points", out.PointCount(),
		"bytes", read.Load(),
		"duration", time.Since(start),
	)
	return Open(dir, opts...)
}

// download copies one segment blob to path, decompressing it and checking
// size and CRC32C against the manifest.
func (e *Engine) download(ctx context.Context, src blobstore.BlobStore, info manifest.SegmentInfo, path string) (_ int64, err error) {
	alg, err := compress.Parse(string(info.Compression))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}

	b, err := src.Open(ctx, info.Path)
	if err != nil {
		return 0, err
	}
	defer b.Close()

	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	tmpPath := path + ".tmp"
	f, err := e.fs.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer func() {
		if f != nil {
			_ = f.Close() // Intentionally ignore: cleanup path
		}
		if err != nil {
			_ = e.fs.Remove(tmpPath) // Intentionally ignore: best-effort cleanup
		}
	}()

	var r io.Reader = rc
	if alg != compress.None {
		r = compress.NewReader(rc, alg)
	}
	hw := hash.NewWriter(f)
	bw := bufio.NewWriterSize(hw, 1<<20)
	n, err := io.Copy(bw, r)
	if err != nil {
		if errors.Is(err, compress.ErrCorrupt) {
			return 0, fmt.Errorf("%w: %w", ErrIntegrity, err)
		}
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	if n != info.Size {
		return 0, fmt.Errorf("%w: segment %d has %d bytes, want %d", ErrIntegrity, info.ID, n, info.Size)
	}
	if got := hw.Sum32(); got != info.Checksum {
		return 0, fmt.Errorf("%w: segment %d checksum %08x, want %08x", ErrIntegrity, info.ID, got, info.Checksum)
	}

	if err := f.Sync(); err != nil {
		return 0, err
	}
	closeErr := f.Close()
	f = nil
	if closeErr != nil {
		return 0, closeErr
	}
	if err := e.fs.Rename(tmpPath, path); err != nil {
		return 0, err
	}
	return b.Size(), nil
}

func (e *Engine) removeImported(m *manifest.Manifest) {
	for _, info := range m.Segments {
		_ = e.fs.Remove(filepath.Join(e.dir, segmentFileName(info.ID))) // Intentionally ignore: best-effort cleanup
	}
}
