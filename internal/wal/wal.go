package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/sparsego/internal/fs"
)

// Durability controls the durability guarantees of the WAL.
type Durability int

const (
	// DurabilityAsync relies on the OS page cache. Fast but risky.
	DurabilityAsync Durability = iota
	// DurabilitySync fsyncs before Append returns. Concurrent appenders
	// share one fsync (group commit).
	DurabilitySync
)

const (
	walMagic      = "SPSGOWAL"
	walVersion    = 1
	walHeaderSize = 12
)

var (
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
	ErrInvalidHeader       = errors.New("invalid WAL header")
)

type Options struct {
	Durability Durability
}

func DefaultOptions() Options {
	return Options{Durability: DurabilitySync}
}

// WAL manages one write-ahead log file.
type WAL struct {
	mu   sync.Mutex
	fs   fs.FileSystem
	file fs.File
	cw   *countingWriter
	path string
	opts Options

	lastLSN uint64

	// Group commit state
	syncedOffset int64
	syncCond     *sync.Cond
	doneCond     *sync.Cond
	closed       bool
	stopped      bool // syncer exited
	lastErr      error
	wg           sync.WaitGroup
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) Flush() error {
	return cw.w.Flush()
}

// FileName returns the name of WAL generation gen.
func FileName(gen uint64) string {
	return fmt.Sprintf("wal-%06d.log", gen)
}

// ParseFileName extracts the generation from a WAL file name.
func ParseFileName(name string) (uint64, bool) {
	digits, ok := strings.CutPrefix(name, "wal-")
	if !ok {
		return 0, false
	}
	digits, ok = strings.CutSuffix(digits, ".log")
	if !ok {
		return 0, false
	}
	gen, err := strconv.ParseUint(digits, 10, 64)
	return gen, err == nil
}

// List returns the WAL generations present in dir, ascending.
func List(fsys fs.FileSystem, dir string) ([]uint64, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var gens []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if gen, ok := ParseFileName(e.Name()); ok {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// Open opens or creates a WAL at the given path.
func Open(fsys fs.FileSystem, path string, opts Options) (*WAL, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	offset := stat.Size()

	if offset == 0 {
		header := make([]byte, walHeaderSize)
		copy(header[0:8], walMagic)
		binary.LittleEndian.PutUint32(header[8:12], uint32(walVersion))
		if _, err := f.Write(header); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		if err := fs.SyncDir(fsys, filepath.Dir(path)); err != nil {
			f.Close()
			return nil, err
		}
		offset = walHeaderSize
	} else if err := checkHeader(f, offset); err != nil {
		f.Close()
		return nil, err
	}

	w := &WAL{
		fs:           fsys,
		file:         f,
		cw:           &countingWriter{w: bufio.NewWriter(f), n: offset},
		path:         path,
		opts:         opts,
		syncedOffset: offset,
	}
	w.syncCond = sync.NewCond(&w.mu)
	w.doneCond = sync.NewCond(&w.mu)

	if opts.Durability == DurabilitySync {
		w.wg.Add(1)
		go w.runSyncer()
	}

	return w, nil
}

func checkHeader(f io.ReaderAt, size int64) error {
	if size < walHeaderSize {
		return fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, size, walHeaderSize)
	}
	header := make([]byte, walHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return err
	}
	if string(header[0:8]) != walMagic {
		return fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, header[0:8])
	}
	if ver := binary.LittleEndian.Uint32(header[8:12]); ver != walVersion {
		return fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, walVersion)
	}
	return nil
}

// Path returns the file path of the log.
func (w *WAL) Path() string {
	return w.path
}

// Size returns the current size of the WAL in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cw.n
}

// LastLSN returns the LSN of the last appended record.
func (w *WAL) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLSN
}

func (w *WAL) runSyncer() {
	defer w.wg.Done()
	w.mu.Lock()
	defer w.mu.Unlock()
	defer func() {
		w.stopped = true
		w.doneCond.Broadcast()
	}()

	for {
		for w.cw.n <= w.syncedOffset && !w.closed {
			w.syncCond.Wait()
		}
		if w.closed && w.cw.n <= w.syncedOffset {
			return
		}

		target := w.cw.n

		w.mu.Unlock()
		err := w.file.Sync()
		w.mu.Lock()

		if err != nil {
			w.lastErr = fmt.Errorf("wal sync failed: %w", err)
			w.doneCond.Broadcast()
			return
		}

		if target > w.syncedOffset {
			w.syncedOffset = target
		}
		w.doneCond.Broadcast()
	}
}

// Append writes a record to the WAL, respecting the configured durability.
func (w *WAL) Append(rec *Record) error {
	offset, err := w.AppendAsync(rec)
	if err != nil {
		return err
	}
	if w.opts.Durability == DurabilitySync {
		return w.WaitFor(offset)
	}
	return nil
}

// AppendAsync writes a record without waiting for fsync. It returns the file
// offset of the end of the record.
func (w *WAL) AppendAsync(rec *Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, os.ErrClosed
	}
	if w.lastErr != nil {
		return 0, w.lastErr
	}

	if err := rec.Encode(w.cw); err != nil {
		w.lastErr = err
		return 0, err
	}
	if err := w.cw.Flush(); err != nil {
		w.lastErr = err
		return 0, err
	}
	if rec.LSN > w.lastLSN {
		w.lastLSN = rec.LSN
	}

	end := w.cw.n
	if w.opts.Durability == DurabilitySync {
		w.syncCond.Signal()
	}
	return end, nil
}

// WaitFor waits until the WAL is synced up to the given offset.
func (w *WAL) WaitFor(offset int64) error {
	if w.opts.Durability != DurabilitySync {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for w.syncedOffset < offset && !w.stopped && w.lastErr == nil {
		w.doneCond.Wait()
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if w.syncedOffset < offset {
		return os.ErrClosed
	}
	return nil
}

// Sync commits all buffered writes to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if err := w.cw.Flush(); err != nil {
		return err
	}

	if w.opts.Durability == DurabilityAsync {
		return w.file.Sync()
	}

	target := w.cw.n
	w.syncCond.Signal()
	for w.syncedOffset < target && !w.closed && w.lastErr == nil {
		w.doneCond.Wait()
	}
	return w.lastErr
}

// Close flushes, syncs and closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return os.ErrClosed
	}

	if err := w.cw.Flush(); err != nil {
		w.closed = true
		w.syncCond.Signal()
		w.mu.Unlock()
		w.wg.Wait()
		w.file.Close()
		return err
	}

	w.closed = true
	w.syncCond.Signal()
	w.mu.Unlock()

	w.wg.Wait()

	if w.opts.Durability == DurabilityAsync {
		if err := w.file.Sync(); err != nil {
			w.file.Close()
			return err
		}
	}
	return w.file.Close()
}

// Reader iterates over the records of a WAL file.
type Reader struct {
	f      fs.File
	r      *bufio.Reader
	offset int64
}

// OpenReader opens the WAL file at path for replay.
func OpenReader(fsys fs.FileSystem, path string) (*Reader, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := checkHeader(f, stat.Size()); err != nil {
		f.Close()
		return nil, err
	}
	sr := io.NewSectionReader(f, walHeaderSize, stat.Size()-walHeaderSize)
	return &Reader{f: f, r: bufio.NewReader(sr), offset: walHeaderSize}, nil
}

// Next reads the next record. Returns io.EOF when done.
func (r *Reader) Next() (*Record, error) {
	rec, n, err := Decode(r.r)
	if err == nil {
		r.offset += n
	}
	return rec, err
}

// Offset returns the end offset of the last valid record.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Records int
	LastLSN uint64
	// Truncated reports a torn or corrupt tail. Records after it are ignored.
	Truncated bool
	TailErr   error
}

// Replay calls fn for every record in the file at path, in order. A torn or
// corrupt tail ends the replay without error; it is reported in the result.
func Replay(fsys fs.FileSystem, path string, fn func(*Record) error) (ReplayResult, error) {
	var res ReplayResult

	r, err := OpenReader(fsys, path)
	if err != nil {
		return res, err
	}
	defer r.Close()

	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			res.Truncated = true
			res.TailErr = err
			return res, nil
		}
		if err := fn(rec); err != nil {
			return res, err
		}
		res.Records++
		if rec.LSN > res.LastLSN {
			res.LastLSN = rec.LSN
		}
	}
}
