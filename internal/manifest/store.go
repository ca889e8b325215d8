package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/sparsego/blobstore"
)

// Store persists manifests in a BlobStore.
//
// Save writes MANIFEST-NNNNNN.bin and then repoints CURRENT at it. A crash
// between the two leaves the previous manifest current.
type Store struct {
	store blobstore.BlobStore
	mu    sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{store: store}
}

// Load loads the current manifest.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	return s.LoadVersion(ctx, 0)
}

// LoadVersion loads a specific version ID. 0 means latest.
func (s *Store) LoadVersion(ctx context.Context, versionID uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := FileName(versionID)
	if versionID == 0 {
		current, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		name = strings.TrimSpace(string(current))
		if !strings.HasPrefix(name, ManifestFileName+"-") {
			return nil, fmt.Errorf("%w: CURRENT points at %q", ErrCorrupt, name)
		}
	}

	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", name, err)
	}
	return ReadBinary(bytes.NewReader(data))
}

// ListVersions returns the IDs of all stored manifests in ascending order.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.store.List(ctx, ManifestFileName+"-")
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, f := range files {
		if id, ok := parseFileName(f); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func parseFileName(name string) (uint64, bool) {
	digits, ok := strings.CutPrefix(name, ManifestFileName+"-")
	if !ok {
		return 0, false
	}
	digits, ok = strings.CutSuffix(digits, ".bin")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Save assigns m the next ID and commits it.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now()

	var buf bytes.Buffer
	if err := m.WriteBinary(&buf); err != nil {
		return err
	}

	filename := FileName(m.ID)
	if err := s.store.Put(ctx, filename, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	if err := s.store.Put(ctx, CurrentFileName, []byte(filename)); err != nil {
		return fmt.Errorf("update %s: %w", CurrentFileName, err)
	}
	return nil
}

// DeleteVersion deletes the manifest file for the given version.
func (s *Store) DeleteVersion(ctx context.Context, versionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Delete(ctx, FileName(versionID))
}

// Prune deletes all manifests older than the newest keep versions.
func (s *Store) Prune(ctx context.Context, keep int) error {
	ids, err := s.ListVersions(ctx)
	if err != nil {
		return err
	}
	if keep < 1 {
		keep = 1
	}
	if len(ids) <= keep {
		return nil
	}
	for _, id := range ids[:len(ids)-keep] {
		if err := s.DeleteVersion(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
