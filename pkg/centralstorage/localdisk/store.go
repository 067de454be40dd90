// Package localdisk implements centralstorage.Store on top of the local
// filesystem, grounded in the teacher's on-disk persistence idiom in
// pkg/storage/object/local (persistent_state_store.go): a data file per
// key plus a small manifest file guarded by a mutex.
package localdisk

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/buildbarn/bb-storage/pkg/util"

	"locationstore.dev/lls/pkg/centralstorage"
)

// Store persists checkpoint blobs and the latest manifest under a working
// directory on local disk.
type Store struct {
	directory string

	mu sync.Mutex
}

// NewStore creates a Store rooted at directory, which must already exist.
func NewStore(directory string) *Store {
	return &Store{directory: directory}
}

func (s *Store) blobPath(checkpointID string) string {
	return filepath.Join(s.directory, "checkpoint-"+checkpointID+".bin")
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.directory, "manifest.json")
}

// PutBlob implements centralstorage.Store.
func (s *Store) PutBlob(ctx context.Context, checkpointID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.blobPath(checkpointID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return util.StatusWrapf(err, "Failed to write checkpoint blob %q", checkpointID)
	}
	if err := os.Rename(tmp, s.blobPath(checkpointID)); err != nil {
		return util.StatusWrapf(err, "Failed to publish checkpoint blob %q", checkpointID)
	}
	return nil
}

// GetBlob implements centralstorage.Store.
func (s *Store) GetBlob(ctx context.Context, checkpointID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.blobPath(checkpointID))
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to read checkpoint blob %q", checkpointID)
	}
	return data, nil
}

// PutManifest implements centralstorage.Store.
func (s *Store) PutManifest(ctx context.Context, manifest centralstorage.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(manifest)
	if err != nil {
		return util.StatusWrap(err, "Failed to marshal checkpoint manifest")
	}
	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return util.StatusWrap(err, "Failed to write checkpoint manifest")
	}
	return os.Rename(tmp, s.manifestPath())
}

// LatestManifest implements centralstorage.Store.
func (s *Store) LatestManifest(ctx context.Context) (centralstorage.Manifest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.manifestPath())
	if os.IsNotExist(err) {
		return centralstorage.Manifest{}, false, nil
	}
	if err != nil {
		return centralstorage.Manifest{}, false, util.StatusWrap(err, "Failed to read checkpoint manifest")
	}
	var manifest centralstorage.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return centralstorage.Manifest{}, false, util.StatusWrap(err, "Failed to parse checkpoint manifest")
	}
	return manifest, true, nil
}
