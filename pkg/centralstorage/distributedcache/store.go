// Package distributedcache decorates a centralstorage.Store with an
// in-memory LRU front for checkpoint blobs, grounded in the teacher's
// flatbacked.store decorator pattern (a store wrapping a base
// object.Store to add a capability the base lacks). The cache lives in
// this process's memory: repeated fetches of the same checkpoint by this
// node are served without going back to base, but the cache is not shared
// with other nodes.
package distributedcache

import (
	"container/list"
	"context"
	"sync"

	"locationstore.dev/lls/pkg/centralstorage"
)

type cacheEntry struct {
	checkpointID string
	data         []byte
}

// Store adds a bounded in-memory blob cache in front of base.
type Store struct {
	base     centralstorage.Store
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

// NewStore creates a Store caching up to capacity blobs in front of base.
func NewStore(base centralstorage.Store, capacity int) *Store {
	return &Store{
		base:     base,
		capacity: capacity,
		entries:  map[string]*list.Element{},
		order:    list.New(),
	}
}

// PutBlob implements centralstorage.Store. The cache is not populated on
// write: only downloads are cached, since the writer (the checkpoint
// master) never re-reads its own blob.
func (s *Store) PutBlob(ctx context.Context, checkpointID string, data []byte) error {
	return s.base.PutBlob(ctx, checkpointID, data)
}

// GetBlob implements centralstorage.Store, consulting the cache before
// falling back to base.
func (s *Store) GetBlob(ctx context.Context, checkpointID string) ([]byte, error) {
	if data, ok := s.lookup(checkpointID); ok {
		return data, nil
	}
	data, err := s.base.GetBlob(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	s.insert(checkpointID, data)
	return data, nil
}

// PutManifest implements centralstorage.Store.
func (s *Store) PutManifest(ctx context.Context, manifest centralstorage.Manifest) error {
	return s.base.PutManifest(ctx, manifest)
}

// LatestManifest implements centralstorage.Store. Manifests are small and
// change on every checkpoint, so they are always read through to base
// rather than cached.
func (s *Store) LatestManifest(ctx context.Context) (centralstorage.Manifest, bool, error) {
	return s.base.LatestManifest(ctx)
}

func (s *Store) lookup(checkpointID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.entries[checkpointID]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).data, true
}

func (s *Store) insert(checkpointID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[checkpointID]; ok {
		s.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).data = data
		return
	}
	elem := s.order.PushFront(&cacheEntry{checkpointID: checkpointID, data: data})
	s.entries[checkpointID] = elem
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*cacheEntry).checkpointID)
	}
}
