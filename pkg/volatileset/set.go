// Package volatileset implements time-expiring membership sets for
// recently-added, recently-touched, and recently-removed content hashes
// (spec.md component A).
//
// A Set is a sharded map guarded by per-shard mutexes rather than a single
// lock, since it sits on the hot path of register/touch/trim. Expiry is
// evaluated lazily on read (Contains, Invalidate do not proactively sweep);
// this keeps the structure simple while satisfying the "linearizable per
// hash" requirement from spec.md §9 without a background sweeper goroutine.
package volatileset

import (
	"sync"
	"time"

	"locationstore.dev/lls/pkg/contenthash"
	"locationstore.dev/lls/pkg/timesource"
)

const shardCount = 32

// Hash is the content identifier used as the set's key.
type Hash = contenthash.Hash

type shard struct {
	mu      sync.Mutex
	entries map[Hash]time.Time
}

// Set is a volatile, time-expiring membership set.
type Set struct {
	clock  timesource.Source
	ttl    time.Duration
	shards [shardCount]*shard
}

// New creates a Set whose entries expire ttl after being added, using clk
// as the time source.
func New(clk timesource.Source, ttl time.Duration) *Set {
	s := &Set{clock: clk, ttl: ttl}
	for i := range s.shards {
		s.shards[i] = &shard{entries: map[Hash]time.Time{}}
	}
	return s
}

func (s *Set) shardFor(h Hash) *shard {
	var idx byte
	for _, b := range h {
		idx ^= b
	}
	return s.shards[int(idx)%shardCount]
}

// Add inserts h, expiring at now+ttl.
func (s *Set) Add(h Hash) {
	sh := s.shardFor(h)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[h] = s.clock.Now().Add(s.ttl)
}

// Contains reports whether h is present and not yet expired. An expired
// entry is evicted as a side effect.
func (s *Set) Contains(h Hash) bool {
	sh := s.shardFor(h)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	expiry, ok := sh.entries[h]
	if !ok {
		return false
	}
	if !s.clock.Now().Before(expiry) {
		delete(sh.entries, h)
		return false
	}
	return true
}

// Invalidate removes h unconditionally, regardless of expiry.
func (s *Set) Invalidate(h Hash) {
	sh := s.shardFor(h)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, h)
}

// InvalidateAll removes every hash in hashes.
func (s *Set) InvalidateAll(hashes []Hash) {
	for _, h := range hashes {
		s.Invalidate(h)
	}
}

// AddAll inserts every hash in hashes.
func (s *Set) AddAll(hashes []Hash) {
	for _, h := range hashes {
		s.Add(h)
	}
}
