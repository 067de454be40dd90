// Package local provides an in-process reference implementation of
// eventstore.Store, applying events directly to a Consumer rather than
// through the (out of scope) wire transport. It is used both for tests
// and as the temporary, short-lived store the LLS core opens during
// reconciliation (spec.md §4.5 step 5).
package local

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"locationstore.dev/lls/pkg/contenthash"
	"locationstore.dev/lls/pkg/eventstore"
	"locationstore.dev/lls/pkg/timesource"
)

// Store is a direct-apply eventstore.Store. All emit calls are applied to
// the configured Consumer synchronously while holding the store's lock,
// so batches for a single hash observe emit order (spec.md §5,
// "ordering guarantees"). Marking the sending machine active in Cluster
// State is the Consumer's responsibility (spec.md §4.8), not the
// Store's.
type Store struct {
	consumer eventstore.Consumer
	clock    timesource.Source

	mu         sync.Mutex
	suspended  bool // true when this node is not the event stream's producer (Worker)
	pauseCount int  // >0 while PauseSending's scope is held
	cursor     eventstore.SequencePoint
}

// New creates a Store that applies events to consumer.
func New(consumer eventstore.Consumer, clock timesource.Source) *Store {
	return &Store{consumer: consumer, clock: clock, suspended: true}
}

// StartProcessing implements eventstore.Store.
func (s *Store) StartProcessing(ctx context.Context, from eventstore.SequencePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
	s.cursor = from
	return nil
}

// SuspendProcessing implements eventstore.Store.
func (s *Store) SuspendProcessing(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
	return nil
}

func (s *Store) checkCanSend() error {
	if s.suspended {
		return status.Error(codes.FailedPrecondition, "event store is not currently producing events (this node is not Master)")
	}
	if s.pauseCount > 0 {
		return status.Error(codes.Unavailable, "event store sending is currently paused")
	}
	return nil
}

// AddLocations implements eventstore.Store.
func (s *Store) AddLocations(ctx context.Context, machineID uint32, hashes []eventstore.HashSize, touch bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCanSend(); err != nil {
		return err
	}
	now := s.clock.Now()
	for _, hs := range hashes {
		s.consumer.LocationAdded(machineID, hs.Hash, hs.Size, touch, now)
	}
	s.cursor++
	return nil
}

// RemoveLocations implements eventstore.Store.
func (s *Store) RemoveLocations(ctx context.Context, machineID uint32, hashes []contenthash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCanSend(); err != nil {
		return err
	}
	for _, h := range hashes {
		s.consumer.LocationRemoved(machineID, h)
	}
	s.cursor++
	return nil
}

// Touch implements eventstore.Store.
func (s *Store) Touch(ctx context.Context, machineID uint32, hashes []contenthash.Hash, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCanSend(); err != nil {
		return err
	}
	for _, h := range hashes {
		s.consumer.ContentTouched(machineID, h, now)
	}
	s.cursor++
	return nil
}

// Reconcile implements eventstore.Store. Unlike the other emit methods,
// Reconcile is exempt from the suspended/paused gate: it is only ever
// called on the short-lived temporary store opened for the duration of a
// reconciliation cycle (spec.md §4.5 step 5), which has no independent
// "processing" lifecycle of its own.
func (s *Store) Reconcile(ctx context.Context, machineID uint32, added []eventstore.HashSize, removed []contenthash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, hs := range added {
		s.consumer.LocationAdded(machineID, hs.Hash, hs.Size, false, now)
	}
	for _, h := range removed {
		s.consumer.LocationRemoved(machineID, h)
	}
	s.cursor++
	return nil
}

// PauseSending implements eventstore.Store, guaranteeing release on every
// exit path via the returned closure (spec.md §5, "resource scope").
func (s *Store) PauseSending(ctx context.Context) (func(), error) {
	s.mu.Lock()
	s.pauseCount++
	s.mu.Unlock()

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		s.mu.Lock()
		s.pauseCount--
		s.mu.Unlock()
	}
	return release, nil
}

// LastProcessedSequencePoint implements eventstore.Store.
func (s *Store) LastProcessedSequencePoint(ctx context.Context) (eventstore.SequencePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}
