// Package eventstore defines the narrow contract LLS uses against the
// ordered event stream (spec.md component D, §4.8). The wire transport to
// the stream is explicitly out of scope (spec.md §1); this package only
// describes the shape LLS depends on, plus the downstream consumer
// adapter that applies incoming events to the Content Location Database.
package eventstore

import (
	"context"
	"time"

	"locationstore.dev/lls/pkg/contenthash"
)

// SequencePoint is an opaque, totally ordered cursor into the event
// stream (spec.md Glossary).
type SequencePoint uint64

// Before reports whether s sorts before other.
func (s SequencePoint) Before(other SequencePoint) bool { return s < other }

// HashSize pairs a hash with the size an Add or Reconcile batch reports
// for it.
type HashSize struct {
	Hash contenthash.Hash
	Size uint64
}

// Store is the production/emission side of the event stream that LLS
// depends on (spec.md §4.8).
type Store interface {
	// StartProcessing begins producing events from the given sequence
	// point. Called when this node becomes (or remains) Master.
	StartProcessing(ctx context.Context, from SequencePoint) error

	// SuspendProcessing stops producing events. Consumption for
	// downstream Content Location Database updates continues
	// regardless of production state (spec.md §4.3 step 6).
	SuspendProcessing(ctx context.Context) error

	// AddLocations emits a single batched Add event. touch additionally
	// requests that consumers treat every hash's LastAccessUTC as
	// refreshed to the event's commit time.
	AddLocations(ctx context.Context, machineID uint32, hashes []HashSize, touch bool) error

	// RemoveLocations emits a single batched Remove event.
	RemoveLocations(ctx context.Context, machineID uint32, hashes []contenthash.Hash) error

	// Touch emits a single batched Touch event.
	Touch(ctx context.Context, machineID uint32, hashes []contenthash.Hash, now time.Time) error

	// Reconcile emits a single Reconcile batch describing this
	// machine's authoritative Add/Remove delta (spec.md §4.5).
	Reconcile(ctx context.Context, machineID uint32, added []HashSize, removed []contenthash.Hash) error

	// PauseSending scopes a suppression of production. The returned
	// release function must be called exactly once, on every exit path
	// (spec.md §5, "resource scope").
	PauseSending(ctx context.Context) (release func(), err error)

	// LastProcessedSequencePoint returns the cursor used when creating
	// a checkpoint (spec.md §4.3 step 7).
	LastProcessedSequencePoint(ctx context.Context) (SequencePoint, error)
}

// Consumer is the narrow capability LLS's Content Location Database
// exposes to the event stream's applier (spec.md §4.8, "adapter
// objects"). Every method also implies marking the sending machine active
// in Cluster State, which concrete adapters perform before delegating.
type Consumer interface {
	LocationAdded(machineID uint32, hash contenthash.Hash, size uint64, touch bool, now time.Time)
	LocationRemoved(machineID uint32, hash contenthash.Hash)
	ContentTouched(machineID uint32, hash contenthash.Hash, now time.Time)
}
