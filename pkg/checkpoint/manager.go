// Package checkpoint implements the Checkpoint Manager (spec.md
// component F): creating master-side snapshots of the Content Location
// Database and restoring them, together with the last consumed sequence
// point, on any role (spec.md §4.4).
package checkpoint

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/buildbarn/bb-storage/pkg/util"

	"locationstore.dev/lls/pkg/centralstorage"
	"locationstore.dev/lls/pkg/contentdb"
	"locationstore.dev/lls/pkg/eventstore"
)

// wireEntry mirrors contentdb.SnapshotEntry in a form gob can encode
// without exporting contentdb's internals into the wire format.
type wireEntry struct {
	Hash          [32]byte
	Size          uint64
	LastAccessUTC time.Time
	Machines      []uint32
}

// Manager creates and restores checkpoints of a Content Location Database
// against a central blob store.
type Manager struct {
	central centralstorage.Store
	db      *contentdb.DB
}

// New creates a Manager for db, persisting through central.
func New(central centralstorage.Store, db *contentdb.DB) *Manager {
	return &Manager{central: central, db: db}
}

// Create snapshots db and publishes it to central storage under a new
// checkpointID, together with sequencePoint (spec.md §4.3 step 7). It
// returns the manifest that was published.
func (m *Manager) Create(ctx context.Context, checkpointID string, sequencePoint eventstore.SequencePoint, now time.Time) (centralstorage.Manifest, error) {
	snapshot := m.db.Snapshot()
	wire := make([]wireEntry, len(snapshot))
	for i, e := range snapshot {
		wire[i] = wireEntry{Hash: e.Hash, Size: e.Size, LastAccessUTC: e.LastAccessUTC, Machines: e.Machines}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return centralstorage.Manifest{}, util.StatusWrap(err, "Failed to encode checkpoint snapshot")
	}

	if err := m.central.PutBlob(ctx, checkpointID, buf.Bytes()); err != nil {
		return centralstorage.Manifest{}, util.StatusWrapf(err, "Failed to publish checkpoint blob %q", checkpointID)
	}

	manifest := centralstorage.Manifest{
		CheckpointID:   checkpointID,
		CheckpointTime: now,
		SequencePoint:  sequencePoint,
	}
	if err := m.central.PutManifest(ctx, manifest); err != nil {
		return centralstorage.Manifest{}, util.StatusWrapf(err, "Failed to publish checkpoint manifest %q", checkpointID)
	}
	return manifest, nil
}

// Restore fetches the blob for checkpointID from central storage and
// installs it into the Content Location Database, bypassing the
// database's writeability check (spec.md §4.4 step 4).
func (m *Manager) Restore(ctx context.Context, checkpointID string) error {
	data, err := m.central.GetBlob(ctx, checkpointID)
	if err != nil {
		return util.StatusWrapf(err, "Failed to fetch checkpoint blob %q", checkpointID)
	}

	var wire []wireEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return util.StatusWrapf(err, "Failed to decode checkpoint blob %q", checkpointID)
	}

	snapshot := make([]contentdb.SnapshotEntry, len(wire))
	for i, e := range wire {
		snapshot[i] = contentdb.SnapshotEntry{Hash: e.Hash, Size: e.Size, LastAccessUTC: e.LastAccessUTC, Machines: e.Machines}
	}
	m.db.Restore(snapshot)
	return nil
}

// LatestManifest returns the most recently published manifest, or false
// if none exists yet (spec.md §4.4 step 1).
func (m *Manager) LatestManifest(ctx context.Context) (centralstorage.Manifest, bool, error) {
	manifest, ok, err := m.central.LatestManifest(ctx)
	if err != nil {
		return centralstorage.Manifest{}, false, util.StatusWrap(err, "Failed to fetch latest checkpoint manifest")
	}
	return manifest, ok, nil
}
