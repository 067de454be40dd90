// Package centralstorage defines the blob store for checkpoint artifacts
// (spec.md component E): a local-disk or remote-blob variant, optionally
// wrapped by a distributed-cache front.
package centralstorage

import (
	"context"
	"time"

	"locationstore.dev/lls/pkg/eventstore"
)

// Manifest describes one checkpoint's metadata (spec.md §6, "Checkpoint
// artifact in central storage").
type Manifest struct {
	CheckpointID   string
	CheckpointTime time.Time
	SequencePoint  eventstore.SequencePoint
}

// Store is the narrow contract the Checkpoint Manager depends on. Bytes
// are opaque to every caller above this package (spec.md §6).
type Store interface {
	// PutBlob uploads the opaque snapshot bytes for checkpointID.
	PutBlob(ctx context.Context, checkpointID string, data []byte) error

	// GetBlob downloads the opaque snapshot bytes for checkpointID.
	GetBlob(ctx context.Context, checkpointID string) ([]byte, error)

	// PutManifest publishes manifest, making it discoverable via
	// LatestManifest.
	PutManifest(ctx context.Context, manifest Manifest) error

	// LatestManifest returns the most recently published manifest. The
	// second return value is false if no checkpoint has ever been
	// published.
	LatestManifest(ctx context.Context) (Manifest, bool, error)
}
