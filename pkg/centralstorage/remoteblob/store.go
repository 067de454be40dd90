// Package remoteblob implements centralstorage.Store on top of a remote
// blob service, reached over gRPC. The wire protocol itself is out of
// scope (spec.md §1); this package only adapts an injected client
// capability to the centralstorage.Store contract, the way the teacher's
// object/local packages sit behind narrow object.Store interfaces
// regardless of backing transport.
package remoteblob

import (
	"context"

	"github.com/buildbarn/bb-storage/pkg/util"
	"google.golang.org/grpc"

	"locationstore.dev/lls/pkg/centralstorage"
)

// Client is the narrow capability this package needs from a remote blob
// service. A production implementation wraps a generated gRPC client
// stub; NewStore takes a *grpc.ClientConn only to make the
// dependency on google.golang.org/grpc concrete without committing to a
// specific generated service (the wire schema for the remote blob and
// role-lease services is explicitly out of scope, spec.md §6).
type Client interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Store adapts a Client into a centralstorage.Store, storing the
// manifest of the latest checkpoint under a well-known key alongside
// each checkpoint's blob.
type Store struct {
	client Client
}

// NewStore creates a Store backed by client. conn is retained only to
// document that a real deployment dials the remote blob service over
// gRPC; it is not otherwise used by this package.
func NewStore(client Client, conn *grpc.ClientConn) *Store {
	return &Store{client: client}
}

const latestManifestKey = "latest-manifest"

// PutBlob implements centralstorage.Store.
func (s *Store) PutBlob(ctx context.Context, checkpointID string, data []byte) error {
	if err := s.client.Put(ctx, "checkpoint/"+checkpointID, data); err != nil {
		return util.StatusWrapf(err, "Failed to upload checkpoint blob %q to remote storage", checkpointID)
	}
	return nil
}

// GetBlob implements centralstorage.Store.
func (s *Store) GetBlob(ctx context.Context, checkpointID string) ([]byte, error) {
	data, err := s.client.Get(ctx, "checkpoint/"+checkpointID)
	if err != nil {
		return nil, util.StatusWrapf(err, "Failed to download checkpoint blob %q from remote storage", checkpointID)
	}
	return data, nil
}

// PutManifest implements centralstorage.Store.
func (s *Store) PutManifest(ctx context.Context, manifest centralstorage.Manifest) error {
	data, err := encodeManifest(manifest)
	if err != nil {
		return err
	}
	if err := s.client.Put(ctx, latestManifestKey, data); err != nil {
		return util.StatusWrap(err, "Failed to publish checkpoint manifest to remote storage")
	}
	return nil
}

// LatestManifest implements centralstorage.Store. Any error from the
// client while fetching the manifest is reported as "no manifest
// published" (false and a nil error); only a manifest that cannot be
// decoded returns an error.
func (s *Store) LatestManifest(ctx context.Context) (centralstorage.Manifest, bool, error) {
	data, err := s.client.Get(ctx, latestManifestKey)
	if err != nil {
		return centralstorage.Manifest{}, false, nil
	}
	manifest, err := decodeManifest(data)
	if err != nil {
		return centralstorage.Manifest{}, false, util.StatusWrap(err, "Failed to parse checkpoint manifest from remote storage")
	}
	return manifest, true, nil
}
