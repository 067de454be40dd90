package distributedcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"locationstore.dev/lls/pkg/centralstorage"
	"locationstore.dev/lls/pkg/centralstorage/distributedcache"
)

type fakeBase struct {
	blobs map[string][]byte
}

func (f *fakeBase) PutBlob(ctx context.Context, checkpointID string, data []byte) error {
	f.blobs[checkpointID] = data
	return nil
}
func (f *fakeBase) GetBlob(ctx context.Context, checkpointID string) ([]byte, error) {
	return f.blobs[checkpointID], nil
}
func (f *fakeBase) PutManifest(ctx context.Context, manifest centralstorage.Manifest) error {
	return nil
}
func (f *fakeBase) LatestManifest(ctx context.Context) (centralstorage.Manifest, bool, error) {
	return centralstorage.Manifest{}, false, nil
}

type instrumentedBase struct {
	*fakeBase
	gets int
}

func (b *instrumentedBase) GetBlob(ctx context.Context, checkpointID string) ([]byte, error) {
	b.gets++
	return b.fakeBase.GetBlob(ctx, checkpointID)
}

func TestGetBlobCachesAfterFirstFetch(t *testing.T) {
	base := &instrumentedBase{fakeBase: &fakeBase{blobs: map[string][]byte{"c1": []byte("data")}}}
	store := distributedcache.NewStore(base, 4)
	ctx := context.Background()

	_, err := store.GetBlob(ctx, "c1")
	require.NoError(t, err)
	_, err = store.GetBlob(ctx, "c1")
	require.NoError(t, err)

	require.Equal(t, 1, base.gets)
}

func TestGetBlobEvictsLeastRecentlyUsed(t *testing.T) {
	base := &instrumentedBase{fakeBase: &fakeBase{blobs: map[string][]byte{
		"a": []byte("1"), "b": []byte("2"), "c": []byte("3"),
	}}}
	store := distributedcache.NewStore(base, 2)
	ctx := context.Background()

	_, _ = store.GetBlob(ctx, "a")
	_, _ = store.GetBlob(ctx, "b")
	_, _ = store.GetBlob(ctx, "c") // evicts "a"
	_, _ = store.GetBlob(ctx, "a") // must refetch

	require.Equal(t, 4, base.gets)
}
