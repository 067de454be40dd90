package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"locationstore.dev/lls/pkg/contenthash"
	"locationstore.dev/lls/pkg/eventstore"
	"locationstore.dev/lls/pkg/eventstore/local"
	"locationstore.dev/lls/pkg/timesource"
)

type recordingConsumer struct {
	added   []contenthash.Hash
	removed []contenthash.Hash
	touched []contenthash.Hash
}

func (r *recordingConsumer) LocationAdded(machineID uint32, hash contenthash.Hash, size uint64, touch bool, now time.Time) {
	r.added = append(r.added, hash)
}
func (r *recordingConsumer) LocationRemoved(machineID uint32, hash contenthash.Hash) {
	r.removed = append(r.removed, hash)
}
func (r *recordingConsumer) ContentTouched(machineID uint32, hash contenthash.Hash, now time.Time) {
	r.touched = append(r.touched, hash)
}

func TestSuspendedStoreRejectsEmit(t *testing.T) {
	consumer := &recordingConsumer{}
	store := local.New(consumer, timesource.Fixed(time.Unix(1, 0)))

	err := store.AddLocations(context.Background(), 1, []eventstore.HashSize{{Hash: contenthash.Hash{1}}}, false)
	require.Error(t, err)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestStartProcessingAllowsEmitInOrder(t *testing.T) {
	consumer := &recordingConsumer{}
	store := local.New(consumer, timesource.Fixed(time.Unix(1, 0)))
	require.NoError(t, store.StartProcessing(context.Background(), 100))

	hashes := []eventstore.HashSize{{Hash: contenthash.Hash{1}}, {Hash: contenthash.Hash{2}}, {Hash: contenthash.Hash{3}}}
	require.NoError(t, store.AddLocations(context.Background(), 1, hashes, false))

	require.Equal(t, []contenthash.Hash{{1}, {2}, {3}}, consumer.added)
}

func TestPauseSendingBlocksUntilReleased(t *testing.T) {
	consumer := &recordingConsumer{}
	store := local.New(consumer, timesource.Fixed(time.Unix(1, 0)))
	require.NoError(t, store.StartProcessing(context.Background(), 0))

	release, err := store.PauseSending(context.Background())
	require.NoError(t, err)

	err = store.Touch(context.Background(), 1, []contenthash.Hash{{9}}, time.Unix(1, 0))
	require.Error(t, err)
	require.Equal(t, codes.Unavailable, status.Code(err))

	release()
	require.NoError(t, store.Touch(context.Background(), 1, []contenthash.Hash{{9}}, time.Unix(1, 0)))
}

func TestReleaseIsIdempotent(t *testing.T) {
	consumer := &recordingConsumer{}
	store := local.New(consumer, timesource.Fixed(time.Unix(1, 0)))
	require.NoError(t, store.StartProcessing(context.Background(), 0))

	release, err := store.PauseSending(context.Background())
	require.NoError(t, err)
	release()
	release()

	require.NoError(t, store.Touch(context.Background(), 1, []contenthash.Hash{{9}}, time.Unix(1, 0)))
}

func TestReconcileBypassesSuspendedGate(t *testing.T) {
	consumer := &recordingConsumer{}
	store := local.New(consumer, timesource.Fixed(time.Unix(1, 0))) // never started

	err := store.Reconcile(context.Background(), 1,
		[]eventstore.HashSize{{Hash: contenthash.Hash{1}}},
		[]contenthash.Hash{{2}})
	require.NoError(t, err)
	require.Equal(t, []contenthash.Hash{{1}}, consumer.added)
	require.Equal(t, []contenthash.Hash{{2}}, consumer.removed)
}

func TestLastProcessedSequencePointTracksCursor(t *testing.T) {
	consumer := &recordingConsumer{}
	store := local.New(consumer, timesource.Fixed(time.Unix(1, 0)))
	require.NoError(t, store.StartProcessing(context.Background(), 5))
	require.NoError(t, store.Touch(context.Background(), 1, []contenthash.Hash{{1}}, time.Unix(1, 0)))

	point, err := store.LastProcessedSequencePoint(context.Background())
	require.NoError(t, err)
	require.Equal(t, eventstore.SequencePoint(6), point)
}
