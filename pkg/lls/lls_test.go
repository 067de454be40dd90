package lls_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"locationstore.dev/lls/pkg/centralstorage"
	"locationstore.dev/lls/pkg/checkpoint"
	"locationstore.dev/lls/pkg/clusterstate"
	"locationstore.dev/lls/pkg/contenthash"
	"locationstore.dev/lls/pkg/contentdb"
	"locationstore.dev/lls/pkg/eventstore"
	"locationstore.dev/lls/pkg/globalstore"
	"locationstore.dev/lls/pkg/lls"
	"locationstore.dev/lls/pkg/timesource"
)

type fakeEvents struct {
	mu            sync.Mutex
	addBatches    [][]eventstore.HashSize
	touchBatches  [][]contenthash.Hash
	removeBatches [][]contenthash.Hash
	processing    bool
	cursor        eventstore.SequencePoint
}

func newFakeEvents() *fakeEvents { return &fakeEvents{} }

func (f *fakeEvents) StartProcessing(ctx context.Context, from eventstore.SequencePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing = true
	f.cursor = from
	return nil
}
func (f *fakeEvents) SuspendProcessing(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing = false
	return nil
}
func (f *fakeEvents) AddLocations(ctx context.Context, machineID uint32, hashes []eventstore.HashSize, touch bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addBatches = append(f.addBatches, hashes)
	return nil
}
func (f *fakeEvents) RemoveLocations(ctx context.Context, machineID uint32, hashes []contenthash.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeBatches = append(f.removeBatches, hashes)
	return nil
}
func (f *fakeEvents) Touch(ctx context.Context, machineID uint32, hashes []contenthash.Hash, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchBatches = append(f.touchBatches, hashes)
	return nil
}
func (f *fakeEvents) Reconcile(ctx context.Context, machineID uint32, added []eventstore.HashSize, removed []contenthash.Hash) error {
	return nil
}
func (f *fakeEvents) PauseSending(ctx context.Context) (func(), error) {
	return func() {}, nil
}
func (f *fakeEvents) LastProcessedSequencePoint(ctx context.Context) (eventstore.SequencePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeEvents) addBatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.addBatches)
}

func (f *fakeEvents) touchBatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.touchBatches)
}

type fakeGlobal struct {
	mu              sync.Mutex
	registerCalls   int
	checkpointState globalstore.CheckpointState
	clusterSnapshot clusterstate.Snapshot
	bulkEntries     []globalstore.LocationEntry
}

func (g *fakeGlobal) GetCheckpointState(ctx context.Context) (globalstore.CheckpointState, error) {
	return g.checkpointState, nil
}
func (g *fakeGlobal) ReleaseRoleIfNecessary(ctx context.Context) (globalstore.Role, error) {
	return globalstore.RoleWorker, nil
}
func (g *fakeGlobal) UpdateClusterState(ctx context.Context, snapshot clusterstate.Snapshot) error {
	return nil
}
func (g *fakeGlobal) RegisterLocalLocation(ctx context.Context, hashesWithSize []globalstore.HashSize) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registerCalls++
	return nil
}
func (g *fakeGlobal) GetBulk(ctx context.Context, hashes []contenthash.Hash) ([]globalstore.LocationEntry, error) {
	return g.bulkEntries, nil
}
func (g *fakeGlobal) InvalidateLocalMachine(ctx context.Context) error { return nil }
func (g *fakeGlobal) PutBlob(ctx context.Context, key string, data []byte) error { return nil }
func (g *fakeGlobal) GetBlob(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (g *fakeGlobal) FetchClusterState(ctx context.Context) (clusterstate.Snapshot, error) {
	return g.clusterSnapshot, nil
}

func (g *fakeGlobal) registerCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registerCalls
}

type fakeCentral struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	manifests []centralstorage.Manifest
}

func newFakeCentral() *fakeCentral { return &fakeCentral{blobs: map[string][]byte{}} }

func (f *fakeCentral) PutBlob(ctx context.Context, checkpointID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[checkpointID] = data
	return nil
}
func (f *fakeCentral) GetBlob(ctx context.Context, checkpointID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blobs[checkpointID], nil
}
func (f *fakeCentral) PutManifest(ctx context.Context, manifest centralstorage.Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests = append(f.manifests, manifest)
	return nil
}
func (f *fakeCentral) LatestManifest(ctx context.Context) (centralstorage.Manifest, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.manifests) == 0 {
		return centralstorage.Manifest{}, false, nil
	}
	return f.manifests[len(f.manifests)-1], true, nil
}

func newTestLLS(t *testing.T, events *fakeEvents, global *fakeGlobal, cfg lls.Configuration) *lls.LLS {
	t.Helper()
	clock := timesource.Fixed(time.Unix(1_700_000_000, 0))
	db := contentdb.New(t.Name())
	db.SetWriteable(true)
	cluster := clusterstate.New(clock)
	central := newFakeCentral()
	manager := checkpoint.New(central, db)

	return lls.New(lls.Dependencies{
		Config:      cfg,
		Clock:       clock,
		DB:          db,
		Events:      events,
		Cluster:     cluster,
		Global:      global,
		Checkpoints: manager,
		MachineID:   1,
	})
}

func hashFrom(b byte) contenthash.Hash {
	var h contenthash.Hash
	h[0] = b
	return h
}

func defaultConfig() lls.Configuration {
	return lls.Configuration{
		TouchFrequency:                          time.Minute,
		RecomputeInactiveMachinesExpiry:         time.Minute,
		SkipRedundantContentLocationAdd:         true,
		SafeToLazilyUpdateMachineCountThreshold: 3,
		InlinePostInitialization:                true,
		HeartbeatInterval:                       time.Hour,
		RestoreCheckpointAgeThreshold:            5 * time.Minute,
	}
}

func TestDedupIdempotence(t *testing.T) {
	events := newFakeEvents()
	global := &fakeGlobal{checkpointState: globalstore.CheckpointState{Role: globalstore.RoleMaster}}
	l := newTestLLS(t, events, global, defaultConfig())
	ctx := context.Background()
	require.NoError(t, l.Start(ctx))

	h := hashFrom(1)
	require.NoError(t, l.RegisterLocalLocation(ctx, []lls.HashSize{{Hash: h, Size: 10}}, true))
	require.NoError(t, l.RegisterLocalLocation(ctx, []lls.HashSize{{Hash: h, Size: 10}}, true))

	require.Equal(t, 1, events.addBatchCount(), "second register of the same hash must be suppressed")
}

func TestRecentRemovalOverride(t *testing.T) {
	events := newFakeEvents()
	global := &fakeGlobal{checkpointState: globalstore.CheckpointState{Role: globalstore.RoleMaster}}
	l := newTestLLS(t, events, global, defaultConfig())
	ctx := context.Background()
	require.NoError(t, l.Start(ctx))

	h := hashFrom(2)
	require.NoError(t, l.TrimBulk(ctx, []contenthash.Hash{h}))
	require.NoError(t, l.RegisterLocalLocation(ctx, []lls.HashSize{{Hash: h, Size: 5}}, false))

	require.Equal(t, 1, global.registerCallCount(), "re-registering after trim must be eager")
	require.Equal(t, 1, events.addBatchCount())
}

func TestTouchCoalescing(t *testing.T) {
	events := newFakeEvents()
	global := &fakeGlobal{checkpointState: globalstore.CheckpointState{Role: globalstore.RoleMaster}}
	l := newTestLLS(t, events, global, defaultConfig())
	ctx := context.Background()
	require.NoError(t, l.Start(ctx))

	h := hashFrom(3)
	require.NoError(t, l.TouchBulk(ctx, []contenthash.Hash{h}))
	require.NoError(t, l.TouchBulk(ctx, []contenthash.Hash{h}))

	require.Equal(t, 1, events.touchBatchCount(), "touches within TouchFrequency must collapse to one event")
}

func TestGetBulkLocalPreservesOrder(t *testing.T) {
	events := newFakeEvents()
	global := &fakeGlobal{checkpointState: globalstore.CheckpointState{Role: globalstore.RoleMaster}}
	l := newTestLLS(t, events, global, defaultConfig())
	ctx := context.Background()
	require.NoError(t, l.Start(ctx))

	a, b := hashFrom(1), hashFrom(2)
	require.NoError(t, l.RegisterLocalLocation(ctx, []lls.HashSize{{Hash: b, Size: 1}, {Hash: a, Size: 2}}, false))

	results, err := l.GetBulk(ctx, []contenthash.Hash{a, b}, lls.Local)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, a, results[0].Hash)
	require.Equal(t, b, results[1].Hash)
}
