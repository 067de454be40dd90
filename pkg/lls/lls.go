// Package lls implements the LLS core (spec.md component I): the public
// operations, the registration policy, the role/heartbeat state machine,
// the reconciliation driver, and the proactive replication driver, wired
// on top of the leaf components in the sibling packages.
package lls

import (
	"context"
	"sync"
	"time"

	"locationstore.dev/lls/pkg/bitset"
	"locationstore.dev/lls/pkg/checkpoint"
	"locationstore.dev/lls/pkg/clusterstate"
	"locationstore.dev/lls/pkg/contenthash"
	"locationstore.dev/lls/pkg/contentdb"
	"locationstore.dev/lls/pkg/eventstore"
	"locationstore.dev/lls/pkg/eviction"
	"locationstore.dev/lls/pkg/globalstore"
	"locationstore.dev/lls/pkg/machinelist"
	"locationstore.dev/lls/pkg/reputation"
	"locationstore.dev/lls/pkg/timesource"
	"locationstore.dev/lls/pkg/volatileset"
)

// Origin selects where GetBulk resolves locations from (spec.md §4.1).
type Origin int

const (
	Local Origin = iota
	Global
)

// InventoryEntry is one row of the local content store's full inventory,
// consumed by reconciliation (spec.md §4.5 step 2).
type InventoryEntry struct {
	Hash contenthash.Hash
	Size uint64
}

// LocalContentStore is the narrow capability LLS depends on from the (out
// of scope) local content store for reconciliation: enumerating what is
// actually on disk (spec.md §9, "local-store-facing view").
type LocalContentStore interface {
	Inventory(ctx context.Context) ([]InventoryEntry, error)
}

// LocationResult is one GetBulk result row (spec.md §4.1).
type LocationResult struct {
	Hash      contenthash.Hash
	Size      uint64
	Locations []clusterstate.MachineLocation
}

// HashSize pairs a hash with a size, used by RegisterLocalLocation.
type HashSize struct {
	Hash contenthash.Hash
	Size uint64
}

// LLS is the per-node coordinator described by spec.md. Construct one
// with New and call Start before issuing any public operation.
type LLS struct {
	config Configuration
	clock  timesource.Source

	db          *contentdb.DB
	events      eventstore.Store
	cluster     *clusterstate.State
	global      globalstore.Client
	checkpoints *checkpoint.Manager
	reputation  *reputation.Tracker
	localStore  LocalContentStore
	copyFn      CopyFunc
	newTempStore func() eventstore.Store

	recentlyAdded   *volatileset.Set
	recentlyTouched *volatileset.Set
	recentlyRemoved *volatileset.Set

	mu             sync.RWMutex
	localMachineID uint32
	currentRole    globalstore.Role
	lastRestore    time.Time
	lastCheckpoint time.Time
	lastCheckpointID string

	heartbeatGate       sync.Mutex
	heartbeatBusy       bool
	invalidationGate    sync.Mutex
	invalidationBusy    bool

	postInit     chan struct{}
	postInitOnce sync.Once
	postInitErr  error
	postInitMu   sync.RWMutex

	replication *replicationController

	reconcileMu sync.Mutex
}

// Dependencies groups every collaborator LLS is wired against, mirroring
// the "leaves first" component list in spec.md §2.
type Dependencies struct {
	Config      Configuration
	Clock       timesource.Source
	DB          *contentdb.DB
	Events      eventstore.Store
	Cluster     *clusterstate.State
	Global      globalstore.Client
	Checkpoints *checkpoint.Manager
	Reputation  *reputation.Tracker
	LocalStore  LocalContentStore
	CopyFn      CopyFunc
	MachineID   uint32
	// TempEventStoreFactory constructs the short-lived, separate event
	// store instance reconciliation writes ahead of the paused main
	// store (spec.md §4.5 step 5). It must apply events to the same
	// downstream Consumer as the main event store, so that the
	// ordering guarantee holds.
	TempEventStoreFactory func() eventstore.Store
}

// New constructs an LLS. Start must be called before any public operation
// will proceed.
func New(deps Dependencies) *LLS {
	clock := deps.Clock
	if clock == nil {
		clock = timesource.System
	}
	l := &LLS{
		config:           deps.Config,
		clock:            clock,
		db:               deps.DB,
		events:           deps.Events,
		cluster:          deps.Cluster,
		global:           deps.Global,
		checkpoints:      deps.Checkpoints,
		reputation:       deps.Reputation,
		localStore:       deps.LocalStore,
		copyFn:           deps.CopyFn,
		newTempStore:     deps.TempEventStoreFactory,
		localMachineID:   deps.MachineID,
		recentlyAdded:    volatileset.New(clock, deps.Config.TouchFrequency),
		recentlyTouched:  volatileset.New(clock, deps.Config.TouchFrequency),
		recentlyRemoved:  volatileset.New(clock, deps.Config.TouchFrequency),
		postInit:         make(chan struct{}),
	}
	l.replication = newReplicationController(l)
	l.db.OnCorruption(l.onCorruption)
	return l
}

// Start performs core startup (spec.md §5, "Initialization"): it wires
// the one-shot corruption callback (already done in New) and launches the
// initial heartbeat. If Config.InlinePostInitialization is set, Start
// blocks until that heartbeat completes; otherwise it runs in the
// background.
func (l *LLS) Start(ctx context.Context) error {
	if l.config.InlinePostInitialization {
		err := l.Heartbeat(ctx, false)
		l.completePostInit(err)
		return err
	}
	go func() {
		err := l.Heartbeat(ctx, false)
		l.completePostInit(err)
	}()
	return nil
}

func (l *LLS) completePostInit(err error) {
	l.postInitMu.Lock()
	l.postInitErr = err
	l.postInitMu.Unlock()
	l.postInitOnce.Do(func() { close(l.postInit) })
}

// awaitPostInit blocks until post-initialization completes (successfully
// or not), per spec.md §4.1: "all operations require post-initialization
// to be complete; calls before completion wait on it." A later successful
// heartbeat clears a stale error for callers going forward (spec.md §5).
func (l *LLS) awaitPostInit(ctx context.Context) error {
	select {
	case <-l.postInit:
	case <-ctx.Done():
		return wrapError(Cancelled, ctx.Err(), "context cancelled while awaiting post-initialization")
	}
	l.postInitMu.RLock()
	err := l.postInitErr
	l.postInitMu.RUnlock()
	return err
}

func (l *LLS) onCorruption() {
	l.invalidationGate.Lock()
	if l.invalidationBusy {
		l.invalidationGate.Unlock()
		return
	}
	l.invalidationBusy = true
	l.invalidationGate.Unlock()

	go func() {
		defer func() {
			l.invalidationGate.Lock()
			l.invalidationBusy = false
			l.invalidationGate.Unlock()
		}()
		_ = l.Heartbeat(context.Background(), true)
	}()
}

// GetBulk implements spec.md §4.1's get_bulk.
func (l *LLS) GetBulk(ctx context.Context, hashes []contenthash.Hash, origin Origin) ([]LocationResult, error) {
	if err := l.awaitPostInit(ctx); err != nil {
		return nil, err
	}
	if origin == Global {
		return l.getBulkGlobal(ctx, hashes)
	}
	return l.getBulkLocal(ctx, hashes)
}

func (l *LLS) getBulkLocal(ctx context.Context, hashes []contenthash.Hash) ([]LocationResult, error) {
	entries := l.db.GetBulk(hashes)
	results := make([]LocationResult, len(hashes))
	now := l.clock.Now()
	var toTouch []contenthash.Hash
	for i, h := range hashes {
		entry := entries[i]
		results[i] = LocationResult{
			Hash:      h,
			Size:      entry.Size,
			Locations: machinelist.Resolve(entry.Locations, l.cluster, l.reputation),
		}
		if entry.IsMissing() {
			continue
		}
		if now.Sub(entry.LastAccessUTC) >= l.config.TouchFrequency && !l.recentlyTouched.Contains(h) {
			toTouch = append(toTouch, h)
		}
	}
	if len(toTouch) > 0 {
		l.recentlyTouched.AddAll(toTouch)
		// get_bulk(Local) only needs to queue the Touch (spec.md §4.1);
		// D naturally rejects production while this node is a Worker
		// (spec.md §8's role exclusivity), which is not a reason to fail
		// an otherwise-successful read of already-resolved locations.
		_ = l.events.Touch(ctx, l.localMachineID, toTouch, now)
	}
	return results, nil
}

func (l *LLS) getBulkGlobal(ctx context.Context, hashes []contenthash.Hash) ([]LocationResult, error) {
	entries, err := l.global.GetBulk(ctx, hashes)
	if err != nil {
		return nil, wrapError(TransientRemote, err, "Global Store get_bulk failed")
	}
	byHash := make(map[contenthash.Hash]globalstore.LocationEntry, len(entries))
	var allIDs []uint32
	for _, e := range entries {
		byHash[e.Hash] = e
		allIDs = append(allIDs, e.MachineIDs...)
	}
	if unresolved := l.cluster.UnresolvedIDs(allIDs); len(unresolved) > 0 {
		if err := l.pullClusterState(ctx); err != nil {
			return nil, err
		}
	}

	results := make([]LocationResult, len(hashes))
	for i, h := range hashes {
		e, ok := byHash[h]
		if !ok {
			results[i] = LocationResult{Hash: h}
			continue
		}
		bits := bitsetFromIDs(e.MachineIDs)
		results[i] = LocationResult{
			Hash:      h,
			Size:      e.Size,
			Locations: machinelist.Resolve(bits, l.cluster, l.reputation),
		}
	}
	return results, nil
}

// RegisterLocalLocation implements spec.md §4.1's register_local_location.
func (l *LLS) RegisterLocalLocation(ctx context.Context, hashesWithSize []HashSize, touch bool) error {
	if err := l.awaitPostInit(ctx); err != nil {
		return err
	}
	now := l.clock.Now()
	suppression := l.config.SkipRedundantContentLocationAdd
	lastInactive := l.cluster.LastInactiveTime()

	var eagerGlobal, eventOnly, touchOnly []HashSize

	for _, hs := range hashesWithSize {
		entry := l.db.Get(hs.Hash)
		action := decideRegistration(registrationInput{
			now:                  now,
			recentlyRemoved:      l.recentlyRemoved.Contains(hs.Hash),
			recentlyAdded:        l.recentlyAdded.Contains(hs.Hash),
			lastInactiveTime:     lastInactive,
			recentInactiveWindow: 5 * l.config.RecomputeInactiveMachinesExpiry,
			suppressionEnabled:   suppression,
			entryExists:          !entry.IsMissing(),
			localBitSet:          entry.HasMachine(l.localMachineID),
			entryLastAccess:      entry.LastAccessUTC,
			touchFrequency:       l.config.TouchFrequency,
			replicaCount:         entry.ReplicaCount(),
			lazyThreshold:        l.config.SafeToLazilyUpdateMachineCountThreshold,
		})

		switch action {
		case ActionSkip:
			continue
		case ActionLazyTouchEventOnly:
			// An already-present, locally-held, stale hash gets
			// exactly one Touch event, never an Add (spec.md §4.2,
			// §8 scenario 3).
			touchOnly = append(touchOnly, hs)
		case ActionLazyEventOnly:
			eventOnly = append(eventOnly, hs)
		default: // eager global, any reason
			eagerGlobal = append(eagerGlobal, hs)
		}
	}

	all := append(append([]HashSize{}, eagerGlobal...), eventOnly...)

	if len(eagerGlobal) > 0 {
		if err := l.global.RegisterLocalLocation(ctx, toGlobalHashSizes(eagerGlobal)); err != nil {
			return wrapError(TransientRemote, err, "Global Store eager registration failed")
		}
	}

	if len(all) > 0 {
		events := make([]eventstore.HashSize, len(all))
		for i, hs := range all {
			events[i] = eventstore.HashSize{Hash: hs.Hash, Size: hs.Size}
		}
		if err := l.events.AddLocations(ctx, l.localMachineID, events, touch); err != nil {
			return wrapError(TransientRemote, err, "Failed to emit add-locations event")
		}

		var addedHashes []contenthash.Hash
		for _, hs := range all {
			addedHashes = append(addedHashes, hs.Hash)
		}
		l.recentlyAdded.AddAll(addedHashes)
		l.recentlyRemoved.InvalidateAll(addedHashes)
	}

	if len(touchOnly) > 0 {
		touchHashes := make([]contenthash.Hash, len(touchOnly))
		for i, hs := range touchOnly {
			touchHashes[i] = hs.Hash
		}
		if err := l.events.Touch(ctx, l.localMachineID, touchHashes, now); err != nil {
			return wrapError(TransientRemote, err, "Failed to emit touch event for register_local_location")
		}
		l.recentlyTouched.AddAll(touchHashes)
	}

	return nil
}

// TouchBulk implements spec.md §4.1's touch_bulk.
func (l *LLS) TouchBulk(ctx context.Context, hashes []contenthash.Hash) error {
	if err := l.awaitPostInit(ctx); err != nil {
		return err
	}
	now := l.clock.Now()
	var remaining []contenthash.Hash
	for _, h := range hashes {
		if l.recentlyAdded.Contains(h) || l.recentlyTouched.Contains(h) {
			continue
		}
		entry := l.db.Get(h)
		if !entry.IsMissing() && now.Sub(entry.LastAccessUTC) < l.config.TouchFrequency {
			continue
		}
		remaining = append(remaining, h)
	}
	if len(remaining) == 0 {
		return nil
	}
	l.recentlyTouched.AddAll(remaining)
	if err := l.events.Touch(ctx, l.localMachineID, remaining, now); err != nil {
		return wrapError(TransientRemote, err, "Failed to emit touch event")
	}
	return nil
}

// TrimBulk implements spec.md §4.1's trim_bulk.
func (l *LLS) TrimBulk(ctx context.Context, hashes []contenthash.Hash) error {
	if err := l.awaitPostInit(ctx); err != nil {
		return err
	}
	if len(hashes) == 0 {
		return nil
	}
	l.recentlyAdded.InvalidateAll(hashes)
	l.recentlyRemoved.AddAll(hashes)
	if err := l.events.RemoveLocations(ctx, l.localMachineID, hashes); err != nil {
		return wrapError(TransientRemote, err, "Failed to emit remove-locations event")
	}
	return nil
}

// InvalidateLocalMachine implements spec.md §4.1's
// invalidate_local_machine.
func (l *LLS) InvalidateLocalMachine(ctx context.Context) error {
	if err := l.awaitPostInit(ctx); err != nil {
		return err
	}
	if err := clearReconcileMarker(l.config.WorkingDirectory); err != nil {
		return wrapError(TransientRemote, err, "Failed to clear reconcile marker")
	}
	if err := l.global.InvalidateLocalMachine(ctx); err != nil {
		return wrapError(TransientRemote, err, "Global Store invalidate_local_machine failed")
	}
	return nil
}

func (l *LLS) newTemporaryEventStore() eventstore.Store {
	return l.newTempStore()
}

// GetHashesInEvictionOrder implements spec.md §4.1's
// get_hashes_in_eviction_order, streaming candidates in effective-last-
// access order via the two-pointer approximate sort of spec.md §4.7.
func (l *LLS) GetHashesInEvictionOrder(ctx context.Context, candidates []HashSize, reverse bool) (func() (contenthash.Hash, bool), error) {
	if err := l.awaitPostInit(ctx); err != nil {
		return nil, err
	}
	evictionCandidates := make([]eviction.Candidate, len(candidates))
	for i, c := range candidates {
		entry := l.db.Get(c.Hash)
		evictionCandidates[i] = eviction.Candidate{
			Hash:            c.Hash,
			Size:            c.Size,
			ReplicaCount:    entry.ReplicaCount(),
			LocalLastAccess: entry.LastAccessUTC,
			DBLastAccess:    entry.LastAccessUTC,
		}
	}
	params := eviction.Params{ContentLifetime: l.config.ContentLifetime, MachineRisk: l.config.MachineRisk}
	cfg := eviction.StreamConfig{
		WindowSize:      l.config.EvictionWindowSize,
		PoolSize:        l.config.EvictionPoolSize,
		RemovalFraction: l.config.EvictionRemovalFraction,
		DiscardFraction: l.config.EvictionDiscardFraction,
		MinAge:          l.config.EvictionMinAge,
	}
	next := eviction.Stream(evictionCandidates, params, cfg, reverse, l.clock.Now())
	return func() (contenthash.Hash, bool) {
		c, ok := next()
		if !ok {
			return contenthash.Hash{}, false
		}
		return c.Hash, true
	}, nil
}

func (l *LLS) refreshClusterState(ctx context.Context) error {
	snapshot := l.cluster.Snapshot()
	if err := l.global.UpdateClusterState(ctx, snapshot); err != nil {
		return wrapError(TransientRemote, err, "Failed to publish cluster state to Global Store")
	}
	return nil
}

// pullClusterState replaces Cluster State's MachineId to MachineLocation
// mapping with the Global Store's view (machines the Global Store does not
// list are dropped; MaxMachineID never decreases) (spec.md §3 invariant 3,
// §4.1 get_bulk(Global)), the same pull refreshClusterStateFromRoleTransition
// performs every heartbeat, used here on demand when get_bulk(Global)
// resolves machine ids Cluster State doesn't yet know about.
func (l *LLS) pullClusterState(ctx context.Context) error {
	remote, err := l.global.FetchClusterState(ctx)
	if err != nil {
		return wrapError(TransientRemote, err, "Failed to fetch cluster state from Global Store")
	}
	l.cluster.Restore(remote)
	return nil
}

func bitsetFromIDs(ids []uint32) *bitset.Set {
	s := bitset.New()
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func toGlobalHashSizes(in []HashSize) []globalstore.HashSize {
	out := make([]globalstore.HashSize, len(in))
	for i, hs := range in {
		out[i] = globalstore.HashSize{Hash: hs.Hash, Size: hs.Size}
	}
	return out
}
