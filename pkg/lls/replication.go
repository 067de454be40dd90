package lls

import (
	"context"
	"sync"
	"time"

	"locationstore.dev/lls/pkg/eviction"
)

// CopyFunc is externally supplied by the (out of scope) blob transfer
// layer to replicate a hash's content to some peer of its own choosing
// (spec.md §4.6: "invoke the externally supplied copy function"; peer
// selection is that function's concern, not LLS's).
type CopyFunc func(ctx context.Context, candidate eviction.Candidate) error

// replicationController serializes the "at most one in-flight replication
// task" invariant of spec.md §4.6 via a mutex-protected cancellation
// token: assigning a new one cancels the prior.
type replicationController struct {
	l *LLS

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newReplicationController(l *LLS) *replicationController {
	return &replicationController{l: l}
}

// Start cancels any in-flight replication task and launches a new one.
func (rc *replicationController) Start(ctx context.Context) {
	rc.mu.Lock()
	if rc.cancel != nil {
		rc.cancel()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	rc.cancel = cancel
	rc.mu.Unlock()

	if rc.l.config.InlineProactiveReplication {
		rc.run(taskCtx)
	} else {
		go rc.run(taskCtx)
	}
}

// Stop cancels any in-flight replication task without starting a new one.
func (rc *replicationController) Stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.cancel != nil {
		rc.cancel()
		rc.cancel = nil
	}
}

func (rc *replicationController) run(ctx context.Context) {
	l := rc.l
	if l.copyFn == nil {
		return
	}

	candidates := l.buildReplicationCandidates()
	params := eviction.Params{ContentLifetime: l.config.ContentLifetime, MachineRisk: l.config.MachineRisk}
	cfg := eviction.StreamConfig{
		WindowSize:      l.config.EvictionWindowSize,
		PoolSize:        l.config.EvictionPoolSize,
		RemovalFraction: l.config.EvictionRemovalFraction,
		DiscardFraction: l.config.EvictionDiscardFraction,
		MinAge:          0,
	}
	// reverse=true: newest-evictable first = best replication targets
	// last used (spec.md §4.6).
	next := eviction.Stream(candidates, params, cfg, true, l.clock.Now())

	outcomes := 0
	for outcomes < l.config.ProactiveReplicationCopyLimit {
		select {
		case <-ctx.Done():
			return
		default:
		}

		candidate, ok := next()
		if !ok {
			return
		}

		entry := l.db.Get(candidate.Hash)
		if entry.ReplicaCount() >= l.config.ProactiveCopyLocationsThreshold {
			continue
		}

		_ = l.copyFn(ctx, candidate)
		outcomes++
		if outcomes >= l.config.ProactiveReplicationCopyLimit {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.config.DelayForProactiveReplication):
		}
	}
}

func (l *LLS) buildReplicationCandidates() []eviction.Candidate {
	rows := l.db.LocalContribution(l.localMachineID)
	candidates := make([]eviction.Candidate, len(rows))
	for i, row := range rows {
		entry := l.db.Get(row.Hash)
		candidates[i] = eviction.Candidate{
			Hash:            row.Hash,
			Size:            row.Size,
			ReplicaCount:    entry.ReplicaCount(),
			LocalLastAccess: entry.LastAccessUTC,
			DBLastAccess:    entry.LastAccessUTC,
		}
	}
	return candidates
}

