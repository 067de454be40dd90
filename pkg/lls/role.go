package lls

import (
	"context"
	"time"

	"github.com/google/uuid"

	"locationstore.dev/lls/pkg/globalstore"
)

// Heartbeat runs one heartbeat body (spec.md §4.3). Reentrant fires are
// dropped by the non-blocking heartbeat gate unless forceRestore is set,
// in which case the caller (onCorruption) has already deduplicated via
// the separate invalidation gate, so the heartbeat body itself always
// runs.
func (l *LLS) Heartbeat(ctx context.Context, forceRestore bool) error {
	if !forceRestore {
		l.heartbeatGate.Lock()
		if l.heartbeatBusy {
			l.heartbeatGate.Unlock()
			return nil
		}
		l.heartbeatBusy = true
		l.heartbeatGate.Unlock()
		defer func() {
			l.heartbeatGate.Lock()
			l.heartbeatBusy = false
			l.heartbeatGate.Unlock()
		}()
	}

	state, err := l.global.GetCheckpointState(ctx)
	if err != nil {
		return wrapError(TransientRemote, err, "Failed to fetch checkpoint state from Global Store")
	}

	l.mu.Lock()
	previousRole := l.currentRole
	lastRestore := l.lastRestore
	lastCheckpointID := l.lastCheckpointID
	lastCheckpoint := l.lastCheckpoint
	l.mu.Unlock()

	roleSwitched := state.Role != previousRole
	if roleSwitched {
		l.db.SetWriteable(state.Role == globalstore.RoleMaster)
	}

	shouldRestore := forceRestore || roleSwitched ||
		(state.Role == globalstore.RoleWorker && l.clock.Now().Sub(lastRestore) >= l.config.RestoreCheckpointInterval)

	now := l.clock.Now()
	if shouldRestore {
		restored, newCheckpointID, err := l.restoreIfNeeded(ctx, lastRestore.IsZero(), lastCheckpointID)
		if err != nil {
			return err
		}
		if restored {
			l.mu.Lock()
			l.lastRestore = now
			l.lastCheckpointID = newCheckpointID
			l.lastCheckpoint = now
			l.mu.Unlock()

			if l.config.EnableReconciliation {
				go func() { _ = l.Reconcile(context.Background()) }()
			}
			if l.config.EnableProactiveReplication {
				l.replication.Start(context.Background())
			}
		} else {
			l.mu.Lock()
			l.lastRestore = now
			l.mu.Unlock()
		}
	}

	if err := l.refreshClusterStateFromRoleTransition(ctx, state.Role == globalstore.RoleMaster); err != nil {
		return err
	}

	if state.Role == globalstore.RoleMaster {
		if err := l.events.StartProcessing(ctx, state.StartSequencePoint); err != nil {
			return wrapError(TransientRemote, err, "Failed to resume event production as Master")
		}
	} else {
		if err := l.events.SuspendProcessing(ctx); err != nil {
			return wrapError(TransientRemote, err, "Failed to suspend event production as Worker")
		}
	}

	if state.Role == globalstore.RoleMaster && now.Sub(lastCheckpoint) >= l.config.CreateCheckpointInterval {
		if err := l.createCheckpoint(ctx, now); err != nil {
			return err
		}
	}

	if l.config.ContentEntryTTL > 0 {
		l.db.Compact(now, l.config.ContentEntryTTL)
	}

	l.mu.Lock()
	l.currentRole = state.Role
	l.mu.Unlock()

	// A successful heartbeat replaces any earlier post-initialization
	// failure, unblocking callers going forward.
	l.completePostInit(nil)
	return nil
}

// restoreIfNeeded implements spec.md §4.4's restore steps 1-4. It returns
// whether a restore was actually installed (as opposed to skipped) and,
// if so, the checkpoint id that was installed.
func (l *LLS) restoreIfNeeded(ctx context.Context, firstRestore bool, lastCheckpointID string) (bool, string, error) {
	manifest, ok, err := l.checkpoints.LatestManifest(ctx)
	if err != nil {
		return false, "", wrapError(TransientRemote, err, "Failed to fetch latest checkpoint manifest")
	}
	if !ok {
		return false, lastCheckpointID, nil
	}

	age := l.clock.Now().Sub(manifest.CheckpointTime)
	if firstRestore && age <= l.config.RestoreCheckpointAgeThreshold {
		// Skip-restore rule (spec.md §4.4 step 2): the checkpoint is
		// fresh enough that a full restore is unnecessary on cold
		// start.
		return false, lastCheckpointID, nil
	}
	if manifest.CheckpointID == lastCheckpointID {
		// Already restored (spec.md §4.4 step 3).
		return false, lastCheckpointID, nil
	}

	if err := l.checkpoints.Restore(ctx, manifest.CheckpointID); err != nil {
		return false, "", wrapError(TransientRemote, err, "Failed to restore checkpoint %q", manifest.CheckpointID)
	}
	return true, manifest.CheckpointID, nil
}

func (l *LLS) createCheckpoint(ctx context.Context, now time.Time) error {
	seq, err := l.events.LastProcessedSequencePoint(ctx)
	if err != nil {
		return wrapError(TransientRemote, err, "Failed to read last processed sequence point")
	}
	// The timestamp keeps checkpoint ids humanly sortable; the uuid
	// suffix guarantees uniqueness across a role flapping back to Master
	// within the same second, or two masters racing during a lease
	// handover.
	checkpointID := l.config.CheckpointPrefix + now.Format("20060102T150405") + "-" + uuid.NewString()
	if _, err := l.checkpoints.Create(ctx, checkpointID, seq, now); err != nil {
		return wrapError(TransientRemote, err, "Failed to create checkpoint")
	}
	l.mu.Lock()
	l.lastCheckpoint = now
	l.mu.Unlock()
	return nil
}

// refreshClusterStateFromRoleTransition implements spec.md §4.3 step 5.
func (l *LLS) refreshClusterStateFromRoleTransition(ctx context.Context, isMaster bool) error {
	if err := l.pullClusterState(ctx); err != nil {
		return err
	}

	if isMaster {
		if err := l.refreshClusterState(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunHeartbeatLoop reschedules Heartbeat every HeartbeatInterval until ctx
// is cancelled, matching spec.md §4.3 step 8. It is intended to be run in
// its own goroutine, started once Start has returned.
func (l *LLS) RunHeartbeatLoop(ctx context.Context, errorLogger func(error)) {
	ticker := time.NewTicker(l.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Heartbeat(ctx, false); err != nil && errorLogger != nil {
				errorLogger(err)
			}
		}
	}
}
