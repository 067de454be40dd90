package lls

import (
	"context"
	"errors"
	"time"
)

// Shutdown implements spec.md §5's shutdown sequence: await any pending
// post-initialization and in-flight heartbeat, stop proactive replication,
// then tear down D, C, G, E in that order (G's teardown releases this
// node's role lease), aggregating individual failures into a composite
// result. C (the Content Location Database) and E (Central Storage) have
// no explicit teardown of their own in this module (they hold no external
// resources beyond what D and G already own), so only D and G are asked
// to release anything.
func (l *LLS) Shutdown(ctx context.Context) error {
	_ = l.awaitPostInit(ctx)

	for {
		l.heartbeatGate.Lock()
		busy := l.heartbeatBusy
		l.heartbeatGate.Unlock()
		if !busy {
			break
		}
		select {
		case <-ctx.Done():
			return wrapError(Cancelled, ctx.Err(), "shutdown cancelled while awaiting in-flight heartbeat")
		case <-time.After(time.Millisecond):
		}
	}

	l.replication.Stop()

	// D is torn down before G. G's step runs even if D's failed, and both
	// failures are kept in the composite error.
	var errs []error
	if err := l.events.SuspendProcessing(ctx); err != nil {
		errs = append(errs, wrapError(TransientRemote, err, "Failed to suspend event store during shutdown"))
	}
	if _, err := l.global.ReleaseRoleIfNecessary(ctx); err != nil {
		errs = append(errs, wrapError(TransientRemote, err, "Failed to release role lease"))
	}

	if err := errors.Join(errs...); err != nil {
		return wrapError(TransientRemote, err, "shutdown encountered one or more errors")
	}
	return nil
}
