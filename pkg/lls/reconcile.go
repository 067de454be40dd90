package lls

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"locationstore.dev/lls/pkg/contenthash"
	"locationstore.dev/lls/pkg/eventstore"
	"locationstore.dev/lls/pkg/readabletime"
)

const markerFileName = "reconcileMarker.txt"

func markerPath(workingDir string) string {
	return filepath.Join(workingDir, markerFileName)
}

// markerUpToDate implements spec.md §4.5's freshness marker check: the
// marker is up to date iff its prefix matches the current configured
// prefix and its timestamp is within 0.75 x LocationEntryExpiry of now.
// Absence, mismatched prefix, or an unparseable timestamp all mean "not
// up to date".
func markerUpToDate(workingDir, prefix string, expiry time.Duration, now time.Time) bool {
	data, err := os.ReadFile(markerPath(workingDir))
	if err != nil {
		return false
	}
	fields := strings.SplitN(strings.TrimSpace(string(data)), "|", 2)
	if len(fields) != 2 || fields[0] != prefix {
		return false
	}
	ts, err := readabletime.Parse(fields[1])
	if err != nil {
		return false
	}
	return now.Sub(ts) <= time.Duration(0.75*float64(expiry))
}

func writeMarker(workingDir, prefix string, now time.Time) error {
	if workingDir == "" {
		return nil
	}
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return err
	}
	line := prefix + "|" + readabletime.Format(now)
	return os.WriteFile(markerPath(workingDir), []byte(line), 0o644)
}

func clearReconcileMarker(workingDir string) error {
	if workingDir == "" {
		return nil
	}
	err := os.Remove(markerPath(workingDir))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// diffResult is the outcome of one co-walk cycle (spec.md §4.5 step 4).
type diffResult struct {
	added         []eventstore.HashSize
	removed       []contenthash.Hash
	lastProcessed contenthash.ShortHash
	exhausted     bool
}

// coWalk implements the classic sorted-merge diff of spec.md §4.5 step 4:
// items in local-only become Add, items in db-only become Remove, equal
// keys are dropped. Both inputs must already be sorted ascending by
// ShortHash. The walk stops after maxSize produced events, or when both
// inputs are exhausted.
func coWalk(local []InventoryEntry, db []contentdbHashSize, maxSize int) diffResult {
	var result diffResult
	i, j := 0, 0
	for (i < len(local) || j < len(db)) && len(result.added)+len(result.removed) < maxSize {
		switch {
		case i >= len(local):
			result.removed = append(result.removed, db[j].Hash)
			result.lastProcessed = db[j].Short
			j++
		case j >= len(db):
			result.added = append(result.added, eventstore.HashSize{Hash: local[i].Hash, Size: local[i].Size})
			result.lastProcessed = local[i].Hash.Short()
			i++
		default:
			cmp := local[i].Hash.Short().Compare(db[j].Short)
			switch {
			case cmp < 0:
				result.added = append(result.added, eventstore.HashSize{Hash: local[i].Hash, Size: local[i].Size})
				result.lastProcessed = local[i].Hash.Short()
				i++
			case cmp > 0:
				result.removed = append(result.removed, db[j].Hash)
				result.lastProcessed = db[j].Short
				j++
			default:
				result.lastProcessed = local[i].Hash.Short()
				i++
				j++
			}
		}
	}
	result.exhausted = i >= len(local) && j >= len(db)
	return result
}

// contentdbHashSize is this package's own copy of contentdb.HashSize's
// shape, so that coWalk's inputs do not depend on contentdb's type.
type contentdbHashSize struct {
	Hash  contenthash.Hash
	Short contenthash.ShortHash
	Size  uint64
}

// Reconcile implements spec.md §4.5: it rebuilds this machine's
// authoritative contribution to the location index from the local
// content store, because the event stream is lossy under extended
// disconnection.
func (l *LLS) Reconcile(ctx context.Context) error {
	if err := l.awaitPostInit(ctx); err != nil {
		return err
	}
	if l.localStore == nil {
		return newError(PreconditionViolated, "reconciliation requires a local content store adapter")
	}

	l.reconcileMu.Lock()
	defer l.reconcileMu.Unlock()

	now := l.clock.Now()
	if markerUpToDate(l.config.WorkingDirectory, l.config.CheckpointPrefix, l.config.LocationEntryExpiry, now) {
		return nil
	}

	inventory, err := l.localStore.Inventory(ctx)
	if err != nil {
		return wrapError(TransientRemote, err, "Failed to read local content store inventory")
	}
	sort.Slice(inventory, func(i, j int) bool { return inventory[i].Hash.Short().Less(inventory[j].Hash.Short()) })

	dbRows := l.db.LocalContribution(l.localMachineID)
	dbSlice := make([]contentdbHashSize, len(dbRows))
	for i, r := range dbRows {
		dbSlice[i] = contentdbHashSize{Hash: r.Hash, Short: r.Short, Size: r.Size}
	}

	localStart, dbStart := 0, 0
	for {
		select {
		case <-ctx.Done():
			return wrapError(Cancelled, ctx.Err(), "reconciliation cancelled")
		default:
		}

		diff := coWalk(inventory[localStart:], dbSlice[dbStart:], l.config.ReconciliationMaxCycleSize)

		if len(diff.added) > 0 || len(diff.removed) > 0 {
			if err := l.emitReconcileCycle(ctx, diff); err != nil {
				return err
			}
		}

		localStart = advanceIndex(inventory, localStart, diff.lastProcessed)
		dbStart = advanceIndexDB(dbSlice, dbStart, diff.lastProcessed)

		if diff.exhausted {
			break
		}

		select {
		case <-ctx.Done():
			return wrapError(Cancelled, ctx.Err(), "reconciliation cancelled")
		case <-time.After(l.config.ReconciliationCycleFrequency):
		}
	}

	if err := writeMarker(l.config.WorkingDirectory, l.config.CheckpointPrefix, now); err != nil {
		return wrapError(TransientRemote, err, "Failed to write reconcile marker")
	}
	return nil
}

func advanceIndex(inventory []InventoryEntry, start int, upTo contenthash.ShortHash) int {
	i := start
	for i < len(inventory) && !upTo.Less(inventory[i].Hash.Short()) {
		i++
	}
	return i
}

func advanceIndexDB(db []contentdbHashSize, start int, upTo contenthash.ShortHash) int {
	i := start
	for i < len(db) && !upTo.Less(db[i].Short) {
		i++
	}
	return i
}

// emitReconcileCycle implements spec.md §4.5 step 5: pause the main event
// store, emit a single Reconcile batch through a temporary, separate
// event-store instance that writes ahead of the paused main one, then
// tear it down.
func (l *LLS) emitReconcileCycle(ctx context.Context, diff diffResult) error {
	release, err := l.events.PauseSending(ctx)
	if err != nil {
		return wrapError(TransientRemote, err, "Failed to pause main event store for reconciliation")
	}
	defer release()

	temp := l.newTemporaryEventStore()
	if err := temp.Reconcile(ctx, l.localMachineID, diff.added, diff.removed); err != nil {
		return wrapError(TransientRemote, err, "Failed to emit reconcile batch")
	}
	return nil
}
