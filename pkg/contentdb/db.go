// Package contentdb implements the Content Location Database (spec.md
// component C): the local materialized index from ContentHash to size,
// last access time, and the bitset of machines known to hold it.
package contentdb

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"locationstore.dev/lls/pkg/bitset"
	"locationstore.dev/lls/pkg/contenthash"
)

var (
	metricsOnce sync.Once

	entryCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lls",
			Subsystem: "contentdb",
			Name:      "entries",
			Help:      "Number of content hashes currently tracked by the content location database.",
		},
		[]string{"db"},
	)
	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lls",
			Subsystem: "contentdb",
			Name:      "mutations_total",
			Help:      "Number of Add/Remove/Touch mutations applied, by outcome.",
		},
		[]string{"db", "operation", "outcome"},
	)
)

func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(entryCount)
		prometheus.MustRegister(mutationsTotal)
	})
}

// HashSize pairs a ShortHash with the size this machine reported for it,
// as returned by LocalContribution for reconciliation (spec.md §4.5).
type HashSize struct {
	Hash  contenthash.Hash
	Short contenthash.ShortHash
	Size  uint64
}

// DB is the Content Location Database.
//
// A DB is writeable only while the local role is Master (spec.md §4.3
// step 2 and the "role exclusivity" testable property in spec.md §8); a
// worker's attempt to mutate is rejected with FailedPrecondition. Restore
// bypasses the writeable check, since a snapshot may be installed in any
// role (spec.md §3, entry lifecycle).
type DB struct {
	name string

	mu        sync.RWMutex
	entries   map[contenthash.Hash]Entry
	writeable bool

	corruptionMu   sync.Mutex
	corruptionOnce bool
	onCorruption   func()
}

// New creates an empty Content Location Database. name distinguishes this
// database's metrics from any others in the process (there is normally
// exactly one per LLS instance).
func New(name string) *DB {
	registerMetrics()
	return &DB{
		name:    name,
		entries: map[contenthash.Hash]Entry{},
	}
}

// SetWriteable enables or disables mutation, called by the LLS core on
// every role transition (spec.md §4.3 step 2).
func (db *DB) SetWriteable(writeable bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.writeable = writeable
}

// Writeable reports the current writeability, primarily for tests.
func (db *DB) Writeable() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.writeable
}

// OnCorruption registers a one-shot callback invoked the first time
// ReportCorruption is called. Later calls to OnCorruption replace the
// callback but do not re-arm an already-fired report.
func (db *DB) OnCorruption(cb func()) {
	db.corruptionMu.Lock()
	defer db.corruptionMu.Unlock()
	db.onCorruption = cb
}

// ReportCorruption signals that the database's on-disk or in-memory state
// is no longer trustworthy. It invokes the registered callback at most
// once, matching the "one-shot callback" contract in spec.md §4.3 that
// the LLS core uses to force a restore.
func (db *DB) ReportCorruption() {
	db.corruptionMu.Lock()
	defer db.corruptionMu.Unlock()
	if db.corruptionOnce {
		return
	}
	db.corruptionOnce = true
	cb := db.onCorruption
	if cb != nil {
		go cb()
	}
}

// Get returns the entry for h, or the Missing sentinel if none exists.
func (db *DB) Get(h contenthash.Hash) Entry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	entry, ok := db.entries[h]
	if !ok {
		return Missing
	}
	return entry.Clone()
}

// GetBulk resolves every hash in hashes, preserving order, returning the
// Missing sentinel for hashes with no entry.
func (db *DB) GetBulk(hashes []contenthash.Hash) []Entry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]Entry, len(hashes))
	for i, h := range hashes {
		if entry, ok := db.entries[h]; ok {
			out[i] = entry.Clone()
		} else {
			out[i] = Missing
		}
	}
	return out
}

func (db *DB) requireWriteable(operation string) error {
	if !db.writeable {
		mutationsTotal.WithLabelValues(db.name, operation, "rejected_not_writeable").Inc()
		return status.Error(codes.FailedPrecondition, "content location database is not writeable in the current role")
	}
	return nil
}

// ApplyAdd sets machineID's bit for h, creating the entry if necessary,
// and advances LastAccessUTC to now if now is later than the entry's
// current value (spec.md §3 invariant 2). It is rejected unless the
// database is writeable.
func (db *DB) ApplyAdd(h contenthash.Hash, size uint64, machineID uint32, now time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.requireWriteable("add"); err != nil {
		return err
	}
	entry, ok := db.entries[h]
	if !ok {
		entry = Entry{Size: size, LastAccessUTC: now, Locations: bitset.New()}
	}
	entry.Size = size
	if now.After(entry.LastAccessUTC) {
		entry.LastAccessUTC = now
	}
	entry.Locations.Add(machineID)
	db.entries[h] = entry
	entryCount.WithLabelValues(db.name).Set(float64(len(db.entries)))
	mutationsTotal.WithLabelValues(db.name, "add", "applied").Inc()
	return nil
}

// ApplyRemove clears machineID's bit for h. It is a no-op if h has no
// entry. It is rejected unless the database is writeable.
func (db *DB) ApplyRemove(h contenthash.Hash, machineID uint32) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.requireWriteable("remove"); err != nil {
		return err
	}
	entry, ok := db.entries[h]
	if !ok {
		return nil
	}
	entry.Locations.Remove(machineID)
	db.entries[h] = entry
	mutationsTotal.WithLabelValues(db.name, "remove", "applied").Inc()
	return nil
}

// ApplyTouch advances LastAccessUTC for h to now, if later than the
// current value. It is a no-op if h has no entry. It is rejected unless
// the database is writeable.
func (db *DB) ApplyTouch(h contenthash.Hash, now time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.requireWriteable("touch"); err != nil {
		return err
	}
	entry, ok := db.entries[h]
	if !ok {
		return nil
	}
	if now.After(entry.LastAccessUTC) {
		entry.LastAccessUTC = now
		db.entries[h] = entry
	}
	mutationsTotal.WithLabelValues(db.name, "touch", "applied").Inc()
	return nil
}

// applyConsumedAdd mirrors ApplyAdd but bypasses the writeable check, for
// use by Consumer applying the already-ordered event stream (spec.md
// §4.8).
func (db *DB) applyConsumedAdd(h contenthash.Hash, size uint64, machineID uint32, now time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	entry, ok := db.entries[h]
	if !ok {
		entry = Entry{Size: size, LastAccessUTC: now, Locations: bitset.New()}
	}
	entry.Size = size
	if now.After(entry.LastAccessUTC) {
		entry.LastAccessUTC = now
	}
	entry.Locations.Add(machineID)
	db.entries[h] = entry
	entryCount.WithLabelValues(db.name).Set(float64(len(db.entries)))
	mutationsTotal.WithLabelValues(db.name, "add", "applied").Inc()
}

// applyConsumedRemove mirrors ApplyRemove but bypasses the writeable
// check, for use by Consumer.
func (db *DB) applyConsumedRemove(h contenthash.Hash, machineID uint32) {
	db.mu.Lock()
	defer db.mu.Unlock()
	entry, ok := db.entries[h]
	if !ok {
		return
	}
	entry.Locations.Remove(machineID)
	db.entries[h] = entry
	mutationsTotal.WithLabelValues(db.name, "remove", "applied").Inc()
}

// applyConsumedTouch mirrors ApplyTouch but bypasses the writeable check,
// for use by Consumer.
func (db *DB) applyConsumedTouch(h contenthash.Hash, now time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	entry, ok := db.entries[h]
	if !ok {
		return
	}
	if now.After(entry.LastAccessUTC) {
		entry.LastAccessUTC = now
		db.entries[h] = entry
	}
	mutationsTotal.WithLabelValues(db.name, "touch", "applied").Inc()
}

// LocalContribution returns, in ascending ShortHash order, every hash for
// which machineID's bit is set, together with its recorded size. This
// feeds the reconciliation co-walk (spec.md §4.5 step 3).
func (db *DB) LocalContribution(machineID uint32) []HashSize {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]HashSize, 0, len(db.entries))
	for h, entry := range db.entries {
		if entry.HasMachine(machineID) {
			out = append(out, HashSize{Hash: h, Short: h.Short(), Size: entry.Size})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Short.Less(out[j].Short) })
	return out
}

// SnapshotEntry is one row of a checkpoint snapshot (spec.md component F).
type SnapshotEntry struct {
	Hash          contenthash.Hash
	Size          uint64
	LastAccessUTC time.Time
	Machines      []uint32
}

// Snapshot returns every entry for checkpoint creation.
func (db *DB) Snapshot() []SnapshotEntry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]SnapshotEntry, 0, len(db.entries))
	for h, entry := range db.entries {
		out = append(out, SnapshotEntry{
			Hash:          h,
			Size:          entry.Size,
			LastAccessUTC: entry.LastAccessUTC,
			Machines:      entry.Locations.Elements(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash.Short().Less(out[j].Hash.Short()) })
	return out
}

// Restore atomically replaces the database's contents with snapshot,
// bypassing the writeable check (spec.md §3, entry lifecycle: "removed
// only by TTL-based compaction; mutated ... or by checkpoint restore (any
// role)"). Unlike ApplyAdd/ApplyTouch, LastAccessUTC is taken verbatim
// from the snapshot even if it is earlier than any prior value, per
// spec.md §3 invariant 2's stated exception.
func (db *DB) Restore(snapshot []SnapshotEntry) {
	db.mu.Lock()
	defer db.mu.Unlock()
	entries := make(map[contenthash.Hash]Entry, len(snapshot))
	for _, row := range snapshot {
		locations := bitset.New()
		for _, m := range row.Machines {
			locations.Add(m)
		}
		entries[row.Hash] = Entry{
			Size:          row.Size,
			LastAccessUTC: row.LastAccessUTC,
			Locations:     locations,
		}
	}
	db.entries = entries
	entryCount.WithLabelValues(db.name).Set(float64(len(db.entries)))
}

// Compact removes entries whose LastAccessUTC is older than now.Add(-ttl)
// and which no longer name any machine, implementing the TTL-based
// compaction named in spec.md §3's entry lifecycle.
func (db *DB) Compact(now time.Time, ttl time.Duration) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	cutoff := now.Add(-ttl)
	removed := 0
	for h, entry := range db.entries {
		if entry.LastAccessUTC.Before(cutoff) && entry.ReplicaCount() == 0 {
			delete(db.entries, h)
			removed++
		}
	}
	if removed > 0 {
		entryCount.WithLabelValues(db.name).Set(float64(len(db.entries)))
	}
	return removed
}

// Len returns the number of tracked hashes, for tests and metrics.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.entries)
}
