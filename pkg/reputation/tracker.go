// Package reputation implements the per-machine score used to order
// candidate locations returned to callers (spec.md component H).
//
// spec.md names this component and its use (ranking get_bulk results) but
// does not specify a scoring function; this package resolves that Open
// Question (recorded in DESIGN.md) with an exponentially decayed
// success/failure score, in the spirit of the effective-last-access
// model's exponential-decay recall assumption in spec.md §4.7.
package reputation

import (
	"math"
	"sync"

	"locationstore.dev/lls/pkg/timesource"
)

// decayHalfLife controls how quickly old outcomes stop influencing a
// machine's score.
const decayHalfLife = 30 * 60 // seconds

type record struct {
	score      float64
	lastUpdate int64
}

// Tracker holds a decayed reputation score per MachineId.
type Tracker struct {
	clock timesource.Source

	mu      sync.Mutex
	records map[uint32]record
}

// New creates an empty Tracker.
func New(clk timesource.Source) *Tracker {
	return &Tracker{clock: clk, records: map[uint32]record{}}
}

func (t *Tracker) decayedScore(r record, now int64) float64 {
	elapsed := float64(now - r.lastUpdate)
	if elapsed <= 0 {
		return r.score
	}
	decay := math.Exp(-elapsed * math.Ln2 / decayHalfLife)
	return r.score * decay
}

// RecordSuccess increases id's score, decaying any prior score first.
func (t *Tracker) RecordSuccess(id uint32) {
	t.adjust(id, 1)
}

// RecordFailure decreases id's score, decaying any prior score first.
func (t *Tracker) RecordFailure(id uint32) {
	t.adjust(id, -1)
}

func (t *Tracker) adjust(id uint32, delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now().Unix()
	r := t.records[id]
	score := t.decayedScore(r, now) + delta
	t.records[id] = record{score: score, lastUpdate: now}
}

// Score returns id's current decayed score. Unknown machines score zero,
// treated as neutral in ordering.
func (t *Tracker) Score(id uint32) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now().Unix()
	r, ok := t.records[id]
	if !ok {
		return 0
	}
	return t.decayedScore(r, now)
}

// Sort orders ids by descending reputation score, highest first, breaking
// ties by ascending id for determinism.
func (t *Tracker) Sort(ids []uint32) {
	scores := make(map[uint32]float64, len(ids))
	for _, id := range ids {
		scores[id] = t.Score(id)
	}
	sortByScoreDesc(ids, scores)
}

func sortByScoreDesc(ids []uint32, scores map[uint32]float64) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && less(ids[j], ids[j-1], scores); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

func less(a, b uint32, scores map[uint32]float64) bool {
	if scores[a] != scores[b] {
		return scores[a] > scores[b]
	}
	return a < b
}
