// Package eviction implements the effective-last-access scoring and
// approximate-sort streaming used to choose eviction and proactive
// replication candidates (spec.md component J, §4.7).
package eviction

import (
	"math"
	"time"

	"locationstore.dev/lls/pkg/contenthash"
)

// Candidate is one hash under evaluation for eviction ordering.
type Candidate struct {
	Hash             contenthash.Hash
	Size             uint64
	ReplicaCount     int
	LocalLastAccess  time.Time
	DBLastAccess     time.Time
}

// Params are the tunables driving EffectiveLastAccess (spec.md §6).
type Params struct {
	// ContentLifetime scales the age adjustment; a zero value collapses
	// EffectiveLastAccess to max(localLastAccess, dbLastAccess).
	ContentLifetime time.Duration
	// MachineRisk is the assumed per-replica per-unit-time unavailability
	// probability used by the exponential-decay recall model.
	MachineRisk float64
}

// EffectiveLastAccess computes the age-adjusted evictability score
// described in spec.md §4.7: under an exponential-decay recall model and
// per-replica independent unavailability, minimizing this quantity
// minimizes Pr(want ∧ all replicas unreachable) per byte freed.
func EffectiveLastAccess(c Candidate, p Params) time.Time {
	r := c.ReplicaCount
	if r < 1 {
		r = 1
	}
	size := c.Size
	if size < 1 {
		size = 1
	}
	base := c.LocalLastAccess
	if c.DBLastAccess.After(base) {
		base = c.DBLastAccess
	}
	adjustment := float64(p.ContentLifetime) * (float64(r)*(-math.Log(p.MachineRisk)) + math.Log(float64(size)))
	return base.Add(-time.Duration(adjustment))
}
