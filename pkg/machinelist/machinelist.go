// Package machinelist implements the lazy, reputation-ordered resolution
// of a BitSet<MachineId> into MachineLocations described in spec.md §9
// ("MachineList"): a thin wrapper, not a standalone component.
package machinelist

import (
	"math/rand"

	"locationstore.dev/lls/pkg/bitset"
	"locationstore.dev/lls/pkg/clusterstate"
	"locationstore.dev/lls/pkg/reputation"
)

// Resolve turns the set bits of locations into MachineLocations, in
// randomized order re-sorted by reputation score (best first). Machine ids
// that Cluster State cannot resolve are silently skipped; refreshing
// Cluster State for unknown ids (spec.md invariant 3) is the caller's job,
// and this package only resolves what the given state already knows.
func Resolve(locations *bitset.Set, cluster *clusterstate.State, rep *reputation.Tracker) []clusterstate.MachineLocation {
	ids := locations.Elements()
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if rep != nil {
		rep.Sort(ids)
	}

	out := make([]clusterstate.MachineLocation, 0, len(ids))
	for _, id := range ids {
		loc, ok := cluster.Resolve(id)
		if !ok {
			continue
		}
		out = append(out, loc)
	}
	return out
}
