package contentdb

import (
	"time"

	"locationstore.dev/lls/pkg/bitset"
)

// Entry is the Content Location Database's per-hash record (spec.md §3,
// "ContentLocationEntry").
type Entry struct {
	Size          uint64
	LastAccessUTC time.Time
	Locations     *bitset.Set
}

// Missing is the distinguished sentinel returned by Get for a hash the
// database has no entry for.
var Missing = Entry{}

// IsMissing reports whether e records no locations: either the Missing
// sentinel (a zero-value Entry) or an entry whose every machine bit has
// been cleared.
func (e Entry) IsMissing() bool {
	return e.Locations == nil || e.Locations.Empty()
}

// ReplicaCount returns the number of machines recorded as holding this
// content.
func (e Entry) ReplicaCount() int {
	if e.Locations == nil {
		return 0
	}
	return e.Locations.Count()
}

// HasMachine reports whether machineID's bit is set in e's locations.
func (e Entry) HasMachine(machineID uint32) bool {
	return e.Locations != nil && e.Locations.Contains(machineID)
}

// Clone returns a deep copy of e, so that callers may mutate the returned
// entry without affecting the database's internal state.
func (e Entry) Clone() Entry {
	clone := e
	if e.Locations != nil {
		clone.Locations = e.Locations.Clone()
	}
	return clone
}
