// Package clusterstate maintains the in-memory mapping between MachineId
// and MachineLocation, together with per-machine active/inactive bits and
// the monotonic MaxMachineId watermark (spec.md component B).
//
// State is shared read-mostly across the LLS core; writes are serialized
// by the caller (the LLS core refreshes it during the heartbeat, and
// individual event consumers mark senders active).
package clusterstate

import (
	"sync"
	"time"

	"locationstore.dev/lls/pkg/timesource"
)

// MachineLocation is an opaque network address for a machine, resolved
// from a MachineId. Its representation is defined by the Global Store
// client; LLS treats it as an opaque string.
type MachineLocation string

type machineEntry struct {
	location MachineLocation
	active   bool
}

// State is the in-memory Cluster State component.
type State struct {
	clock timesource.Source

	mu               sync.RWMutex
	machines         map[uint32]machineEntry
	maxMachineID     uint32
	lastInactiveTime time.Time
}

// New creates an empty Cluster State using clk as its time source.
func New(clk timesource.Source) *State {
	return &State{
		clock:    clk,
		machines: map[uint32]machineEntry{},
	}
}

// Resolve looks up the location of id. The second return value is false
// if id has never been registered in this Cluster State.
func (s *State) Resolve(id uint32) (MachineLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.machines[id]
	return entry.location, ok
}

// IsActive reports whether id is currently believed to be active. Unknown
// machines are reported inactive.
func (s *State) IsActive(id uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machines[id].active
}

// MaxMachineID returns the highest MachineId ever observed by this state.
func (s *State) MaxMachineID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxMachineID
}

// LastInactiveTime returns the last time any machine transitioned to
// inactive, used by the registration policy's "recent inactivity" check
// (spec.md §4.2 rule 2).
func (s *State) LastInactiveTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastInactiveTime
}

// Update replaces or inserts a machine's location and active bit. It
// advances MaxMachineID if id is a new watermark, and records
// LastInactiveTime if the machine transitions from active to inactive.
func (s *State) Update(id uint32, location MachineLocation, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.machines[id]
	if existed && prev.active && !active {
		s.lastInactiveTime = s.clock.Now()
	}
	s.machines[id] = machineEntry{location: location, active: active}
	if id > s.maxMachineID {
		s.maxMachineID = id
	}
}

// MarkActive marks id as active without changing its known location. It
// is a no-op for machines never registered via Update, matching the
// "unresolved ids trigger a synchronous refresh" invariant elsewhere
// (spec.md §3 invariant 3): a bare active-mark from an event is not
// sufficient to fabricate a location.
func (s *State) MarkActive(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.machines[id]; ok {
		entry.active = true
		s.machines[id] = entry
	}
}

// Snapshot describes the full state as of a point in time, used when
// persisting Cluster State to the content database or publishing it to
// the Global Store.
type Snapshot struct {
	Machines     map[uint32]MachineEntrySnapshot
	MaxMachineID uint32
}

// MachineEntrySnapshot is one machine's location and activity bit.
type MachineEntrySnapshot struct {
	Location MachineLocation
	Active   bool
}

// Snapshot returns a copy of the full mapping for persistence.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	machines := make(map[uint32]MachineEntrySnapshot, len(s.machines))
	for id, entry := range s.machines {
		machines[id] = MachineEntrySnapshot{Location: entry.location, Active: entry.active}
	}
	return Snapshot{Machines: machines, MaxMachineID: s.maxMachineID}
}

// Restore replaces the full mapping from a previously taken Snapshot,
// e.g. one read back from the content database at startup or received
// from the Global Store during a heartbeat refresh.
func (s *State) Restore(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	machines := make(map[uint32]machineEntry, len(snapshot.Machines))
	for id, entry := range snapshot.Machines {
		machines[id] = machineEntry{location: entry.Location, active: entry.Active}
	}
	s.machines = machines
	if snapshot.MaxMachineID > s.maxMachineID {
		s.maxMachineID = snapshot.MaxMachineID
	}
}

// UnresolvedIDs filters ids down to those this Cluster State cannot
// currently resolve to a location.
func (s *State) UnresolvedIDs(ids []uint32) []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var unresolved []uint32
	for _, id := range ids {
		if _, ok := s.machines[id]; !ok {
			unresolved = append(unresolved, id)
		}
	}
	return unresolved
}
