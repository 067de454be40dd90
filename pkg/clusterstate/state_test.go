package clusterstate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"locationstore.dev/lls/pkg/clusterstate"
	"locationstore.dev/lls/pkg/timesource"
)

// tickingClock advances by one second each time Now() is called, so tests
// can observe ordering of successive events without depending on wall time.
type tickingClock struct{ next int64 }

func (c *tickingClock) Now() time.Time {
	c.next++
	return time.Unix(c.next, 0)
}

func TestUpdateAdvancesMaxMachineID(t *testing.T) {
	s := clusterstate.New(timesource.Fixed(time.Unix(1000, 0)))

	s.Update(5, "10.0.0.1:1234", true)
	s.Update(2, "10.0.0.2:1234", true)
	require.Equal(t, uint32(5), s.MaxMachineID())

	location, ok := s.Resolve(5)
	require.True(t, ok)
	require.Equal(t, clusterstate.MachineLocation("10.0.0.1:1234"), location)

	_, ok = s.Resolve(99)
	require.False(t, ok)
}

func TestUpdateRecordsLastInactiveTimeOnTransition(t *testing.T) {
	clk := &tickingClock{}
	s := clusterstate.New(clk)

	s.Update(1, "loc", true)
	require.True(t, s.LastInactiveTime().IsZero())

	s.Update(1, "loc", false)
	require.Equal(t, time.Unix(1, 0), s.LastInactiveTime())
}

func TestMarkActiveIgnoresUnknownMachine(t *testing.T) {
	s := clusterstate.New(timesource.Fixed(time.Unix(1000, 0)))
	require.NotPanics(t, func() { s.MarkActive(42) })
	require.False(t, s.IsActive(42))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := clusterstate.New(timesource.Fixed(time.Unix(1000, 0)))
	s.Update(3, "a", true)
	s.Update(7, "b", false)

	snapshot := s.Snapshot()

	restored := clusterstate.New(timesource.Fixed(time.Unix(1000, 0)))
	restored.Restore(snapshot)
	require.Equal(t, uint32(7), restored.MaxMachineID())
	loc, ok := restored.Resolve(3)
	require.True(t, ok)
	require.Equal(t, clusterstate.MachineLocation("a"), loc)
}

func TestUnresolvedIDs(t *testing.T) {
	s := clusterstate.New(timesource.Fixed(time.Unix(1000, 0)))
	s.Update(1, "a", true)

	require.Equal(t, []uint32{2, 3}, s.UnresolvedIDs([]uint32{1, 2, 3}))
}
