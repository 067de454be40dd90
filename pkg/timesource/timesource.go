// Package timesource provides the narrow "what time is it" capability used
// throughout LLS for staleness and expiry decisions.
//
// Rather than threading the teacher's full clock.Clock interface (which
// also covers timers and deadline contexts) through every component, LLS
// components that only need to read the current time depend on this
// single-method Source, matching the "narrow capability abstraction"
// design note in spec.md §9. Components that also need to sleep or wait
// use context.Context and the standard library directly (see
// pkg/lls/role.go), which keeps their cancellation behavior testable
// without depending on the exact shape of a mocked timer.
package timesource

import (
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
)

// Source reports the current wall-clock time.
type Source interface {
	Now() time.Time
}

// System is the production Source, backed by the teacher's process clock.
var System Source = clock.SystemClock

// Fixed is a Source that always reports the same instant, useful in tests
// that assert exact values derived from "now" without racing wall time.
type Fixed time.Time

// Now implements Source.
func (f Fixed) Now() time.Time {
	return time.Time(f)
}
