package eviction

import (
	"sort"
	"time"
)

// StreamConfig holds the approximate-sort tunables from spec.md §6.
type StreamConfig struct {
	WindowSize       int
	PoolSize         int
	RemovalFraction  float64
	DiscardFraction  float64
	MinAge           time.Duration
}

type scored struct {
	candidate Candidate
	effective time.Time
}

// Stream lazily orders candidates by EffectiveLastAccess (ascending, or
// descending when reverse is true), via the two-pointer approximate sort
// of spec.md §4.7: candidates is split by median index, each half is
// pool-sorted independently, and the halves are merged under the same
// comparator. Only candidates older than cfg.MinAge (relative to now) are
// emitted.
func Stream(candidates []Candidate, params Params, cfg StreamConfig, reverse bool, now time.Time) func() (Candidate, bool) {
	mid := len(candidates) / 2
	left := poolSortedStream(candidates[:mid], params, cfg, reverse)
	right := poolSortedStream(candidates[mid:], params, cfg, reverse)

	pending := merge(left, right, reverse)

	return func() (Candidate, bool) {
		for {
			s, ok := pending()
			if !ok {
				return Candidate{}, false
			}
			if now.Sub(s.effective) < cfg.MinAge {
				continue
			}
			return s.candidate, true
		}
	}
}

// better reports whether a sorts ahead of b under the comparator: ascending
// effectiveLastAccess normally, descending when reverse.
func better(a, b scored, reverse bool) bool {
	if reverse {
		return a.effective.After(b.effective)
	}
	return a.effective.Before(b.effective)
}

func merge(left, right func() (scored, bool), reverse bool) func() (scored, bool) {
	l, lok := left()
	r, rok := right()
	return func() (scored, bool) {
		switch {
		case !lok && !rok:
			return scored{}, false
		case !lok:
			out := r
			r, rok = right()
			return out, true
		case !rok:
			out := l
			l, lok = left()
			return out, true
		case better(l, r, reverse):
			out := l
			l, lok = left()
			return out, true
		default:
			out := r
			r, rok = right()
			return out, true
		}
	}
}

// poolSortedStream implements one half of the two-pointer approximate
// sort: it pulls pages of size WindowSize from remaining, maintains a
// bounded pool of at most PoolSize scored candidates, emits the best
// RemovalFraction of the pool per step, and discards the worst
// DiscardFraction of the pool per step.
func poolSortedStream(remaining []Candidate, params Params, cfg StreamConfig, reverse bool) func() (scored, bool) {
	pool := make([]scored, 0, cfg.PoolSize)
	pos := 0
	queue := make([]scored, 0)

	fill := func() {
		for len(pool) < cfg.PoolSize && pos < len(remaining) {
			end := pos + cfg.WindowSize
			if end > len(remaining) {
				end = len(remaining)
			}
			for _, c := range remaining[pos:end] {
				pool = append(pool, scored{candidate: c, effective: EffectiveLastAccess(c, params)})
			}
			pos = end
		}
		sort.Slice(pool, func(i, j int) bool { return better(pool[i], pool[j], reverse) })
	}

	step := func() {
		fill()
		if len(pool) == 0 {
			return
		}
		removalCount := int(float64(len(pool))*cfg.RemovalFraction + 0.999999)
		if removalCount < 1 {
			removalCount = 1
		}
		if removalCount > len(pool) {
			removalCount = len(pool)
		}
		queue = append(queue, pool[:removalCount]...)
		pool = pool[removalCount:]

		discardCount := int(float64(len(pool)) * cfg.DiscardFraction)
		if discardCount > len(pool) {
			discardCount = len(pool)
		}
		if discardCount > 0 {
			pool = pool[:len(pool)-discardCount]
		}
	}

	return func() (scored, bool) {
		for len(queue) == 0 {
			if len(pool) == 0 && pos >= len(remaining) {
				return scored{}, false
			}
			step()
		}
		out := queue[0]
		queue = queue[1:]
		return out, true
	}
}
