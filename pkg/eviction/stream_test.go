package eviction_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"locationstore.dev/lls/pkg/eviction"
)

func drain(next func() (eviction.Candidate, bool)) []eviction.Candidate {
	var out []eviction.Candidate
	for {
		c, ok := next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

func TestEffectiveAgeMonotonicityByReplicaCount(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	params := eviction.Params{ContentLifetime: time.Hour, MachineRisk: 0.1}

	low := eviction.EffectiveLastAccess(eviction.Candidate{Size: 100, ReplicaCount: 1, LocalLastAccess: base}, params)
	high := eviction.EffectiveLastAccess(eviction.Candidate{Size: 100, ReplicaCount: 5, LocalLastAccess: base}, params)

	require.True(t, high.Before(low), "higher replica count must be more evictable (smaller effective time)")
}

func TestEffectiveAgeMonotonicityBySize(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	params := eviction.Params{ContentLifetime: time.Hour, MachineRisk: 0.1}

	small := eviction.EffectiveLastAccess(eviction.Candidate{Size: 10, ReplicaCount: 1, LocalLastAccess: base}, params)
	large := eviction.EffectiveLastAccess(eviction.Candidate{Size: 1000, ReplicaCount: 1, LocalLastAccess: base}, params)

	require.True(t, large.Before(small), "larger size must be more evictable (smaller effective time)")
}

func TestStreamOrdersReplicasAndSizeCorrectly(t *testing.T) {
	// spec scenario: x(size=10,replicas=1), y(size=10,replicas=5),
	// z(size=1000,replicas=1) all with same lastAccess; ordering is
	// z < y < x (most evictable first).
	base := time.Unix(1_700_000_000, 0)
	x := eviction.Candidate{Hash: hashByte(1), Size: 10, ReplicaCount: 1, LocalLastAccess: base}
	y := eviction.Candidate{Hash: hashByte(2), Size: 10, ReplicaCount: 5, LocalLastAccess: base}
	z := eviction.Candidate{Hash: hashByte(3), Size: 1000, ReplicaCount: 1, LocalLastAccess: base}

	params := eviction.Params{ContentLifetime: time.Hour, MachineRisk: 0.1}
	cfg := eviction.StreamConfig{WindowSize: 8, PoolSize: 8, RemovalFraction: 1, DiscardFraction: 0, MinAge: -time.Hour * 1000}

	next := eviction.Stream([]eviction.Candidate{x, y, z}, params, cfg, false, base.Add(time.Second))
	got := drain(next)

	require.Len(t, got, 3)
	require.Equal(t, z.Hash, got[0].Hash)
	require.Equal(t, y.Hash, got[1].Hash)
	require.Equal(t, x.Hash, got[2].Hash)
}

func TestStreamFiltersByMinAge(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	fresh := eviction.Candidate{Hash: hashByte(1), Size: 10, ReplicaCount: 1, LocalLastAccess: base}

	params := eviction.Params{ContentLifetime: 0, MachineRisk: 0.1}
	cfg := eviction.StreamConfig{WindowSize: 8, PoolSize: 8, RemovalFraction: 1, DiscardFraction: 0, MinAge: time.Hour}

	next := eviction.Stream([]eviction.Candidate{fresh}, params, cfg, false, base.Add(time.Minute))
	got := drain(next)

	require.Empty(t, got, "candidate younger than MinAge must not be emitted")
}

func TestStreamReverseOrdersDescending(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	x := eviction.Candidate{Hash: hashByte(1), Size: 10, ReplicaCount: 1, LocalLastAccess: base}
	z := eviction.Candidate{Hash: hashByte(3), Size: 1000, ReplicaCount: 1, LocalLastAccess: base}

	params := eviction.Params{ContentLifetime: time.Hour, MachineRisk: 0.1}
	cfg := eviction.StreamConfig{WindowSize: 8, PoolSize: 8, RemovalFraction: 1, DiscardFraction: 0, MinAge: -time.Hour * 1000}

	next := eviction.Stream([]eviction.Candidate{x, z}, params, cfg, true, base.Add(time.Second))
	got := drain(next)

	require.Len(t, got, 2)
	require.Equal(t, x.Hash, got[0].Hash, "reverse order puts newest-evictable (least evictable) first")
	require.Equal(t, z.Hash, got[1].Hash)
}

func hashByte(b byte) (h [32]byte) {
	h[0] = b
	return h
}
