package contentdb_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"locationstore.dev/lls/pkg/contentdb"
	"locationstore.dev/lls/pkg/contenthash"
)

func hashFrom(prefix byte) contenthash.Hash {
	var h contenthash.Hash
	h[0] = prefix
	return h
}

func TestWorkerCannotMutate(t *testing.T) {
	db := contentdb.New(t.Name())
	db.SetWriteable(false)

	err := db.ApplyAdd(hashFrom(1), 100, 5, time.Unix(1, 0))
	require.Error(t, err)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.True(t, db.Get(hashFrom(1)).IsMissing())
}

func TestMasterCanMutate(t *testing.T) {
	db := contentdb.New(t.Name())
	db.SetWriteable(true)

	require.NoError(t, db.ApplyAdd(hashFrom(1), 100, 5, time.Unix(1, 0)))
	entry := db.Get(hashFrom(1))
	require.False(t, entry.IsMissing())
	require.Equal(t, uint64(100), entry.Size)
	require.True(t, entry.HasMachine(5))
	require.Equal(t, 1, entry.ReplicaCount())
}

func TestLastAccessNonDecreasingOnAdd(t *testing.T) {
	db := contentdb.New(t.Name())
	db.SetWriteable(true)

	h := hashFrom(1)
	require.NoError(t, db.ApplyAdd(h, 100, 1, time.Unix(100, 0)))
	require.NoError(t, db.ApplyAdd(h, 100, 1, time.Unix(50, 0)))
	require.Equal(t, time.Unix(100, 0), db.Get(h).LastAccessUTC)
}

func TestApplyRemoveClearsBit(t *testing.T) {
	db := contentdb.New(t.Name())
	db.SetWriteable(true)
	h := hashFrom(1)
	require.NoError(t, db.ApplyAdd(h, 100, 1, time.Unix(1, 0)))
	require.NoError(t, db.ApplyRemove(h, 1))
	require.False(t, db.Get(h).HasMachine(1))
}

func TestLocalContributionSortedByShortHash(t *testing.T) {
	db := contentdb.New(t.Name())
	db.SetWriteable(true)
	require.NoError(t, db.ApplyAdd(hashFrom(3), 10, 9, time.Unix(1, 0)))
	require.NoError(t, db.ApplyAdd(hashFrom(1), 10, 9, time.Unix(1, 0)))
	require.NoError(t, db.ApplyAdd(hashFrom(2), 10, 9, time.Unix(1, 0)))
	require.NoError(t, db.ApplyAdd(hashFrom(5), 10, 4, time.Unix(1, 0))) // different machine, excluded

	contribution := db.LocalContribution(9)
	require.Len(t, contribution, 3)
	require.True(t, contribution[0].Short.Less(contribution[1].Short))
	require.True(t, contribution[1].Short.Less(contribution[2].Short))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	db := contentdb.New(t.Name())
	db.SetWriteable(true)
	h := hashFrom(1)
	require.NoError(t, db.ApplyAdd(h, 42, 3, time.Unix(1, 0)))

	snapshot := db.Snapshot()

	restored := contentdb.New(t.Name() + "-restored")
	// Restore must succeed even when not writeable.
	restored.Restore(snapshot)
	entry := restored.Get(h)
	require.Equal(t, uint64(42), entry.Size)
	require.True(t, entry.HasMachine(3))
}

func TestRestoreCanMoveLastAccessBackwards(t *testing.T) {
	db := contentdb.New(t.Name())
	db.SetWriteable(true)
	h := hashFrom(1)
	require.NoError(t, db.ApplyAdd(h, 1, 1, time.Unix(1000, 0)))

	db.Restore([]contentdb.SnapshotEntry{{
		Hash:          h,
		Size:          1,
		LastAccessUTC: time.Unix(1, 0),
		Machines:      []uint32{1},
	}})

	require.Equal(t, time.Unix(1, 0), db.Get(h).LastAccessUTC)
}

func TestReportCorruptionFiresOnce(t *testing.T) {
	db := contentdb.New(t.Name())
	var calls int32
	done := make(chan struct{}, 4)
	db.OnCorruption(func() {
		atomic.AddInt32(&calls, 1)
		done <- struct{}{}
	})

	db.ReportCorruption()
	db.ReportCorruption()
	db.ReportCorruption()

	<-done
	// Give any spurious extra goroutines a chance to (incorrectly) fire.
	select {
	case <-done:
		t.Fatal("corruption callback fired more than once")
	default:
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCompactRemovesStaleEmptyEntries(t *testing.T) {
	db := contentdb.New(t.Name())
	db.SetWriteable(true)
	h := hashFrom(1)
	require.NoError(t, db.ApplyAdd(h, 1, 1, time.Unix(0, 0)))
	require.NoError(t, db.ApplyRemove(h, 1))

	removed := db.Compact(time.Unix(1000, 0), time.Minute)
	require.Equal(t, 1, removed)
	require.True(t, db.Get(h).IsMissing())
}
