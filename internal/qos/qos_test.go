package qos

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oniro-request/requestd/internal/task"
)

func makeCandidates(n int, uid uint64) []Candidate {
	out := make([]Candidate, n)
	for i := 0; i < n; i++ {
		out[i] = Candidate{
			TaskID:      uint32(i + 1),
			UID:         uid,
			State:       task.Waiting,
			Mode:        task.ModeForeground,
			Version:     task.V10,
			Priority:    0,
			MTimeUnixNs: int64(i),
			Foreground:  true,
			AccountOK:   true,
			NetworkOK:   true,
		}
	}
	return out
}

func TestPartitionRss5MatchesSeedScenario(t *testing.T) {
	candidates := makeCandidates(10, 1000)
	decisions := Partition(candidates, 5)
	require.Len(t, decisions, 10)

	var full, low, rejected int
	for _, d := range decisions {
		switch {
		case !d.Admitted:
			rejected++
		case d.Tier == TierHigh:
			full++
		case d.Tier == TierLow:
			low++
		}
	}
	require.Equal(t, 4, full)
	require.Equal(t, 4, low)
	require.Equal(t, 2, rejected)
}

func TestPartitionIneligibleExcluded(t *testing.T) {
	candidates := makeCandidates(3, 1000)
	candidates[0].NetworkOK = false
	candidates[1].AccountOK = false

	decisions := Partition(candidates, 0)
	var admitted []uint32
	for _, d := range decisions {
		if d.Admitted {
			admitted = append(admitted, d.TaskID)
		}
	}
	require.Equal(t, []uint32{3}, admitted)
}

func TestV10ConcurrencyCapPerUid(t *testing.T) {
	candidates := makeCandidates(12, 2000)
	decisions := Partition(candidates, 0)

	var admitted int
	for _, d := range decisions {
		if d.Admitted {
			admitted++
		}
	}
	// RssLevel 0 allows m1+m2+m3 = 8+32+8 = 48 slots, far more than 12,
	// but the per-uid V10 cap limits it to 10 before partitioning even runs.
	require.Equal(t, v10ConcurrencyCap, admitted)
}

func TestV9BypassesConcurrencyCap(t *testing.T) {
	candidates := makeCandidates(12, 3000)
	for i := range candidates {
		candidates[i].Version = task.V9
	}
	decisions := Partition(candidates, 0)

	var admitted int
	for _, d := range decisions {
		if d.Admitted {
			admitted++
		}
	}
	require.Equal(t, 12, admitted)
}

func TestDiffDetectsAdmitRejectReprice(t *testing.T) {
	prev := []Decision{
		{TaskID: 1, Admitted: true, Tier: TierFull},
		{TaskID: 2, Admitted: true, Tier: TierLow},
	}
	next := []Decision{
		{TaskID: 1, Admitted: true, Tier: TierHigh}, // repriced
		{TaskID: 3, Admitted: true, Tier: TierFull}, // newly admitted
		// task 2 dropped entirely -> rejected
	}

	c := Diff(prev, next)
	require.Equal(t, []uint32{2}, c.ToReject)
	require.Len(t, c.ToAdmit, 1)
	require.Equal(t, uint32(3), c.ToAdmit[0].TaskID)
	require.Len(t, c.ToReprice, 1)
	require.Equal(t, uint32(1), c.ToReprice[0].TaskID)
}

func TestRssLevelFromPercentBuckets(t *testing.T) {
	require.Equal(t, 0, RssLevelFromPercent(10))
	require.Equal(t, 3, RssLevelFromPercent(60))
	require.Equal(t, 4, RssLevelFromPercent(70))
	require.Equal(t, 5, RssLevelFromPercent(80))
	require.Equal(t, 6, RssLevelFromPercent(90))
	require.Equal(t, 7, RssLevelFromPercent(99))
}
