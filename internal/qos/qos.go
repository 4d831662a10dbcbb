// Package qos implements C4, the QoS engine: it partitions the eligible
// task set into speed tiers under an RSS-pressure capacity table (§4.4),
// and recomputes that partition whenever any monitored signal changes.
//
// Grounded on internal/core/engine.go's queueWorker eligibility filtering
// and internal/core/scheduler.go's GetNextTask ordering, generalized from a
// flat "next N tasks" pull into the full admit/reject/reprice partition the
// spec's capacity table requires. The RSS source is gopsutil/v3/mem, the
// only real memory-pressure reader anywhere in the example pack.
package qos

import (
	"sort"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/oniro-request/requestd/internal/task"
)

// SpeedTier is a bandwidth cap applied to a running task.
type SpeedTier int

const (
	TierFull SpeedTier = iota // unlimited
	TierHigh                  // 1 MiB/s
	TierMiddle                // 800 KiB/s
	TierLow                   // 400 KiB/s
)

// BytesPerSecond returns the token-bucket rate for a tier, 0 meaning
// unlimited.
func (t SpeedTier) BytesPerSecond() int64 {
	switch t {
	case TierHigh:
		return 1 * 1024 * 1024
	case TierMiddle:
		return 800 * 1024
	case TierLow:
		return 400 * 1024
	default:
		return 0
	}
}

// capacityRow is one line of the §4.4 table: how many tasks run at each of
// the three tiers under a given RssLevel, and which tier each slot gets.
type capacityRow struct {
	m1, m2, m3          int
	tier1, tier2, tier3 SpeedTier
}

// capacityTable is indexed by RssLevel (0..7); rows 0-2 share one entry.
var capacityTable = map[int]capacityRow{
	0: {8, 32, 8, TierFull, TierMiddle, TierMiddle},
	1: {8, 32, 8, TierFull, TierMiddle, TierMiddle},
	2: {8, 32, 8, TierFull, TierMiddle, TierMiddle},
	3: {8, 16, 4, TierFull, TierLow, TierLow},
	4: {4, 8, 2, TierHigh, TierLow, TierLow},
	5: {4, 4, 0, TierHigh, TierLow, TierLow},
	6: {2, 0, 0, TierHigh, TierLow, TierLow},
	7: {2, 0, 0, TierMiddle, TierLow, TierLow},
}

// CapacityFor returns the capacity row for an RSS level, clamping to [0,7].
func CapacityFor(rssLevel int) (m1, m2, m3 int, tier1, tier2, tier3 SpeedTier) {
	if rssLevel < 0 {
		rssLevel = 0
	}
	if rssLevel > 7 {
		rssLevel = 7
	}
	row := capacityTable[rssLevel]
	return row.m1, row.m2, row.m3, row.tier1, row.tier2, row.tier3
}

// RssLevelFromPercent buckets a used-memory percentage into the spec's
// 0..7 pressure scale.
func RssLevelFromPercent(usedPercent float64) int {
	switch {
	case usedPercent < 50:
		return 0
	case usedPercent < 65:
		return 3
	case usedPercent < 75:
		return 4
	case usedPercent < 85:
		return 5
	case usedPercent < 95:
		return 6
	default:
		return 7
	}
}

// CurrentRssLevel reads live memory pressure via gopsutil.
func CurrentRssLevel() (int, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return RssLevelFromPercent(v.UsedPercent), nil
}

const v10ConcurrencyCap = 10

// Candidate is the subset of task state the QoS engine needs to decide
// eligibility and ordering; runqueue/scheduler build this from the real
// task.Task plus monitor snapshots.
type Candidate struct {
	TaskID      uint32
	UID         uint64
	State       task.State
	Mode        task.Mode
	Version     task.Version
	Priority    int
	MTimeUnixNs int64
	Foreground  bool
	AllowedBg   bool // uid explicitly allowed to run in background
	AccountOK   bool
	NetworkOK   bool
}

func (c Candidate) eligible() bool {
	switch c.State {
	case task.Waiting, task.Running, task.Retrying:
	default:
		return false
	}
	if !(c.Foreground || c.AllowedBg) {
		return false
	}
	return c.AccountOK && c.NetworkOK
}

// Decision assigns a candidate's admitted tier, or marks it rejected.
type Decision struct {
	TaskID   uint32
	Admitted bool
	Tier     SpeedTier
}

// Changes is the diff the run queue reconciles against: which tasks must
// newly admit, which must newly reject (moved to Waiting/
// RunningTaskMeetLimits), and which stay admitted but at a different tier.
type Changes struct {
	ToAdmit   []Decision
	ToReject  []uint32
	ToReprice []Decision
}

// Partition runs the full §4.4 algorithm: filters to eligible candidates,
// enforces the per-uid V10 concurrency cap, sorts by
// (mode=Foreground first, priority desc, mtime asc), then fills m1/m2/m3
// slots from the capacity table for rssLevel.
func Partition(candidates []Candidate, rssLevel int) []Decision {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.eligible() {
			eligible = append(eligible, c)
		}
	}

	eligible = applyV10Cap(eligible)

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if (a.Mode == task.ModeForeground) != (b.Mode == task.ModeForeground) {
			return a.Mode == task.ModeForeground
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.MTimeUnixNs < b.MTimeUnixNs
	})

	m1, m2, m3, t1, t2, t3 := CapacityFor(rssLevel)
	decisions := make([]Decision, 0, len(eligible))
	idx := 0
	fill := func(n int, tier SpeedTier) {
		for i := 0; i < n && idx < len(eligible); i++ {
			decisions = append(decisions, Decision{TaskID: eligible[idx].TaskID, Admitted: true, Tier: tier})
			idx++
		}
	}
	fill(m1, t1)
	fill(m2, t2)
	fill(m3, t3)
	for ; idx < len(eligible); idx++ {
		decisions = append(decisions, Decision{TaskID: eligible[idx].TaskID, Admitted: false})
	}
	return decisions
}

// applyV10Cap enforces the 10-concurrent-V10-tasks-per-uid rule ahead of
// tier partitioning. V9 tasks bypass the cap entirely. Paused tasks never
// reach this function (they aren't in Waiting/Running/Retrying), so they
// never count toward it either.
func applyV10Cap(candidates []Candidate) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].MTimeUnixNs < candidates[j].MTimeUnixNs
	})

	count := make(map[uint64]int)
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Version == task.V10 {
			if count[c.UID] >= v10ConcurrencyCap {
				continue
			}
			count[c.UID]++
		}
		out = append(out, c)
	}
	return out
}

// Diff compares a previous partition against a new one and produces the
// Changes the run queue must reconcile.
func Diff(prev, next []Decision) Changes {
	prevByID := make(map[uint32]Decision, len(prev))
	for _, d := range prev {
		prevByID[d.TaskID] = d
	}

	var c Changes
	seen := make(map[uint32]struct{}, len(next))
	for _, d := range next {
		seen[d.TaskID] = struct{}{}
		old, existed := prevByID[d.TaskID]
		switch {
		case d.Admitted && (!existed || !old.Admitted):
			c.ToAdmit = append(c.ToAdmit, d)
		case d.Admitted && existed && old.Admitted && old.Tier != d.Tier:
			c.ToReprice = append(c.ToReprice, d)
		case !d.Admitted && existed && old.Admitted:
			c.ToReject = append(c.ToReject, d.TaskID)
		}
	}
	for _, d := range prev {
		if _, ok := seen[d.TaskID]; !ok && d.Admitted {
			c.ToReject = append(c.ToReject, d.TaskID)
		}
	}
	return c
}
