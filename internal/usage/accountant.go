// Package usage derives token usage reports from the append-only snapshot
// log. Snapshots carry absolute per-agent counters; the accountant converts
// them into deltas tolerant of counter resets, then sums the deltas over the
// reporting windows.
package usage

import (
	"sort"
	"time"

	"github.com/tradewatch/tradewatch/internal/common/config"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// delta is one positive usage increment attributed to an agent and a task.
type delta struct {
	ts     int64
	agent  string
	taskID string
	tokens int64
}

// Summarize is a pure function over the snapshot log. Re-running it over the
// same log yields the same report; appends never change past deltas.
func Summarize(snapshots []v1.UsageSnapshot, now time.Time, cfg config.UsageConfig) v1.UsageSummary {
	ordered := make([]v1.UsageSnapshot, len(snapshots))
	copy(ordered, snapshots)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TS < ordered[j].TS })

	deltas := computeDeltas(ordered)

	dailyCut := now.Add(-time.Duration(cfg.DailyWindowHours) * time.Hour).UnixMilli()
	weeklyCut := now.Add(-time.Duration(cfg.WeeklyWindowHours) * time.Hour).UnixMilli()

	summary := v1.UsageSummary{
		Daily:         v1.UsageWindow{PerAgent: map[string]int64{}},
		Weekly:        v1.UsageWindow{PerAgent: map[string]int64{}},
		ByTask:        map[string]int64{},
		SnapshotCount: len(ordered),
		DeltaCount:    len(deltas),
	}
	for _, d := range deltas {
		if d.ts >= weeklyCut {
			summary.Weekly.Total += d.tokens
			summary.Weekly.PerAgent[d.agent] += d.tokens
			if d.taskID != "" {
				summary.ByTask[d.taskID] += d.tokens
			}
		}
		if d.ts >= dailyCut {
			summary.Daily.Total += d.tokens
			summary.Daily.PerAgent[d.agent] += d.tokens
		}
	}

	summary.Warning = classify(summary.Daily.Total, cfg)
	return summary
}

// classify grades the daily total against the configured thresholds.
func classify(dailyTotal int64, cfg config.UsageConfig) string {
	switch {
	case cfg.CriticalThreshold > 0 && dailyTotal >= cfg.CriticalThreshold:
		return "critical"
	case cfg.WarnThreshold > 0 && dailyTotal >= cfg.WarnThreshold:
		return "warn"
	default:
		return "ok"
	}
}

// computeDeltas walks the ordered log keeping the last absolute counter seen
// per agent. A first sighting is a baseline, not usage. A counter that went
// backwards means the upstream process restarted: the new value becomes the
// baseline and no negative delta is ever produced.
func computeDeltas(ordered []v1.UsageSnapshot) []delta {
	lastSeen := map[string]int64{}
	var deltas []delta
	for _, snap := range ordered {
		for agent, counter := range snap.PerAgent {
			prev, seen := lastSeen[agent]
			lastSeen[agent] = counter
			if !seen {
				continue
			}
			if counter <= prev {
				continue
			}
			deltas = append(deltas, delta{
				ts:     snap.TS,
				agent:  agent,
				taskID: snap.TaskID,
				tokens: counter - prev,
			})
		}
	}
	return deltas
}
