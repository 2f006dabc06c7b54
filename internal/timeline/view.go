package timeline

import (
	"sort"
	"strconv"
	"time"

	"github.com/tradewatch/tradewatch/internal/common/config"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// BuildView renders a timeline view: newest first, adjacent session updates
// compressed, optionally windowed to the last N hours, then cut to the limit.
// hours <= 0 disables the window.
func BuildView(events []v1.ActivityEvent, hours, limit int, now time.Time, cfg config.TimelineConfig) ([]v1.ActivityEvent, v1.TimelineMeta) {
	limit = clampLimit(limit, cfg)

	rows := make([]v1.ActivityEvent, len(events))
	copy(rows, events)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TS > rows[j].TS })

	rows = Compress(rows)
	totalAfterCompress := len(rows)

	if hours > 0 {
		cut := now.Add(-time.Duration(hours) * time.Hour).UnixMilli()
		windowed := rows[:0]
		for _, e := range rows {
			if e.TS >= cut {
				windowed = append(windowed, e)
			}
		}
		rows = windowed
	}
	totalAfterWindow := len(rows)

	if len(rows) > limit {
		rows = rows[:limit]
	}

	meta := v1.TimelineMeta{
		Limit:              limit,
		Hours:              hoursLabel(hours),
		TotalAfterCompress: totalAfterCompress,
		TotalAfterWindow:   totalAfterWindow,
		Cap:                cfg.MaxCap,
	}
	return rows, meta
}

// Compress merges adjacent session_update rows carrying the same agent and
// detail into one row: counts sum and the newest timestamp wins. Input and
// output are newest first; non-adjacent duplicates stay separate so gaps in
// activity remain visible.
func Compress(rows []v1.ActivityEvent) []v1.ActivityEvent {
	out := make([]v1.ActivityEvent, 0, len(rows))
	for _, e := range rows {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if e.Work == v1.WorkSessionUpdate && last.Work == v1.WorkSessionUpdate &&
				e.Agent == last.Agent && e.Detail == last.Detail {
				last.Count = countOf(*last) + countOf(e)
				if e.TS > last.TS {
					last.TS = e.TS
					last.Time = e.Time
				}
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func countOf(e v1.ActivityEvent) int {
	if e.Count <= 0 {
		return 1
	}
	return e.Count
}

// ParseHours interprets the timelineHours query parameter. "all" and "0"
// disable the window; anything unparseable falls back to the default.
func ParseHours(raw string, cfg config.TimelineConfig) int {
	if raw == "" {
		return cfg.DefaultHours
	}
	if raw == "all" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return cfg.DefaultHours
	}
	return n
}

// ParseLimit interprets the timelineLimit query parameter.
func ParseLimit(raw string, cfg config.TimelineConfig) int {
	if raw == "" {
		return cfg.DefaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return cfg.DefaultLimit
	}
	return clampLimit(n, cfg)
}

func clampLimit(limit int, cfg config.TimelineConfig) int {
	if limit < 1 {
		return 1
	}
	if cfg.MaxCap > 0 && limit > cfg.MaxCap {
		return cfg.MaxCap
	}
	return limit
}

func hoursLabel(hours int) string {
	if hours <= 0 {
		return "all"
	}
	return strconv.Itoa(hours)
}
