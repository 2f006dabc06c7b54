// Package timeline turns raw team telemetry into the durable activity log
// and the windowed views served to the dashboard. Cursors make ingestion
// idempotent: re-observing the same sessions or task table emits nothing.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tradewatch/tradewatch/internal/collector"
	"github.com/tradewatch/tradewatch/internal/common/logger"
	"github.com/tradewatch/tradewatch/internal/store"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// Aggregator owns the activity log and its cursor document.
type Aggregator struct {
	store   *store.Store
	project string
	logger  *logger.Logger
	now     func() time.Time
}

// NewAggregator creates an aggregator writing through the given store.
func NewAggregator(st *store.Store, project string, log *logger.Logger) *Aggregator {
	return &Aggregator{
		store:   st,
		project: project,
		logger:  log.WithComponent("timeline"),
		now:     time.Now,
	}
}

// Record compares the observed sessions and task table against the persisted
// cursors and appends an event for everything that moved. Events are appended
// to the log before the cursor commits, so a crash between the two can only
// replay events, never lose them.
func (a *Aggregator) Record(sessions []collector.Session, signals v1.TaskSignals) []v1.ActivityEvent {
	state := a.store.ReadActivityState()
	now := a.now()

	var events []v1.ActivityEvent
	events = append(events, a.sessionEvents(state, sessions)...)
	events = append(events, a.taskEvents(state, signals, now)...)
	if len(events) == 0 {
		return nil
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS < events[j].TS })

	if err := a.store.AppendActivityEvents(events); err != nil {
		a.logger.WithError(err).Error("failed to append activity events, cursor not advanced")
		return nil
	}
	if err := a.store.WriteActivityState(state); err != nil {
		a.logger.WithError(err).Warn("failed to persist activity cursors, events may replay")
	}
	a.logger.Debug("recorded activity", zap.Int("events", len(events)))
	return events
}

func (a *Aggregator) sessionEvents(state *store.ActivityState, sessions []collector.Session) []v1.ActivityEvent {
	var events []v1.ActivityEvent
	for _, s := range sessions {
		if s.Key == "" || s.UpdatedAt <= 0 {
			continue
		}
		if s.UpdatedAt <= state.Runs[s.Key] {
			continue
		}
		state.Runs[s.Key] = s.UpdatedAt
		events = append(events, v1.ActivityEvent{
			TS:      s.UpdatedAt,
			Time:    isoMillis(s.UpdatedAt),
			Agent:   s.AgentID,
			Work:    v1.WorkSessionUpdate,
			Project: a.project,
			Detail:  s.Key + " updated",
			Count:   1,
		})
	}
	return events
}

func (a *Aggregator) taskEvents(state *store.ActivityState, signals v1.TaskSignals, now time.Time) []v1.ActivityEvent {
	var events []v1.ActivityEvent
	for _, task := range signals.Tasks {
		if task.TaskID == "" {
			continue
		}
		cursor := store.TaskCursor{
			Status:      task.Status,
			Owner:       task.Owner,
			Description: task.Description,
		}
		prev, seen := state.Tasks[task.TaskID]
		if seen && prev == cursor {
			continue
		}
		state.Tasks[task.TaskID] = cursor

		// A task never seen before transitions from the synthetic NEW
		// status, so the detail always carries the arrow.
		oldStatus := prev.Status
		if !seen || oldStatus == "" {
			oldStatus = "NEW"
		}
		detail := fmt.Sprintf("%s: %s -> %s | %s", task.TaskID, oldStatus, task.Status, task.Description)
		agent := strings.ToLower(task.Owner)
		if agent == "" {
			agent = "pm"
		}
		events = append(events, v1.ActivityEvent{
			TS:      now.UnixMilli(),
			Time:    isoMillis(now.UnixMilli()),
			Agent:   agent,
			Work:    v1.WorkTaskStatus,
			Project: a.project,
			Detail:  detail,
		})
	}
	return events
}

// Log reads back up to limit events from the durable log, oldest first.
func (a *Aggregator) Log(limit int) []v1.ActivityEvent {
	return a.store.ReadActivityLog(limit)
}

func isoMillis(ts int64) string {
	return time.UnixMilli(ts).UTC().Format(time.RFC3339)
}
