package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewatch/tradewatch/internal/collector"
	"github.com/tradewatch/tradewatch/internal/common/logger"
	"github.com/tradewatch/tradewatch/internal/store"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	st, err := store.Open(t.TempDir(), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewAggregator(st, "trading-workspace", logger.Default())
}

func TestRecordSessionAdvancesCursor(t *testing.T) {
	a := newTestAggregator(t)
	sessions := []collector.Session{
		{Key: "agent:coder_a:main", UpdatedAt: 1700000000000, AgentID: "coder_a"},
	}

	events := a.Record(sessions, v1.TaskSignals{})
	require.Len(t, events, 1)
	assert.Equal(t, v1.WorkSessionUpdate, events[0].Work)
	assert.Equal(t, "coder_a", events[0].Agent)
	assert.Equal(t, int64(1700000000000), events[0].TS)
	assert.Equal(t, "trading-workspace", events[0].Project)

	// Same observation again: cursor already caught up, nothing emitted.
	assert.Empty(t, a.Record(sessions, v1.TaskSignals{}))

	// A newer update emits exactly one more event.
	sessions[0].UpdatedAt = 1700000005000
	require.Len(t, a.Record(sessions, v1.TaskSignals{}), 1)
	assert.Len(t, a.Log(0), 2)
}

func TestRecordIgnoresStaleAndInvalidSessions(t *testing.T) {
	a := newTestAggregator(t)
	a.Record([]collector.Session{
		{Key: "agent:pm:plan", UpdatedAt: 2000, AgentID: "pm"},
	}, v1.TaskSignals{})

	events := a.Record([]collector.Session{
		{Key: "agent:pm:plan", UpdatedAt: 1000, AgentID: "pm"}, // older than cursor
		{Key: "", UpdatedAt: 3000, AgentID: "pm"},
		{Key: "agent:tl:x", UpdatedAt: 0, AgentID: "tl"},
	}, v1.TaskSignals{})
	assert.Empty(t, events)
}

func TestRecordTaskTransitions(t *testing.T) {
	a := newTestAggregator(t)
	signals := v1.TaskSignals{Tasks: []v1.TaskSignal{
		{TaskID: "TASK-1", Status: "DONE", Owner: "coder_a", Description: "wire feed"},
	}}

	// First sight transitions from the synthetic NEW status.
	events := a.Record(nil, signals)
	require.Len(t, events, 1)
	assert.Equal(t, v1.WorkTaskStatus, events[0].Work)
	assert.Equal(t, "coder_a", events[0].Agent)
	assert.Equal(t, "TASK-1: NEW -> DONE | wire feed", events[0].Detail)

	// Unchanged tuple: idempotent.
	assert.Empty(t, a.Record(nil, signals))

	// Status transition names the real previous status.
	signals.Tasks[0].Status = "IN_PROGRESS"
	events = a.Record(nil, signals)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Detail, "DONE -> IN_PROGRESS")

	// Owner-only change still moves the cursor and keeps the arrow.
	signals.Tasks[0].Owner = "coder_b"
	events = a.Record(nil, signals)
	require.Len(t, events, 1)
	assert.Equal(t, "coder_b", events[0].Agent)
	assert.Equal(t, "TASK-1: IN_PROGRESS -> IN_PROGRESS | wire feed", events[0].Detail)
}

func TestRecordOwnerlessTaskFallsToPM(t *testing.T) {
	a := newTestAggregator(t)
	events := a.Record(nil, v1.TaskSignals{Tasks: []v1.TaskSignal{
		{TaskID: "TASK-2", Status: "NEW"},
	}})
	require.Len(t, events, 1)
	assert.Equal(t, "pm", events[0].Agent)
}

func TestRecordSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir, logger.Default())
	require.NoError(t, err)
	a := NewAggregator(st, "trading-workspace", logger.Default())
	sessions := []collector.Session{{Key: "agent:tl:r", UpdatedAt: 5000, AgentID: "tl"}}
	require.Len(t, a.Record(sessions, v1.TaskSignals{}), 1)
	require.NoError(t, st.Close())

	// A new process over the same directory sees the committed cursor.
	st2, err := store.Open(dir, logger.Default())
	require.NoError(t, err)
	defer st2.Close()
	a2 := NewAggregator(st2, "trading-workspace", logger.Default())
	assert.Empty(t, a2.Record(sessions, v1.TaskSignals{}))
	assert.Len(t, a2.Log(0), 1)
}

func TestRecordOrdersMixedEvents(t *testing.T) {
	a := newTestAggregator(t)
	a.now = func() time.Time { return time.UnixMilli(9000) }

	events := a.Record([]collector.Session{
		{Key: "agent:pm:plan", UpdatedAt: 7000, AgentID: "pm"},
		{Key: "agent:tl:rev", UpdatedAt: 3000, AgentID: "tl"},
	}, v1.TaskSignals{Tasks: []v1.TaskSignal{
		{TaskID: "TASK-3", Status: "NEW", Owner: "pm"},
	}})

	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].TS, events[i].TS, "log rows append oldest first")
	}
}
