package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewatch/tradewatch/internal/common/config"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

var viewCfg = config.TimelineConfig{DefaultLimit: 30, DefaultHours: 24, MaxCap: 300}

func sessionEvent(ts int64, agent, detail string) v1.ActivityEvent {
	return v1.ActivityEvent{TS: ts, Agent: agent, Work: v1.WorkSessionUpdate, Detail: detail, Count: 1}
}

func TestBuildViewNewestFirst(t *testing.T) {
	now := time.UnixMilli(100_000)
	rows, meta := BuildView([]v1.ActivityEvent{
		sessionEvent(1000, "pm", "a updated"),
		sessionEvent(3000, "tl", "b updated"),
		sessionEvent(2000, "coder_a", "c updated"),
	}, 0, 30, now, viewCfg)

	require.Len(t, rows, 3)
	assert.Equal(t, int64(3000), rows[0].TS)
	assert.Equal(t, int64(1000), rows[2].TS)
	assert.Equal(t, "all", meta.Hours)
	assert.Equal(t, 3, meta.TotalAfterCompress)
}

func TestCompressMergesAdjacentSessionUpdates(t *testing.T) {
	rows := Compress([]v1.ActivityEvent{
		sessionEvent(3000, "coder_a", "agent:coder_a:main updated"),
		sessionEvent(2000, "coder_a", "agent:coder_a:main updated"),
		sessionEvent(1000, "coder_a", "agent:coder_a:main updated"),
	})

	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Count)
	assert.Equal(t, int64(3000), rows[0].TS, "latest timestamp wins")
}

func TestCompressRespectsAdjacency(t *testing.T) {
	rows := Compress([]v1.ActivityEvent{
		sessionEvent(4000, "coder_a", "x updated"),
		{TS: 3000, Agent: "pm", Work: v1.WorkTaskStatus, Detail: "TASK-1: DONE"},
		sessionEvent(2000, "coder_a", "x updated"),
	})

	require.Len(t, rows, 3, "a task event between duplicates keeps them apart")
}

func TestCompressNeverTouchesTaskEvents(t *testing.T) {
	rows := Compress([]v1.ActivityEvent{
		{TS: 2000, Agent: "pm", Work: v1.WorkTaskStatus, Detail: "TASK-1: DONE"},
		{TS: 1000, Agent: "pm", Work: v1.WorkTaskStatus, Detail: "TASK-1: DONE"},
	})
	require.Len(t, rows, 2)
}

func TestBuildViewWindow(t *testing.T) {
	now := time.Now()
	old := now.Add(-48 * time.Hour).UnixMilli()
	recent := now.Add(-1 * time.Hour).UnixMilli()

	rows, meta := BuildView([]v1.ActivityEvent{
		sessionEvent(old, "pm", "old updated"),
		sessionEvent(recent, "tl", "recent updated"),
	}, 24, 30, now, viewCfg)

	require.Len(t, rows, 1)
	assert.Equal(t, "tl", rows[0].Agent)
	assert.Equal(t, 2, meta.TotalAfterCompress)
	assert.Equal(t, 1, meta.TotalAfterWindow)
	assert.Equal(t, "24", meta.Hours)

	// hours 0 disables the window entirely.
	rows, _ = BuildView([]v1.ActivityEvent{
		sessionEvent(old, "pm", "old updated"),
		sessionEvent(recent, "tl", "recent updated"),
	}, 0, 30, now, viewCfg)
	assert.Len(t, rows, 2)
}

func TestBuildViewLimitClamp(t *testing.T) {
	now := time.Now()
	var events []v1.ActivityEvent
	for i := 0; i < 10; i++ {
		events = append(events, v1.ActivityEvent{
			TS: int64(i + 1), Agent: "pm", Work: v1.WorkTaskStatus, Detail: "d",
		})
	}

	rows, meta := BuildView(events, 0, 5, now, viewCfg)
	assert.Len(t, rows, 5)
	assert.Equal(t, 5, meta.Limit)

	rows, meta = BuildView(events, 0, -3, now, viewCfg)
	assert.Len(t, rows, 1, "limit below 1 clamps to 1")
	assert.Equal(t, 1, meta.Limit)

	_, meta = BuildView(events, 0, 9999, now, viewCfg)
	assert.Equal(t, viewCfg.MaxCap, meta.Limit, "limit above the cap clamps to the cap")
}

func TestParseHours(t *testing.T) {
	assert.Equal(t, 24, ParseHours("", viewCfg))
	assert.Equal(t, 0, ParseHours("all", viewCfg))
	assert.Equal(t, 0, ParseHours("0", viewCfg))
	assert.Equal(t, 6, ParseHours("6", viewCfg))
	assert.Equal(t, 24, ParseHours("soon", viewCfg))
	assert.Equal(t, 24, ParseHours("-4", viewCfg))
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 30, ParseLimit("", viewCfg))
	assert.Equal(t, 10, ParseLimit("10", viewCfg))
	assert.Equal(t, 30, ParseLimit("x", viewCfg))
	assert.Equal(t, 1, ParseLimit("0", viewCfg))
	assert.Equal(t, 300, ParseLimit("1000", viewCfg))
}
