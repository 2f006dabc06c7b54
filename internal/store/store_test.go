package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tradewatch/tradewatch/internal/common/logger"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), logger.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUsageLogRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := v1.UsageSnapshot{
		TS:       1700000000000,
		ISO:      "2023-11-14T22:13:20Z",
		TaskID:   "TASK-7",
		PerAgent: map[string]int64{"coder_a": 1200},
		Total:    1200,
	}
	if err := s.AppendUsageSnapshot(want); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendUsageSnapshot(v1.UsageSnapshot{TS: 1700000001000, Total: 50}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got := s.ReadUsageSnapshots()
	if len(got) != 2 {
		t.Fatalf("read %d snapshots, want 2", len(got))
	}
	if got[0].TaskID != "TASK-7" || got[0].PerAgent["coder_a"] != 1200 {
		t.Errorf("first snapshot = %+v", got[0])
	}
}

func TestCorruptLinesAreSkipped(t *testing.T) {
	s := newTestStore(t)

	if err := s.AppendUsageSnapshot(v1.UsageSnapshot{TS: 1, Total: 10}); err != nil {
		t.Fatal(err)
	}
	// Simulate a torn write between two good rows.
	f, err := os.OpenFile(filepath.Join(s.dir, usageLogFile), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{\"ts\": 17000\n")
	f.WriteString("not json at all\n")
	f.Close()
	if err := s.AppendUsageSnapshot(v1.UsageSnapshot{TS: 2, Total: 20}); err != nil {
		t.Fatal(err)
	}

	got := s.ReadUsageSnapshots()
	if len(got) != 2 {
		t.Fatalf("read %d snapshots, want 2 good rows around the corruption", len(got))
	}
	if got[0].TS != 1 || got[1].TS != 2 {
		t.Errorf("rows = %+v", got)
	}
}

func TestActivityLogLimit(t *testing.T) {
	s := newTestStore(t)

	events := make([]v1.ActivityEvent, 5)
	for i := range events {
		events[i] = v1.ActivityEvent{TS: int64(i + 1), Agent: "pm", Work: v1.WorkSessionUpdate}
	}
	if err := s.AppendActivityEvents(events); err != nil {
		t.Fatal(err)
	}

	got := s.ReadActivityLog(2)
	if len(got) != 2 {
		t.Fatalf("read %d events, want 2", len(got))
	}
	if got[0].TS != 4 || got[1].TS != 5 {
		t.Errorf("limit must keep the most recent rows, got %+v", got)
	}
	if all := s.ReadActivityLog(0); len(all) != 5 {
		t.Errorf("limit 0 should read the whole log, got %d", len(all))
	}
}

func TestActivityStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if st := s.ReadActivityState(); len(st.Runs) != 0 || len(st.Tasks) != 0 {
		t.Fatalf("fresh state not empty: %+v", st)
	}

	state := NewActivityState()
	state.Runs["agent:coder_a:main"] = 1700000000000
	state.Tasks["TASK-1"] = TaskCursor{Status: "IN_PROGRESS", Owner: "coder_a", Description: "wire feed"}
	if err := s.WriteActivityState(state); err != nil {
		t.Fatal(err)
	}

	got := s.ReadActivityState()
	if got.Runs["agent:coder_a:main"] != 1700000000000 {
		t.Errorf("runs cursor lost: %+v", got.Runs)
	}
	if got.Tasks["TASK-1"].Status != "IN_PROGRESS" {
		t.Errorf("task cursor lost: %+v", got.Tasks)
	}
}

func TestTogglesDefaultEnabled(t *testing.T) {
	s := newTestStore(t)

	toggles := s.ReadToggles()
	if !toggles.Upbit || !toggles.Bithumb {
		t.Fatalf("missing file must default to enabled, got %+v", toggles)
	}

	if err := s.WriteToggles(v1.ExchangeToggles{Upbit: false, Bithumb: true}); err != nil {
		t.Fatal(err)
	}
	toggles = s.ReadToggles()
	if toggles.Upbit || !toggles.Bithumb {
		t.Errorf("toggles = %+v, want upbit off, bithumb on", toggles)
	}
}

func TestSettingsRejectInvalidJSON(t *testing.T) {
	s := newTestStore(t)

	if err := s.WriteSettings(json.RawMessage(`{"theme":"dark"}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteSettings(json.RawMessage(`{"theme":`)); err == nil {
		t.Fatal("invalid settings payload must be rejected")
	}

	var settings map[string]interface{}
	if err := json.Unmarshal(s.ReadSettings(), &settings); err != nil {
		t.Fatal(err)
	}
	if settings["theme"] != "dark" {
		t.Errorf("settings = %v, earlier document must survive the rejected write", settings)
	}
}

func TestOpenRefusesLockedDir(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir, logger.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	if _, err := Open(dir, logger.Default()); err == nil {
		t.Fatal("second open on a locked dir must fail")
	}
}
