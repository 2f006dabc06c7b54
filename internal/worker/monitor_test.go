package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tradewatch/tradewatch/internal/common/config"
	"github.com/tradewatch/tradewatch/internal/common/logger"
	"github.com/tradewatch/tradewatch/internal/events/bus"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// fakePoller returns canned snapshots in sequence, repeating the last one.
type fakePoller struct {
	snaps []*v1.WorkerSnapshot
	calls int
}

func (f *fakePoller) PollOnce(_ context.Context) *v1.WorkerSnapshot {
	i := f.calls
	if i >= len(f.snaps) {
		i = len(f.snaps) - 1
	}
	f.calls++
	return f.snaps[i].Clone()
}

func upSnapshot(ts int64) *v1.WorkerSnapshot {
	return &v1.WorkerSnapshot{
		TS:           ts,
		Connected:    true,
		TrafficLight: v1.TrafficGreen,
	}
}

func downSnapshot(ts int64) *v1.WorkerSnapshot {
	return &v1.WorkerSnapshot{
		TS:           ts,
		Connected:    false,
		Errors:       v1.PollErrors{Health: "connection refused"},
		TrafficLight: v1.TrafficDisconnected,
		StopAll:      true,
		Banner:       BannerText(v1.TrafficDisconnected),
	}
}

func newTestMonitor(t *testing.T, poller Poller) (*Monitor, *time.Time) {
	t.Helper()
	cfg := config.WorkerConfig{
		BaseURL:        "http://127.0.0.1:0",
		TimeoutMs:      100,
		PollMs:         50,
		DownDebounceMs: 4000,
		KickTimeoutMs:  120,
	}
	m := NewMonitor(poller, bus.NewMemoryEventBus(logger.Default()), cfg, logger.Default())
	now := time.Now()
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMonitorInitialStateIsDisconnected(t *testing.T) {
	m, _ := newTestMonitor(t, &fakePoller{snaps: []*v1.WorkerSnapshot{upSnapshot(1)}})
	snap := m.Snapshot()
	if snap.TrafficLight != v1.TrafficDisconnected {
		t.Fatalf("initial light = %s, want DISCONNECTED", snap.TrafficLight)
	}
	if !snap.StopAll {
		t.Error("initial snapshot must demand stop-all")
	}
	if snap.Errors.Health != "not_started" {
		t.Errorf("initial health error = %q, want not_started", snap.Errors.Health)
	}
}

func TestMonitorDebounceHoldsStableSnapshot(t *testing.T) {
	poller := &fakePoller{snaps: []*v1.WorkerSnapshot{
		upSnapshot(1000),
		downSnapshot(2000),
	}}
	m, now := newTestMonitor(t, poller)
	ctx := context.Background()

	got := m.Tick(ctx)
	if got.TrafficLight != v1.TrafficGreen {
		t.Fatalf("after healthy tick light = %s, want GREEN", got.TrafficLight)
	}

	// First failed poll lands inside the debounce window: the stable GREEN
	// view is held, with the raw poll's timestamp and a debounce note.
	*now = now.Add(1 * time.Second)
	got = m.Tick(ctx)
	if got.TrafficLight != v1.TrafficGreen {
		t.Fatalf("debounced light = %s, want GREEN", got.TrafficLight)
	}
	if got.TS != 2000 {
		t.Errorf("debounced snapshot ts = %d, want the raw poll's 2000", got.TS)
	}
	if !strings.HasPrefix(got.Errors.Poll, "debouncing_worker_down:") {
		t.Errorf("poll error = %q, want debounce note", got.Errors.Poll)
	}

	// Beyond the window the disconnected result commits.
	*now = now.Add(5 * time.Second)
	got = m.Tick(ctx)
	if got.TrafficLight != v1.TrafficDisconnected {
		t.Fatalf("post-window light = %s, want DISCONNECTED", got.TrafficLight)
	}
	if !got.StopAll {
		t.Error("disconnected snapshot must demand stop-all")
	}
}

func TestMonitorRecoveryClearsDebounce(t *testing.T) {
	poller := &fakePoller{snaps: []*v1.WorkerSnapshot{
		upSnapshot(1000),
		downSnapshot(2000),
		upSnapshot(3000),
		downSnapshot(4000),
	}}
	m, now := newTestMonitor(t, poller)
	ctx := context.Background()

	m.Tick(ctx)
	*now = now.Add(1 * time.Second)
	m.Tick(ctx)

	// Recovery commits immediately, no debounce on the way up.
	*now = now.Add(1 * time.Second)
	got := m.Tick(ctx)
	if got.TrafficLight != v1.TrafficGreen {
		t.Fatalf("recovered light = %s, want GREEN", got.TrafficLight)
	}
	if got.Errors.Poll != "" {
		t.Errorf("recovered snapshot carries poll note %q", got.Errors.Poll)
	}

	// A later outage starts a fresh window instead of inheriting the old one.
	*now = now.Add(10 * time.Second)
	got = m.Tick(ctx)
	if got.TrafficLight != v1.TrafficGreen {
		t.Fatalf("fresh outage should debounce again, got %s", got.TrafficLight)
	}
}

func TestMonitorStableSnapshotRefreshesNote(t *testing.T) {
	poller := &fakePoller{snaps: []*v1.WorkerSnapshot{
		upSnapshot(1000),
		downSnapshot(2000),
	}}
	m, now := newTestMonitor(t, poller)
	ctx := context.Background()

	m.Tick(ctx)
	*now = now.Add(1 * time.Second)
	m.Tick(ctx)

	*now = now.Add(2 * time.Second)
	snap := m.StableSnapshot()
	if snap.TrafficLight != v1.TrafficGreen {
		t.Fatalf("stable snapshot light = %s, want held GREEN", snap.TrafficLight)
	}
	if snap.Errors.Poll != "debouncing_worker_down:3000ms" {
		t.Errorf("stable snapshot note = %q, want refreshed 3000ms", snap.Errors.Poll)
	}
	if snap.TS != now.UnixMilli() {
		t.Errorf("stable snapshot ts = %d, want refreshed %d", snap.TS, now.UnixMilli())
	}
}

func TestMonitorPublishesTransitions(t *testing.T) {
	poller := &fakePoller{snaps: []*v1.WorkerSnapshot{upSnapshot(1000)}}
	m, _ := newTestMonitor(t, poller)

	events := make(chan *bus.Event, 4)
	sub, err := m.eventBus.Subscribe(bus.SubjectSafetyChanged, func(_ context.Context, e *bus.Event) error {
		events <- e
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	m.Tick(context.Background())

	select {
	case e := <-events:
		if e.Data["to"] != "GREEN" {
			t.Errorf("event to = %v, want GREEN", e.Data["to"])
		}
		if e.Data["from"] != "DISCONNECTED" {
			t.Errorf("event from = %v, want DISCONNECTED", e.Data["from"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no safety event published for a light transition")
	}
}

func TestMonitorKickReturnsWithinTimeout(t *testing.T) {
	slow := &slowPoller{delay: 500 * time.Millisecond}
	m, _ := newTestMonitor(t, slow)

	start := time.Now()
	snap := m.Kick(context.Background(), 50*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("kick blocked %v, want bounded by ~50ms timeout", elapsed)
	}
	if snap.TrafficLight != v1.TrafficDisconnected {
		t.Errorf("kick should fall back to the last known snapshot, got %s", snap.TrafficLight)
	}
}

type slowPoller struct {
	delay time.Duration
}

func (s *slowPoller) PollOnce(_ context.Context) *v1.WorkerSnapshot {
	time.Sleep(s.delay)
	return upSnapshot(time.Now().UnixMilli())
}
