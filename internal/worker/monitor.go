package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradewatch/tradewatch/internal/common/config"
	"github.com/tradewatch/tradewatch/internal/common/logger"
	"github.com/tradewatch/tradewatch/internal/events/bus"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// Poller abstracts the worker client so the monitor can be driven by a fake
// in tests.
type Poller interface {
	PollOnce(ctx context.Context) *v1.WorkerSnapshot
}

// Monitor polls the worker on a fixed period and maintains the published
// safety snapshot. A down worker is debounced: for a configurable window the
// monitor keeps serving the last stable snapshot so a single dropped poll
// does not flip the dashboard to DISCONNECTED.
type Monitor struct {
	poller   Poller
	eventBus bus.EventBus
	logger   *logger.Logger

	pollPeriod   time.Duration
	downDebounce time.Duration
	kickTimeout  time.Duration

	// now is swappable for debounce tests.
	now func() time.Time

	// tickMu serializes poll cycles so a kick cannot interleave with the
	// periodic tick.
	tickMu sync.Mutex

	mu        sync.RWMutex
	last      *v1.WorkerSnapshot // most recent published snapshot
	stable    *v1.WorkerSnapshot // last snapshot from a connected poll
	downSince time.Time          // zero when the worker is considered up

	kickCh chan struct{}
}

// NewMonitor creates a monitor. It does not start polling; call Start.
func NewMonitor(poller Poller, eventBus bus.EventBus, cfg config.WorkerConfig, log *logger.Logger) *Monitor {
	initial := &v1.WorkerSnapshot{
		TS:        time.Now().UnixMilli(),
		Connected: false,
		Errors: v1.PollErrors{
			Health: "not_started",
			State:  "not_started",
			Orders: "not_started",
		},
		TrafficLight: v1.TrafficDisconnected,
		StopAll:      true,
		Banner:       BannerText(v1.TrafficDisconnected),
	}
	return &Monitor{
		poller:       poller,
		eventBus:     eventBus,
		logger:       log.WithComponent("safety-monitor"),
		pollPeriod:   cfg.PollPeriod(),
		downDebounce: cfg.DownDebounce(),
		kickTimeout:  cfg.KickTimeout(),
		now:          time.Now,
		last:         initial,
		kickCh:       make(chan struct{}, 1),
	}
}

// Start runs the poll loop until ctx is cancelled. The first tick fires
// immediately.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pollPeriod)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("safety monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		case <-m.kickCh:
			m.Tick(ctx)
		}
	}
}

// Tick performs one poll cycle and commits the debounced result. Concurrent
// calls serialize; each caller returns after its own cycle committed.
func (m *Monitor) Tick(ctx context.Context) *v1.WorkerSnapshot {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	raw := m.poller.PollOnce(ctx)
	return m.commit(ctx, raw)
}

// Kick requests an out-of-band refresh and waits for it up to the given
// timeout (the configured kick timeout when zero). It always returns the
// current stable snapshot, fresher if the cycle finished in time.
func (m *Monitor) Kick(ctx context.Context, timeout time.Duration) *v1.WorkerSnapshot {
	if timeout <= 0 {
		timeout = m.kickTimeout
	}
	done := make(chan struct{})
	// The refresh outlives the caller; its own poll timeout bounds it.
	tickCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		m.Tick(tickCtx)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	case <-ctx.Done():
	}
	return m.StableSnapshot()
}

// Snapshot returns the last committed snapshot.
func (m *Monitor) Snapshot() *v1.WorkerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last.Clone()
}

// StableSnapshot returns the debounce-adjusted snapshot with its timestamp
// and debounce note refreshed to the current instant. While a down worker is
// inside the debounce window this is the held stable view, not the raw
// disconnected poll.
func (m *Monitor) StableSnapshot() *v1.WorkerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	if !m.downSince.IsZero() {
		elapsed := now.Sub(m.downSince)
		if elapsed < m.downDebounce {
			base := m.stable
			if base == nil {
				base = m.last
			}
			held := base.Clone()
			held.TS = now.UnixMilli()
			held.Errors.Poll = debounceNote(elapsed)
			return held
		}
	}
	return m.last.Clone()
}

// commit applies the debounce state machine to a raw poll result, stores the
// outcome and publishes a safety event when the light changed.
func (m *Monitor) commit(ctx context.Context, raw *v1.WorkerSnapshot) *v1.WorkerSnapshot {
	m.mu.Lock()
	prevLight := m.last.TrafficLight
	now := m.now()

	var published *v1.WorkerSnapshot
	if raw.Connected {
		m.downSince = time.Time{}
		m.stable = raw.Clone()
		published = raw
	} else {
		if m.downSince.IsZero() {
			m.downSince = now
		}
		elapsed := now.Sub(m.downSince)
		if elapsed < m.downDebounce && m.stable != nil {
			// Hold the previous stable view until the window elapses.
			published = m.stable.Clone()
			published.TS = raw.TS
			published.Errors.Poll = debounceNote(elapsed)
		} else {
			published = raw
		}
	}
	m.last = published
	newLight := published.TrafficLight
	m.mu.Unlock()

	if newLight != prevLight {
		m.logger.Info("traffic light changed",
			zap.String("from", string(prevLight)),
			zap.String("to", string(newLight)),
			zap.Bool("stop_all", published.StopAll))
		event := bus.NewEvent(bus.SubjectSafetyChanged, "safety-monitor", map[string]interface{}{
			"from":    string(prevLight),
			"to":      string(newLight),
			"stopAll": published.StopAll,
			"banner":  published.Banner,
			"ts":      published.TS,
		})
		if err := m.eventBus.Publish(ctx, bus.SubjectSafetyChanged, event); err != nil {
			m.logger.WithError(err).Warn("failed to publish safety event")
		}
	}
	return published.Clone()
}

func debounceNote(elapsed time.Duration) string {
	return fmt.Sprintf("debouncing_worker_down:%dms", elapsed.Milliseconds())
}
