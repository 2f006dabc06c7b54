package overview

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tradewatch/tradewatch/internal/collector"
	"github.com/tradewatch/tradewatch/internal/common/config"
	"github.com/tradewatch/tradewatch/internal/common/jsonx"
	"github.com/tradewatch/tradewatch/internal/common/logger"
	"github.com/tradewatch/tradewatch/internal/events/bus"
	"github.com/tradewatch/tradewatch/internal/store"
	"github.com/tradewatch/tradewatch/internal/timeline"
	"github.com/tradewatch/tradewatch/internal/usage"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// Telemetry is the slice of the collector the scheduler consumes.
type Telemetry interface {
	RunStatus(ctx context.Context) (json.RawMessage, error)
	RunAgents(ctx context.Context) (json.RawMessage, error)
	ReadStatePoint() json.RawMessage
	ReadRuntimeStatus() json.RawMessage
	ReadRuntimeState() json.RawMessage
	ReadTaskSignals() v1.TaskSignals
}

// SafetySource provides the worker snapshot embedded in the document.
type SafetySource interface {
	StableSnapshot() *v1.WorkerSnapshot
}

// ControlClient forwards operator commands to the worker.
type ControlClient interface {
	Control(ctx context.Context, action string, body json.RawMessage) (json.RawMessage, error)
}

// Scheduler rebuilds the overview document on a fixed period. Rebuilds are
// single-flight: a cycle that is still running makes the next trigger a
// no-op instead of queueing behind it.
type Scheduler struct {
	telemetry   Telemetry
	monitor     SafetySource
	control     ControlClient
	store       *store.Store
	aggregator  *timeline.Aggregator
	eventBus    bus.EventBus
	logger      *logger.Logger
	refresh     time.Duration
	usageCfg    config.UsageConfig
	timelineCfg config.TimelineConfig

	inFlight atomic.Bool
	doc      atomic.Pointer[v1.OverviewDocument]

	// togglesMu serializes operator toggle updates, which read-modify-write
	// the persisted document.
	togglesMu sync.Mutex

	now func() time.Time
}

// NewScheduler wires the scheduler. Call Start to begin the rebuild loop.
func NewScheduler(
	telemetry Telemetry,
	monitor SafetySource,
	control ControlClient,
	st *store.Store,
	aggregator *timeline.Aggregator,
	eventBus bus.EventBus,
	cfg *config.Config,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		telemetry:   telemetry,
		monitor:     monitor,
		control:     control,
		store:       st,
		aggregator:  aggregator,
		eventBus:    eventBus,
		logger:      log.WithComponent("overview-scheduler"),
		refresh:     cfg.Overview.RefreshPeriod(),
		usageCfg:    cfg.Usage,
		timelineCfg: cfg.Timeline,
		now:         time.Now,
	}
}

// Start runs the rebuild loop until ctx is cancelled. The first rebuild
// fires immediately so the API never serves an empty cache for long.
func (s *Scheduler) Start(ctx context.Context) {
	s.Rebuild(ctx)
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("overview scheduler stopped")
			return
		case <-ticker.C:
			s.Rebuild(ctx)
		}
	}
}

// Rebuild runs one full cache rebuild. It reports false when another rebuild
// was already in flight and this trigger was skipped.
func (s *Scheduler) Rebuild(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("rebuild already in flight, trigger skipped")
		return false
	}
	defer s.inFlight.Store(false)

	now := s.now()
	var (
		wg            sync.WaitGroup
		status        json.RawMessage
		statusErr     error
		agents        json.RawMessage
		statePoint    json.RawMessage
		runtimeStatus json.RawMessage
		runtimeState  json.RawMessage
		taskSignals   v1.TaskSignals
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		status, statusErr = s.telemetry.RunStatus(ctx)
		if statusErr != nil {
			s.logger.WithError(statusErr).Debug("status command failed")
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		if agents, err = s.telemetry.RunAgents(ctx); err != nil {
			s.logger.WithError(err).Debug("agents command failed")
		}
	}()
	go func() {
		defer wg.Done()
		statePoint = s.telemetry.ReadStatePoint()
		runtimeStatus = s.telemetry.ReadRuntimeStatus()
		runtimeState = s.telemetry.ReadRuntimeState()
	}()
	go func() {
		defer wg.Done()
		taskSignals = s.telemetry.ReadTaskSignals()
	}()
	wg.Wait()

	if ctx.Err() != nil {
		s.refreshStale(now)
		return true
	}

	sourceOK := statusErr == nil
	sessions := collector.Sessions(status)
	if sourceOK {
		snap := collector.TokenSnapshot(status, statePoint, now)
		if err := s.store.AppendUsageSnapshot(snap); err != nil {
			s.logger.WithError(err).Warn("failed to append usage snapshot")
		}
	}
	s.aggregator.Record(sessions, taskSignals)

	workerSnap := s.monitor.StableSnapshot()
	toggles := s.store.ReadToggles()

	doc := &v1.OverviewDocument{
		Now:                now.UTC().Format(time.RFC3339),
		SourceOK:           sourceOK,
		Worker:             workerSnap,
		Agents:             agents,
		StatePoint:         statePoint,
		RuntimeStatus:      runtimeStatus,
		RuntimeState:       runtimeState,
		WatchingSymbols:    watchingSymbols(runtimeStatus, runtimeState, statePoint, workerSnap),
		ExchangeIndicators: exchangeIndicators(runtimeStatus, workerSnap, toggles),
		ExchangeToggles:    toggles,
		MarketNote:         marketNote(runtimeStatus, runtimeState, statePoint, workerSnap),
		Usage:              usage.Summarize(s.store.ReadUsageSnapshots(), now, s.usageCfg),
		TaskSignals:        taskSignals,
		// Timeline carries the uncut event base; views are rendered per
		// request in Document.
		Timeline: s.aggregator.Log(s.timelineCfg.MaxCap),
	}
	s.doc.Store(doc)

	event := bus.NewEvent(bus.SubjectOverviewRebuilt, "overview-scheduler", map[string]interface{}{
		"sourceOk":     sourceOK,
		"trafficLight": string(workerSnap.TrafficLight),
		"ts":           now.UnixMilli(),
	})
	if err := s.eventBus.Publish(ctx, bus.SubjectOverviewRebuilt, event); err != nil {
		s.logger.WithError(err).Warn("failed to publish rebuild event")
	}
	return true
}

// refreshStale keeps the previous document but restamps its clock and worker
// view, so an aborted rebuild never publishes a half-built cache.
func (s *Scheduler) refreshStale(now time.Time) {
	prev := s.doc.Load()
	if prev == nil {
		return
	}
	next := prev.Clone()
	next.Now = now.UTC().Format(time.RFC3339)
	next.Worker = s.monitor.StableSnapshot()
	s.doc.Store(next)
}

// Document renders the cached overview with a per-request timeline view and
// a fresh worker snapshot. Everything derived from the worker snapshot is
// recomputed against the fresh one, so the served document never pairs a
// dead worker with indicators from a live one. It never blocks on a rebuild.
func (s *Scheduler) Document(hours, limit int) *v1.OverviewDocument {
	now := s.now()
	cached := s.doc.Load()

	var doc *v1.OverviewDocument
	if cached == nil {
		doc = &v1.OverviewDocument{
			ExchangeToggles: s.store.ReadToggles(),
			TaskSignals: v1.TaskSignals{
				InProgressWorkers: []string{},
				Tasks:             []v1.TaskSignal{},
				AgentWork:         map[string]v1.AgentWork{},
			},
		}
	} else {
		doc = cached.Clone()
	}
	doc.Now = now.UTC().Format(time.RFC3339)
	doc.Worker = s.monitor.StableSnapshot()
	doc.WatchingSymbols = watchingSymbols(doc.RuntimeStatus, doc.RuntimeState, doc.StatePoint, doc.Worker)
	doc.ExchangeIndicators = exchangeIndicators(doc.RuntimeStatus, doc.Worker, doc.ExchangeToggles)
	doc.MarketNote = marketNote(doc.RuntimeStatus, doc.RuntimeState, doc.StatePoint, doc.Worker)
	doc.Timeline, doc.TimelineMeta = timeline.BuildView(doc.Timeline, hours, limit, now, s.timelineCfg)
	return doc
}

// ToggleResult reports one applied exchange toggle update.
type ToggleResult struct {
	Applied      v1.ExchangeToggles `json:"applied"`
	BackendRoute string             `json:"backendRoute"`
	Result       json.RawMessage    `json:"result"`
}

// ApplyToggles patches the operator's exchange switches, persists them and
// forwards the change to the worker. The mode route gets the full
// mode+exchanges payload; the fallback exchanges route gets the bare toggle
// map. The worker is told best-effort: the toggle file is the source of
// truth and a dead worker learns the state from it on reconnect.
func (s *Scheduler) ApplyToggles(ctx context.Context, body json.RawMessage) (ToggleResult, error) {
	s.togglesMu.Lock()
	defer s.togglesMu.Unlock()

	current := s.store.ReadToggles()
	next, err := normalizeToggles(current, body)
	if err != nil {
		return ToggleResult{Applied: current}, err
	}
	if next != current {
		if err := s.store.WriteToggles(next); err != nil {
			return ToggleResult{Applied: current}, err
		}
	}

	mode := strings.ToUpper(jsonx.String(jsonx.Map(body), "mode"))
	if mode == "" {
		if doc := s.doc.Load(); doc != nil {
			mode = strings.ToUpper(jsonx.String(jsonx.Map(doc.RuntimeStatus), "mode"))
		}
	}
	if mode == "" {
		mode = "PAPER"
	}

	exchanges := map[string]bool{"upbit": next.Upbit, "bithumb": next.Bithumb}
	modePayload, _ := json.Marshal(map[string]interface{}{"mode": mode, "exchanges": exchanges})
	exchangesPayload, _ := json.Marshal(exchanges)

	out := ToggleResult{Applied: next}
	notifications := []struct {
		action  string
		payload json.RawMessage
	}{
		{"mode", modePayload},
		{"exchanges", exchangesPayload},
	}
	for _, n := range notifications {
		result, err := s.control.Control(ctx, n.action, n.payload)
		if err != nil {
			s.logger.WithError(err).Debug("toggle notification failed", zap.String("action", n.action))
			continue
		}
		out.BackendRoute = "control/" + n.action
		out.Result = result
		break
	}

	s.logger.Info("exchange toggles applied",
		zap.Bool("upbit", next.Upbit),
		zap.Bool("bithumb", next.Bithumb),
		zap.String("backendRoute", out.BackendRoute))
	go s.Rebuild(context.WithoutCancel(ctx))
	return out, nil
}
