// Package store owns the dashboard's durable files: append-only JSONL logs
// for usage snapshots and activity events, and small whole-file JSON state
// documents. All reads are fail-soft; a corrupt line or missing file yields
// an empty value, never an error the caller has to handle.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/tradewatch/tradewatch/internal/common/logger"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// File names under the storage directory.
const (
	usageLogFile      = "token_snapshots.jsonl"
	activityLogFile   = "activity_log.jsonl"
	activityStateFile = "activity_state.json"
	togglesFile       = "ui_exchange_toggles.json"
	settingsFile      = "ui_settings.json"
	lockFile          = ".tradewatch.lock"
)

// maxLineBytes bounds JSONL line scanning so one garbage line cannot
// exhaust memory.
const maxLineBytes = 1 << 20

// TaskCursor is the last observed status tuple for one task.
type TaskCursor struct {
	Status      string `json:"status"`
	Owner       string `json:"owner"`
	Description string `json:"description"`
}

// ActivityState is the timeline aggregator's persisted cursor document.
type ActivityState struct {
	Runs  map[string]int64      `json:"runs"`
	Tasks map[string]TaskCursor `json:"tasks"`
}

// NewActivityState returns an empty cursor document with allocated maps.
func NewActivityState() *ActivityState {
	return &ActivityState{
		Runs:  map[string]int64{},
		Tasks: map[string]TaskCursor{},
	}
}

// Store persists dashboard state under one directory. A file lock makes the
// directory single-writer across processes; a mutex serializes writers
// within this one.
type Store struct {
	dir    string
	lock   *flock.Flock
	logger *logger.Logger
	mu     sync.Mutex
}

// Open prepares the storage directory and takes the single-writer lock.
// It fails when another dashboard process already holds the directory.
func Open(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire storage lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("storage dir %s is locked by another process", dir)
	}
	return &Store{
		dir:    dir,
		lock:   lock,
		logger: log.WithComponent("store"),
	}, nil
}

// Close releases the single-writer lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// AppendUsageSnapshot appends one row to the token snapshot log.
func (s *Store) AppendUsageSnapshot(snap v1.UsageSnapshot) error {
	return s.appendLine(usageLogFile, snap)
}

// ReadUsageSnapshots loads the full token snapshot log. Corrupt lines and
// rows without a timestamp are skipped.
func (s *Store) ReadUsageSnapshots() []v1.UsageSnapshot {
	var out []v1.UsageSnapshot
	s.scanLines(usageLogFile, func(line []byte) {
		var snap v1.UsageSnapshot
		if err := json.Unmarshal(line, &snap); err != nil || snap.TS <= 0 {
			return
		}
		out = append(out, snap)
	})
	return out
}

// AppendActivityEvents appends events to the activity log in order. It stops
// at the first write error so the log never holds a later event without an
// earlier one from the same batch.
func (s *Store) AppendActivityEvents(events []v1.ActivityEvent) error {
	for _, e := range events {
		if err := s.appendLine(activityLogFile, e); err != nil {
			return err
		}
	}
	return nil
}

// ReadActivityLog loads up to limit most recent events, oldest first.
// A limit of zero or less loads the whole log.
func (s *Store) ReadActivityLog(limit int) []v1.ActivityEvent {
	var out []v1.ActivityEvent
	s.scanLines(activityLogFile, func(line []byte) {
		var e v1.ActivityEvent
		if err := json.Unmarshal(line, &e); err != nil || e.TS <= 0 {
			return
		}
		out = append(out, e)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ReadActivityState loads the timeline cursor document. Any failure yields
// an empty state, which only means already-logged events may be re-derived.
func (s *Store) ReadActivityState() *ActivityState {
	state := NewActivityState()
	if err := s.readJSON(activityStateFile, state); err != nil {
		return NewActivityState()
	}
	if state.Runs == nil {
		state.Runs = map[string]int64{}
	}
	if state.Tasks == nil {
		state.Tasks = map[string]TaskCursor{}
	}
	return state
}

// WriteActivityState persists the timeline cursor document.
func (s *Store) WriteActivityState(state *ActivityState) error {
	return s.writeJSON(activityStateFile, state)
}

// ReadToggles loads the exchange toggles. Missing file or fields default to
// enabled; an exchange is only off when the operator switched it off.
func (s *Store) ReadToggles() v1.ExchangeToggles {
	raw := map[string]bool{}
	if err := s.readJSON(togglesFile, &raw); err != nil {
		return v1.ExchangeToggles{Upbit: true, Bithumb: true}
	}
	toggles := v1.ExchangeToggles{Upbit: true, Bithumb: true}
	if v, ok := raw["upbit"]; ok {
		toggles.Upbit = v
	}
	if v, ok := raw["bithumb"]; ok {
		toggles.Bithumb = v
	}
	return toggles
}

// WriteToggles persists the exchange toggles wholesale.
func (s *Store) WriteToggles(toggles v1.ExchangeToggles) error {
	return s.writeJSON(togglesFile, toggles)
}

// ReadSettings loads the opaque UI settings document. The dashboard never
// interprets it; an empty object stands in for a missing or corrupt file.
func (s *Store) ReadSettings() json.RawMessage {
	data, err := os.ReadFile(filepath.Join(s.dir, settingsFile))
	if err != nil || !json.Valid(data) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(data)
}

// WriteSettings replaces the UI settings document.
func (s *Store) WriteSettings(settings json.RawMessage) error {
	if !json.Valid(settings) {
		return fmt.Errorf("settings payload is not valid JSON")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(filepath.Join(s.dir, settingsFile), settings, 0o644)
}

func (s *Store) appendLine(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (s *Store) scanLines(name string, handle func(line []byte)) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	skipped := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		handle(line)
	}
	if skipped > 0 {
		s.logger.Warn("skipped corrupt log lines",
			zap.String("file", name), zap.Int("lines", skipped))
	}
}

func (s *Store) readJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, name))
}
