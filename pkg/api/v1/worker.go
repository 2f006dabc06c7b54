package v1

import "encoding/json"

// TrafficLight is the discrete safety classification gating trading activity.
type TrafficLight string

const (
	TrafficGreen        TrafficLight = "GREEN"
	TrafficYellow       TrafficLight = "YELLOW"
	TrafficRed          TrafficLight = "RED"
	TrafficDisconnected TrafficLight = "DISCONNECTED"
)

// PollErrors carries the per-call error strings from one poll cycle.
// A field is empty when the corresponding call succeeded.
type PollErrors struct {
	Health string `json:"health,omitempty"`
	State  string `json:"state,omitempty"`
	Orders string `json:"orders,omitempty"`
	Poll   string `json:"poll,omitempty"`
}

// WorkerSnapshot is the result of one poll cycle against the worker backend.
// Health, State and Orders are opaque backend payloads; only the few fields
// the classifier needs are ever interpreted.
type WorkerSnapshot struct {
	TS           int64           `json:"ts"`
	Connected    bool            `json:"connected"`
	Health       json.RawMessage `json:"health"`
	State        json.RawMessage `json:"state"`
	Orders       json.RawMessage `json:"orders"`
	Errors       PollErrors      `json:"errors"`
	TrafficLight TrafficLight    `json:"trafficLight"`
	StopAll      bool            `json:"stopAll"`
	Banner       string          `json:"banner"`
}

// Clone returns a copy safe to hand to another goroutine. The raw payloads
// are immutable after a poll, so sharing the slices is fine.
func (s *WorkerSnapshot) Clone() *WorkerSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ControlResult is the response to a forwarded operator control command.
type ControlResult struct {
	OK     bool            `json:"ok"`
	Action string          `json:"action"`
	Result json.RawMessage `json:"result"`
	Worker *WorkerSnapshot `json:"worker"`
}
