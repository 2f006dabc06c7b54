package v1

import "encoding/json"

// UsageSnapshot is one append-only row in the token snapshot log. PerAgent
// holds absolute counter values, not deltas.
type UsageSnapshot struct {
	TS       int64            `json:"ts"`
	ISO      string           `json:"iso"`
	TaskID   string           `json:"task_id"`
	PerAgent map[string]int64 `json:"per_agent"`
	Total    int64            `json:"total"`
}

// UsageWindow is the summed usage over one reporting window.
type UsageWindow struct {
	Total    int64            `json:"total"`
	PerAgent map[string]int64 `json:"perAgent"`
}

// UsageSummary is the derived usage report served in the overview document.
type UsageSummary struct {
	Daily         UsageWindow      `json:"daily"`
	Weekly        UsageWindow      `json:"weekly"`
	ByTask        map[string]int64 `json:"byTask"`
	Warning       string           `json:"warning"`
	SnapshotCount int              `json:"snapshotCount"`
	DeltaCount    int              `json:"deltaCount"`
}

// Activity event work kinds.
const (
	WorkSessionUpdate = "session_update"
	WorkTaskStatus    = "task_status"
)

// ActivityEvent is one row of the durable activity timeline log.
type ActivityEvent struct {
	TS      int64  `json:"ts"`
	Time    string `json:"time"`
	Agent   string `json:"agent"`
	Work    string `json:"work"`
	Project string `json:"project"`
	Detail  string `json:"detail"`
	Count   int    `json:"count,omitempty"`
}

// TimelineMeta describes how a timeline view was built.
type TimelineMeta struct {
	Limit              int    `json:"limit"`
	Hours              string `json:"hours"`
	TotalAfterCompress int    `json:"totalAfterCompress"`
	TotalAfterWindow   int    `json:"totalAfterWindow"`
	Cap                int    `json:"cap"`
}

// TaskSignal is one parsed row of the task table.
type TaskSignal struct {
	TaskID      string `json:"taskId"`
	Status      string `json:"status"`
	Owner       string `json:"owner"`
	Description string `json:"description"`
	Ownership   string `json:"ownership"`
}

// AgentWork records the in-progress task attributed to one agent role.
type AgentWork struct {
	TaskID      string `json:"taskId"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// TaskSignals is the aggregate view over the task table.
type TaskSignals struct {
	InProgressWorkers []string             `json:"inProgressWorkers"`
	Tasks             []TaskSignal         `json:"tasks"`
	AgentWork         map[string]AgentWork `json:"agentWork"`
}

// ExchangeIndicator reports the connection state of one exchange.
type ExchangeIndicator struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// ExchangeToggles is the operator's per-exchange enable switch, persisted
// wholesale to a small JSON file.
type ExchangeToggles struct {
	Upbit   bool `json:"upbit"`
	Bithumb bool `json:"bithumb"`
}

// OverviewDocument is the composed artifact served to the dashboard. It is
// rebuilt as a whole each cycle and never mutated by readers.
type OverviewDocument struct {
	Now                string                       `json:"now"`
	SourceOK           bool                         `json:"sourceOk"`
	Worker             *WorkerSnapshot              `json:"worker"`
	Agents             json.RawMessage              `json:"agents"`
	StatePoint         json.RawMessage              `json:"statePoint"`
	RuntimeStatus      json.RawMessage              `json:"runtimeStatus"`
	RuntimeState       json.RawMessage              `json:"runtimeState"`
	WatchingSymbols    []string                     `json:"watchingSymbols"`
	ExchangeIndicators map[string]ExchangeIndicator `json:"exchangeIndicators"`
	ExchangeToggles    ExchangeToggles              `json:"exchangeToggles"`
	MarketNote         string                       `json:"marketNote"`
	Usage              UsageSummary                 `json:"usage"`
	TaskSignals        TaskSignals                  `json:"taskSignals"`
	Timeline           []ActivityEvent              `json:"timeline"`
	TimelineMeta       TimelineMeta                 `json:"timelineMeta"`
}

// Clone returns a shallow copy; the slices and maps inside are treated as
// immutable once the document is published.
func (d *OverviewDocument) Clone() *OverviewDocument {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
