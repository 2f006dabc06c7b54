package worker

import (
	"github.com/tradewatch/tradewatch/internal/common/jsonx"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// pendingQueueThreshold is the depth at which an order backlog degrades the
// light to YELLOW even when no errors are reported.
const pendingQueueThreshold = 20

// haltedRiskLevels are risk/riskLevel values that force RED regardless of
// any other field.
var haltedRiskLevels = map[string]bool{
	"red":      true,
	"halted":   true,
	"critical": true,
	"blocked":  true,
}

// Classify derives the traffic light from the raw payloads of one poll.
// Precedence is strict: DISCONNECTED, then RED, then YELLOW, then GREEN.
func Classify(snap *v1.WorkerSnapshot) v1.TrafficLight {
	if snap == nil || !snap.Connected {
		return v1.TrafficDisconnected
	}

	health := jsonx.Map(snap.Health)
	state := jsonx.Map(snap.State)
	orders := jsonx.Map(snap.Orders)

	if ok, present := jsonx.Bool(health, "ok"); present && !ok {
		return v1.TrafficRed
	}
	switch jsonx.String(health, "status") {
	case "down", "error":
		return v1.TrafficRed
	}
	if b, ok := jsonx.Bool(state, "emergencyStop"); ok && b {
		return v1.TrafficRed
	}
	if b, ok := jsonx.Bool(state, "killSwitch"); ok && b {
		return v1.TrafficRed
	}
	if b, ok := jsonx.Bool(state, "halt"); ok && b {
		return v1.TrafficRed
	}
	if jsonx.String(state, "engine", "mode") == "stopped" {
		return v1.TrafficRed
	}
	if haltedRiskLevels[jsonx.String(state, "risk", "riskLevel")] {
		return v1.TrafficRed
	}

	if n, ok := jsonx.Number(orders, "errorCount", "errors"); ok && n > 0 {
		return v1.TrafficYellow
	}
	if n, ok := jsonx.Number(orders, "pending", "queue"); ok && n >= pendingQueueThreshold {
		return v1.TrafficYellow
	}

	return v1.TrafficGreen
}

// ShouldStopAll reports whether the light demands that all trading activity
// be treated as halted on the dashboard.
func ShouldStopAll(light v1.TrafficLight) bool {
	return light == v1.TrafficRed || light == v1.TrafficDisconnected
}

// BannerText returns the operator banner for a light. Only halting states
// carry a banner; GREEN and YELLOW render none.
func BannerText(light v1.TrafficLight) string {
	switch light {
	case v1.TrafficRed:
		return "RED: worker reported a halting condition, all trading halted"
	case v1.TrafficDisconnected:
		return "DISCONNECTED: worker link down, all trading halted"
	default:
		return ""
	}
}
