// Package overview composes the cached dashboard document from the safety
// monitor, the collector and the durable logs.
package overview

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tradewatch/tradewatch/internal/common/jsonx"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// exchanges the dashboard renders indicators for.
var exchangeNames = []string{"upbit", "bithumb"}

// watchingSymbols unions the symbol watchlists of every telemetry source,
// deduplicated in first-seen order. Each drop file may carry a partial list.
func watchingSymbols(runtimeStatus, runtimeState, statePoint json.RawMessage, worker *v1.WorkerSnapshot) []string {
	var workerState map[string]interface{}
	if worker != nil {
		workerState = jsonx.Map(worker.State)
	} else {
		workerState = map[string]interface{}{}
	}
	probes := []struct {
		src  map[string]interface{}
		keys []string
	}{
		{jsonx.Map(runtimeStatus), []string{"watchlist", "symbols"}},
		{jsonx.Map(runtimeState), []string{"watchlist", "symbols"}},
		{jsonx.Map(statePoint), []string{"watchlist", "symbols", "runtime.watchlist", "runtime.symbols"}},
		{workerState, []string{"watchlist", "symbols"}},
	}
	seen := make(map[string]bool)
	out := []string{}
	for _, p := range probes {
		for _, sym := range jsonx.Strings(p.src, p.keys...) {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out
}

// exchangeIndicators derives per-exchange connection indicators from the
// active exchange the worker reports. Only the active exchange carries a live
// connection; the other one sits idle. A toggled off exchange is reported
// disabled no matter what the telemetry says.
func exchangeIndicators(runtimeStatus json.RawMessage, worker *v1.WorkerSnapshot, toggles v1.ExchangeToggles) map[string]v1.ExchangeIndicator {
	var workerState map[string]interface{}
	connected := false
	if worker != nil {
		workerState = jsonx.Map(worker.State)
		connected = worker.Connected
	} else {
		workerState = map[string]interface{}{}
	}
	active := strings.ToUpper(jsonx.String(jsonx.Map(runtimeStatus), "exchange"))
	if active == "" {
		active = strings.ToUpper(jsonx.String(workerState, "pending.exchange", "exchange"))
	}

	out := make(map[string]v1.ExchangeIndicator, len(exchangeNames))
	for _, name := range exchangeNames {
		if !toggleFor(toggles, name) {
			out[name] = v1.ExchangeIndicator{Status: "disabled", Detail: "switched off by operator"}
			continue
		}
		out[name] = indicatorFor(name, active, connected)
	}
	return out
}

func indicatorFor(name, active string, connected bool) v1.ExchangeIndicator {
	if active == "" {
		return v1.ExchangeIndicator{Status: "unknown", Detail: "exchange state unavailable"}
	}
	if strings.ToUpper(name) != active {
		return v1.ExchangeIndicator{Status: "idle", Detail: "active=" + active}
	}
	if connected {
		return v1.ExchangeIndicator{Status: "connected", Detail: "worker connected"}
	}
	return v1.ExchangeIndicator{Status: "disconnected", Detail: "worker disconnected"}
}

func toggleFor(toggles v1.ExchangeToggles, name string) bool {
	switch name {
	case "upbit":
		return toggles.Upbit
	case "bithumb":
		return toggles.Bithumb
	}
	return true
}

// marketNote renders the one-line market comment for paper trading. Risk
// level outranks volatility; without either signal the note falls back to a
// deferred verdict. Live modes render no note.
func marketNote(runtimeStatus, runtimeState, statePoint json.RawMessage, worker *v1.WorkerSnapshot) string {
	status := jsonx.Map(runtimeStatus)
	state := jsonx.Map(runtimeState)
	sp := jsonx.Map(statePoint)
	var workerState map[string]interface{}
	if worker != nil {
		workerState = jsonx.Map(worker.State)
	} else {
		workerState = map[string]interface{}{}
	}

	mode := strings.ToUpper(jsonx.String(status, "mode"))
	if mode == "" {
		mode = strings.ToUpper(jsonx.String(workerState, "pending.mode"))
	}
	if mode != "PAPER" {
		return ""
	}

	risk := ""
	for _, src := range []map[string]interface{}{state, sp, workerState} {
		if risk = strings.ToLower(jsonx.String(src, "riskLevel", "risk")); risk != "" {
			break
		}
	}
	if strings.Contains(risk, "red") || strings.Contains(risk, "critical") || strings.Contains(risk, "high") {
		return "market: risk caution (high-risk signal detected, reduce or hold positions)"
	}

	vol, haveVol := 0.0, false
	for _, probe := range []struct {
		src  map[string]interface{}
		keys []string
	}{
		{state, []string{"volatility"}},
		{status, []string{"volatility"}},
		{sp, []string{"volatility", "market.volatility"}},
	} {
		if v, ok := jsonx.Number(probe.src, probe.keys...); ok {
			vol, haveVol = v, true
			break
		}
	}
	if haveVol && vol >= 0.04 {
		return "market: volatility elevated (wide swings possible, enter with care)"
	}
	if haveVol && vol <= 0.01 {
		return "market: range-bound (weak momentum, be selective with signals)"
	}
	return "market: trend verdict deferred (limited data)"
}

// normalizeToggles parses an operator toggle update. Absent fields keep
// their current value; unknown fields are rejected so a typo cannot be
// silently ignored. A "mode" field rides along for the worker notification
// and is not a toggle.
func normalizeToggles(current v1.ExchangeToggles, body json.RawMessage) (v1.ExchangeToggles, error) {
	var patch map[string]interface{}
	if err := json.Unmarshal(body, &patch); err != nil {
		return current, fmt.Errorf("toggle payload must be a JSON object: %w", err)
	}
	next := current
	for key, value := range patch {
		var target *bool
		switch key {
		case "upbit", "upbitEnabled":
			target = &next.Upbit
		case "bithumb", "bithumbEnabled":
			target = &next.Bithumb
		case "mode":
			continue
		default:
			return current, fmt.Errorf("unknown exchange %q", key)
		}
		b, ok := value.(bool)
		if !ok {
			return current, fmt.Errorf("exchange %q must be a boolean", key)
		}
		*target = b
	}
	return next, nil
}
