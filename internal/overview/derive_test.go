package overview

import (
	"encoding/json"
	"strings"
	"testing"

	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

func TestWatchingSymbolsUnion(t *testing.T) {
	runtimeStatus := json.RawMessage(`{"watchlist":["KRW-BTC","KRW-ETH"]}`)
	runtimeState := json.RawMessage(`{"watchlist":["KRW-XRP","KRW-BTC"]}`)
	worker := &v1.WorkerSnapshot{Connected: true, State: json.RawMessage(`{"symbols":["KRW-SOL"," "]}`)}

	got := watchingSymbols(runtimeStatus, runtimeState, nil, worker)
	want := []string{"KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL"}
	if len(got) != len(want) {
		t.Fatalf("symbols = %v, want deduplicated union %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("symbols = %v, want first-seen order %v", got, want)
		}
	}

	statePoint := json.RawMessage(`{"runtime":{"watchlist":["KRW-DOGE"]}}`)
	got = watchingSymbols(nil, nil, statePoint, nil)
	if len(got) != 1 || got[0] != "KRW-DOGE" {
		t.Errorf("symbols = %v, want nested statepoint watchlist", got)
	}

	if got = watchingSymbols(nil, nil, nil, nil); got == nil || len(got) != 0 {
		t.Errorf("symbols = %v, want empty non-nil slice", got)
	}
}

func TestExchangeIndicators(t *testing.T) {
	enabled := v1.ExchangeToggles{Upbit: true, Bithumb: true}
	worker := &v1.WorkerSnapshot{Connected: true}

	status := json.RawMessage(`{"exchange":"UPBIT"}`)
	got := exchangeIndicators(status, worker, enabled)
	if got["upbit"].Status != "connected" {
		t.Errorf("active upbit = %+v", got["upbit"])
	}
	if got["bithumb"].Status != "idle" || got["bithumb"].Detail != "active=UPBIT" {
		t.Errorf("inactive bithumb = %+v", got["bithumb"])
	}

	// Active exchange known but worker link dead.
	got = exchangeIndicators(status, &v1.WorkerSnapshot{}, enabled)
	if got["upbit"].Status != "disconnected" {
		t.Errorf("dead-worker upbit = %+v", got["upbit"])
	}

	// The worker's own state names the active exchange when the runtime
	// status file is silent.
	workerActive := &v1.WorkerSnapshot{Connected: true, State: json.RawMessage(`{"pending":{"exchange":"bithumb"}}`)}
	got = exchangeIndicators(nil, workerActive, enabled)
	if got["bithumb"].Status != "connected" || got["upbit"].Status != "idle" {
		t.Errorf("worker-state active exchange: %+v", got)
	}

	// No source names an exchange at all.
	got = exchangeIndicators(nil, worker, enabled)
	if got["upbit"].Status != "unknown" {
		t.Errorf("no active exchange = %+v", got["upbit"])
	}

	// Operator toggle overrides everything.
	got = exchangeIndicators(status, worker, v1.ExchangeToggles{Upbit: false, Bithumb: true})
	if got["upbit"].Status != "disabled" {
		t.Errorf("toggled-off upbit = %+v", got["upbit"])
	}
}

func TestMarketNote(t *testing.T) {
	paper := json.RawMessage(`{"mode":"paper"}`)

	// Live modes never carry a note.
	if got := marketNote(json.RawMessage(`{"mode":"LIVE"}`), nil, nil, nil); got != "" {
		t.Errorf("live-mode note = %q, want empty", got)
	}
	if got := marketNote(nil, nil, nil, nil); got != "" {
		t.Errorf("unknown-mode note = %q, want empty", got)
	}

	// Risk level outranks volatility.
	state := json.RawMessage(`{"riskLevel":"CRITICAL","volatility":0.002}`)
	if got := marketNote(paper, state, nil, nil); !strings.Contains(got, "risk caution") {
		t.Errorf("critical-risk note = %q", got)
	}

	if got := marketNote(paper, json.RawMessage(`{"volatility":0.05}`), nil, nil); !strings.Contains(got, "volatility elevated") {
		t.Errorf("high-vol note = %q", got)
	}
	if got := marketNote(paper, json.RawMessage(`{"volatility":0.005}`), nil, nil); !strings.Contains(got, "range-bound") {
		t.Errorf("low-vol note = %q", got)
	}

	// Volatility buried in the statepoint market block still counts.
	sp := json.RawMessage(`{"market":{"volatility":0.06}}`)
	if got := marketNote(paper, nil, sp, nil); !strings.Contains(got, "volatility elevated") {
		t.Errorf("statepoint-vol note = %q", got)
	}

	// No risk and no volatility reading defers the verdict.
	if got := marketNote(paper, nil, nil, nil); !strings.Contains(got, "deferred") {
		t.Errorf("fallback note = %q", got)
	}

	// The worker's pending mode enables the note when the runtime status
	// file is silent.
	worker := &v1.WorkerSnapshot{Connected: true, State: json.RawMessage(`{"pending":{"mode":"paper"},"riskLevel":"red"}`)}
	if got := marketNote(nil, nil, nil, worker); !strings.Contains(got, "risk caution") {
		t.Errorf("worker-mode note = %q", got)
	}
}

func TestNormalizeToggles(t *testing.T) {
	current := v1.ExchangeToggles{Upbit: true, Bithumb: true}

	next, err := normalizeToggles(current, json.RawMessage(`{"upbit":false}`))
	if err != nil {
		t.Fatal(err)
	}
	if next.Upbit || !next.Bithumb {
		t.Errorf("next = %+v, absent field must keep its value", next)
	}

	// The Enabled aliases and a riding mode field are accepted.
	next, err = normalizeToggles(current, json.RawMessage(`{"mode":"PAPER","bithumbEnabled":false}`))
	if err != nil {
		t.Fatal(err)
	}
	if next.Bithumb {
		t.Errorf("next = %+v, alias field must apply", next)
	}

	if _, err := normalizeToggles(current, json.RawMessage(`{"binance":true}`)); err == nil {
		t.Error("unknown exchange must be rejected")
	}
	if _, err := normalizeToggles(current, json.RawMessage(`{"upbit":"yes"}`)); err == nil {
		t.Error("non-boolean value must be rejected")
	}
	if _, err := normalizeToggles(current, json.RawMessage(`[]`)); err == nil {
		t.Error("non-object payload must be rejected")
	}
}
