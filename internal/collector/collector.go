// Package collector gathers agent-team telemetry from outside the dashboard
// process: JSON-emitting CLI commands, the task table and small state files
// dropped by the trading workspace. Every read is time-bounded and fail-soft.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tradewatch/tradewatch/internal/common/config"
	"github.com/tradewatch/tradewatch/internal/common/jsonx"
	"github.com/tradewatch/tradewatch/internal/common/logger"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// Session is one normalized agent session row from the status command.
type Session struct {
	Key          string
	UpdatedAt    int64
	AgentID      string
	InputTokens  int64
	OutputTokens int64
}

// Collector shells out to the workspace CLI and reads its drop files.
type Collector struct {
	cfg        config.CollectorConfig
	cmdTimeout time.Duration
	logger     *logger.Logger
}

// New creates a collector. cmdTimeout bounds every command invocation.
func New(cfg config.CollectorConfig, cmdTimeout time.Duration, log *logger.Logger) *Collector {
	return &Collector{
		cfg:        cfg,
		cmdTimeout: cmdTimeout,
		logger:     log.WithComponent("collector"),
	}
}

// Project returns the workspace name stamped onto timeline events.
func (c *Collector) Project() string {
	return c.cfg.Project
}

// RunStatus executes the status command and returns its JSON output.
func (c *Collector) RunStatus(ctx context.Context) (json.RawMessage, error) {
	return c.runJSON(ctx, c.cfg.StatusCommand)
}

// RunAgents executes the agent list command and returns its JSON output.
func (c *Collector) RunAgents(ctx context.Context) (json.RawMessage, error) {
	return c.runJSON(ctx, c.cfg.AgentsCommand)
}

func (c *Collector) runJSON(ctx context.Context, command string) (json.RawMessage, error) {
	if command == "" {
		return nil, fmt.Errorf("no command configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).Output()
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", command, err)
	}
	trimmed := []byte(strings.TrimSpace(string(out)))
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("run %q: output is not JSON", command)
	}
	return json.RawMessage(trimmed), nil
}

// Sessions normalizes the session list out of a status payload. The CLI has
// shipped the list under three different keys over time.
func Sessions(status json.RawMessage) []Session {
	m := jsonx.Map(status)
	sessionsObj, ok := m["sessions"].(map[string]interface{})
	if !ok {
		return nil
	}
	var rows []interface{}
	for _, key := range []string{"recent", "list", "sessions"} {
		if arr, ok := sessionsObj[key].([]interface{}); ok {
			rows = arr
			break
		}
	}

	out := make([]Session, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		s := Session{Key: jsonx.String(obj, "key")}
		if n, ok := jsonx.Number(obj, "updatedAt", "updated_at"); ok {
			s.UpdatedAt = int64(n)
		}
		s.AgentID = agentIDForSession(obj, s.Key)
		if n, ok := jsonx.Number(obj, "inputTokens", "tokens.input"); ok {
			s.InputTokens = int64(n)
		}
		if n, ok := jsonx.Number(obj, "outputTokens", "tokens.output"); ok {
			s.OutputTokens = int64(n)
		}
		out = append(out, s)
	}
	return out
}

// agentIDForSession prefers an explicit agentId field, then the second
// colon-separated segment of the session key.
func agentIDForSession(obj map[string]interface{}, key string) string {
	if id := jsonx.String(obj, "agentId", "agent_id"); id != "" {
		return id
	}
	parts := strings.Split(key, ":")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return "unknown"
}

// TokenSnapshot computes one absolute usage row from a status payload. Each
// agent's counter is the maximum input+output total across its sessions,
// since a session list may carry stale rows alongside the live one.
func TokenSnapshot(status, statePoint json.RawMessage, now time.Time) v1.UsageSnapshot {
	perAgent := map[string]int64{}
	var total int64
	for _, s := range Sessions(status) {
		tokens := s.InputTokens + s.OutputTokens
		if tokens > perAgent[s.AgentID] {
			perAgent[s.AgentID] = tokens
		}
	}
	for _, v := range perAgent {
		total += v
	}

	sp := jsonx.Map(statePoint)
	taskID := jsonx.String(sp, "checkpoint.task_id", "checkpoint.taskId", "task_id", "taskId")

	return v1.UsageSnapshot{
		TS:       now.UnixMilli(),
		ISO:      now.UTC().Format(time.RFC3339),
		TaskID:   taskID,
		PerAgent: perAgent,
		Total:    total,
	}
}

// ReadStatePoint loads the latest state point drop file, nil when absent.
func (c *Collector) ReadStatePoint() json.RawMessage {
	return readJSONFile(c.cfg.StatePointFile)
}

// ReadRuntimeStatus loads the worker runtime status drop file, nil when absent.
func (c *Collector) ReadRuntimeStatus() json.RawMessage {
	return readJSONFile(c.cfg.RuntimeStatusFile)
}

// ReadRuntimeState loads the worker runtime state drop file, nil when absent.
func (c *Collector) ReadRuntimeState() json.RawMessage {
	return readJSONFile(c.cfg.RuntimeStateFile)
}

// ReadTaskSignals parses the workspace task table.
func (c *Collector) ReadTaskSignals() v1.TaskSignals {
	data, err := os.ReadFile(c.cfg.TaskFile)
	if err != nil {
		return emptyTaskSignals()
	}
	return ParseTaskTable(string(data))
}

func readJSONFile(path string) json.RawMessage {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil || !json.Valid(data) {
		return nil
	}
	return json.RawMessage(data)
}
