package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradewatch/tradewatch/internal/common/config"
	"github.com/tradewatch/tradewatch/internal/common/errors"
	"github.com/tradewatch/tradewatch/internal/common/logger"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// Client talks to the trading worker's local HTTP API. Every read is
// time-bounded; a slow worker degrades the snapshot, never the dashboard.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *logger.Logger
}

// NewClient creates a worker client from configuration.
func NewClient(cfg config.WorkerConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout(),
		http:    &http.Client{Timeout: cfg.Timeout()},
		logger:  log.WithComponent("worker-client"),
	}
}

// PollOnce fetches /health, /state and /orders concurrently and classifies
// the result. It never fails: individual call errors are recorded in the
// snapshot's Errors and the health outcome alone decides Connected.
func (c *Client) PollOnce(ctx context.Context) *v1.WorkerSnapshot {
	snap := &v1.WorkerSnapshot{TS: time.Now().UnixMilli()}

	var wg sync.WaitGroup
	fetch := func(path string, dst *json.RawMessage, errDst *string) {
		defer wg.Done()
		raw, err := c.getJSON(ctx, path)
		if err != nil {
			*errDst = err.Error()
			return
		}
		*dst = raw
	}
	wg.Add(3)
	go fetch("/health", &snap.Health, &snap.Errors.Health)
	go fetch("/state", &snap.State, &snap.Errors.State)
	go fetch("/orders", &snap.Orders, &snap.Errors.Orders)
	wg.Wait()

	snap.Connected = snap.Errors.Health == ""
	snap.TrafficLight = Classify(snap)
	snap.StopAll = ShouldStopAll(snap.TrafficLight)
	snap.Banner = BannerText(snap.TrafficLight)
	return snap
}

// Control forwards an operator command to POST /control/{action} and returns
// the worker's raw response body. Unlike polling, failures propagate so the
// caller can surface them to the operator.
func (c *Client) Control(ctx context.Context, action string, body json.RawMessage) (json.RawMessage, error) {
	raw, err := c.postJSON(ctx, "/control/"+action, body)
	if err != nil {
		c.logger.WithError(err).Warn("control command failed", zap.String("action", action))
		return nil, errors.UpstreamError(fmt.Sprintf("worker control %q failed", action), err)
	}
	return raw, nil
}

func (c *Client) getJSON(ctx context.Context, path string) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodGet, path, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body json.RawMessage) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPost, path, body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %s: invalid JSON response", method, path)
	}
	return json.RawMessage(data), nil
}
