package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tradewatch/tradewatch/internal/common/config"
	"github.com/tradewatch/tradewatch/internal/common/errors"
	"github.com/tradewatch/tradewatch/internal/common/logger"
	"github.com/tradewatch/tradewatch/internal/overview"
	"github.com/tradewatch/tradewatch/internal/timeline"
	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// maxBodyBytes bounds operator request bodies.
const maxBodyBytes = 256 << 10

// actionPattern restricts forwarded control actions to plain path segments.
var actionPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// OverviewSource serves the cached dashboard document.
type OverviewSource interface {
	Document(hours, limit int) *v1.OverviewDocument
	ApplyToggles(ctx context.Context, body json.RawMessage) (overview.ToggleResult, error)
}

// SafetySource answers worker snapshot requests with a refresh kick.
type SafetySource interface {
	Kick(ctx context.Context, timeout time.Duration) *v1.WorkerSnapshot
}

// ControlClient forwards operator commands to the worker backend.
type ControlClient interface {
	Control(ctx context.Context, action string, body json.RawMessage) (json.RawMessage, error)
}

// SettingsStore persists the opaque UI settings document.
type SettingsStore interface {
	ReadSettings() json.RawMessage
	WriteSettings(settings json.RawMessage) error
}

// Handler contains the HTTP handlers for the dashboard API.
type Handler struct {
	overview OverviewSource
	safety   SafetySource
	control  ControlClient
	settings SettingsStore
	cfg      *config.Config
	logger   *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(overview OverviewSource, safety SafetySource, control ControlClient, settings SettingsStore, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		overview: overview,
		safety:   safety,
		control:  control,
		settings: settings,
		cfg:      cfg,
		logger:   log,
	}
}

// Health reports process liveness.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Overview serves the cached dashboard document with a per-request timeline
// view. It never blocks on a rebuild.
// GET /api/overview?timelineHours=24&timelineLimit=30
func (h *Handler) Overview(c *gin.Context) {
	hours := timeline.ParseHours(c.Query("timelineHours"), h.cfg.Timeline)
	limit := timeline.ParseLimit(c.Query("timelineLimit"), h.cfg.Timeline)
	c.JSON(http.StatusOK, h.overview.Document(hours, limit))
}

// Worker serves the current safety snapshot. The request kicks a refresh and
// waits for it only up to the kick budget, so a hung worker cannot stall the
// dashboard's poll loop.
// GET /api/worker
func (h *Handler) Worker(c *gin.Context) {
	snap := h.safety.Kick(c.Request.Context(), h.cfg.Worker.KickTimeout())
	c.JSON(http.StatusOK, snap)
}

// ControlExchanges applies the operator's exchange toggles and answers with
// the applied state, the worker route that accepted the change and a
// post-change worker snapshot.
// POST /api/worker/control/exchanges
func (h *Handler) ControlExchanges(c *gin.Context) {
	body, appErr := readJSONBody(c)
	if appErr != nil {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	applied, err := h.overview.ApplyToggles(c.Request.Context(), body)
	if err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	snap := h.safety.Kick(c.Request.Context(), h.cfg.Worker.KickTimeout())
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"action":       "exchanges",
		"applied":      applied.Applied,
		"backendRoute": applied.BackendRoute,
		"result":       applied.Result,
		"worker":       snap,
	})
}

// ControlAction forwards a control command to the worker and answers with
// the worker's result plus a post-command snapshot, so the operator sees the
// effect of the command in the same response.
// POST /api/worker/control/:action
func (h *Handler) ControlAction(c *gin.Context) {
	action := c.Param("action")
	if !actionPattern.MatchString(action) {
		appErr := errors.BadRequest("invalid control action")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	body, appErr := readJSONBody(c)
	if appErr != nil {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	result, err := h.control.Control(c.Request.Context(), action, body)
	if err != nil {
		h.logger.Error("control forward failed", zap.String("action", action), zap.Error(err))
		status := errors.GetHTTPStatus(err)
		c.JSON(status, gin.H{"ok": false, "action": action, "error": err.Error()})
		return
	}

	snap := h.safety.Kick(c.Request.Context(), h.cfg.Worker.KickTimeout())
	c.JSON(http.StatusOK, v1.ControlResult{
		OK:     true,
		Action: action,
		Result: result,
		Worker: snap,
	})
}

// GetSettings serves the opaque UI settings document.
// GET /api/settings
func (h *Handler) GetSettings(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", h.settings.ReadSettings())
}

// PutSettings replaces the UI settings document wholesale.
// PUT /api/settings
func (h *Handler) PutSettings(c *gin.Context) {
	body, appErr := readJSONBody(c)
	if appErr != nil {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if len(body) == 0 {
		appErr := errors.BadRequest("settings body required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := h.settings.WriteSettings(body); err != nil {
		appErr := errors.InternalError("failed to persist settings", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// readJSONBody reads a bounded request body and requires it to be JSON when
// present. An empty body is allowed; control actions do not all take one.
func readJSONBody(c *gin.Context) (json.RawMessage, *errors.AppError) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.BadRequest("failed to read request body")
	}
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, errors.BadRequest("request body must be valid JSON")
	}
	return json.RawMessage(data), nil
}
