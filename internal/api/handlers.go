package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/observatory/internal/flows"
	"github.com/rewired-gh/observatory/internal/models"
)

// Detector is the flow detection service behind the API.
type Detector interface {
	Detect(ctx context.Context, req flows.Request) (*models.FlowsResponse, error)
	Snapshot(ctx context.Context, country string, window string) (models.CountrySnapshot, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FlowsHandler serves hotspots, flows and per-country trends.
type FlowsHandler struct {
	detector      Detector
	defaultWindow string
}

func NewFlowsHandler(d Detector, defaultWindow string) *FlowsHandler {
	if defaultWindow == "" {
		defaultWindow = string(models.Window24h)
	}
	return &FlowsHandler{detector: d, defaultWindow: defaultWindow}
}

// GetFlows handles GET /v1/flows?time_window=&countries=&threshold=.
func (h *FlowsHandler) GetFlows(c *gin.Context) {
	req := flows.Request{
		TimeWindow: c.DefaultQuery("time_window", h.defaultWindow),
		Countries:  splitCountries(c.Query("countries")),
	}
	if raw := strings.TrimSpace(c.Query("threshold")); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_threshold", fmt.Errorf("%w: %q is not a number", flows.ErrInvalidThreshold, raw))
			return
		}
		req.Threshold = &t
	}

	resp, err := h.detector.Detect(c.Request.Context(), req)
	if err != nil {
		respondDetectError(c, err)
		return
	}
	RespondOK(c, resp)
}

// TrendsResponse is the per-country snapshot view.
type TrendsResponse struct {
	Country     string                   `json:"country"`
	TimeWindow  models.TimeWindow        `json:"time_window"`
	GeneratedAt time.Time                `json:"generated_at"`
	TopicCount  int                      `json:"topic_count"`
	Topics      []models.NormalizedTopic `json:"topics"`
}

// GetTrends handles GET /v1/trends/:country?time_window=&limit=.
func (h *FlowsHandler) GetTrends(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondError(c, http.StatusBadRequest, "invalid_limit", fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = n
	}

	snap, err := h.detector.Snapshot(c.Request.Context(), c.Param("country"), c.DefaultQuery("time_window", h.defaultWindow))
	if err != nil {
		respondDetectError(c, err)
		return
	}
	topics := snap.Topics
	if limit > 0 && len(topics) > limit {
		topics = topics[:limit]
	}
	RespondOK(c, TrendsResponse{
		Country:     snap.CountryCode,
		TimeWindow:  snap.TimeWindow,
		GeneratedAt: snap.GeneratedAt,
		TopicCount:  len(snap.Topics),
		Topics:      topics,
	})
}

func respondDetectError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, flows.ErrInvalidTimeWindow):
		RespondError(c, http.StatusBadRequest, "invalid_time_window", err)
	case errors.Is(err, flows.ErrInvalidThreshold):
		RespondError(c, http.StatusBadRequest, "invalid_threshold", err)
	case errors.Is(err, flows.ErrInvalidCountry):
		RespondError(c, http.StatusBadRequest, "invalid_country", err)
	case errors.Is(err, flows.ErrTooManyCountries):
		RespondError(c, http.StatusBadRequest, "too_many_countries", err)
	case errors.Is(err, flows.ErrNoData):
		RespondError(c, http.StatusServiceUnavailable, "no_data", err)
	case errors.Is(err, flows.ErrComputationTimeout):
		RespondError(c, http.StatusUnprocessableEntity, "computation_timeout", err)
	case errors.Is(err, context.Canceled):
		// client went away
		c.Abort()
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}

func splitCountries(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// HealthHandler checks dependencies.
type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles GET /healthz.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	for name, p := range h.checks {
		if p == nil {
			continue
		}
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(h.checks))
		}
		if err := p.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	c.JSON(status, resp)
}
