package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/conseil-meteo-service/internal/lifecycle"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
	"github.com/kjstillabower/conseil-meteo-service/internal/traffic"
)

// Pinger checks that a dependency is reachable.
type Pinger func(ctx context.Context) error

// APIKeyValidator probes the weather provider. client.WeatherClient satisfies it.
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context) error
}

// HealthConfig holds the degraded thresholds and dependency probes for GET /health.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	Version          string
	// DatabasePing checks the SQLite store.
	DatabasePing Pinger
	// CachePing checks the cache backend. Nil for the in-process store.
	CachePing Pinger
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	upstream APIKeyValidator
	state    *lifecycle.State
	traffic  *traffic.Tracker
	cfg      HealthConfig
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	prevStatus string
}

// NewHealthHandler returns a HealthHandler. tracker may be nil.
func NewHealthHandler(upstream APIKeyValidator, state *lifecycle.State, tracker *traffic.Tracker, cfg HealthConfig, logger *zap.Logger) *HealthHandler {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &HealthHandler{
		upstream: upstream,
		state:    state,
		traffic:  tracker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Traffic   *traffic.Snapshot `json:"traffic,omitempty"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
	traffic    *traffic.Snapshot
}

// GetHealth handles GET /health.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.compute(r.Context())

	h.mu.Lock()
	if h.prevStatus != "" && h.prevStatus != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", h.prevStatus),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.prevStatus = result.status
	h.mu.Unlock()

	now := h.now()
	writeJSON(w, result.statusCode, healthResponse{
		Status:    result.status,
		Service:   observability.ServiceName,
		Version:   h.cfg.Version,
		Checks:    result.checks,
		Traffic:   result.traffic,
		Uptime:    h.state.Uptime(now).Truncate(time.Second).String(),
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// compute evaluates, in priority order: shutting-down, weather API key,
// database, cache, then the upstream error rate over the degraded window.
func (h *HealthHandler) compute(ctx context.Context) healthResult {
	if h.state.ShuttingDown() {
		return healthResult{status: "shutting-down", statusCode: http.StatusServiceUnavailable, reason: "signal"}
	}

	checks := map[string]string{"weatherApi": "healthy", "database": "healthy", "cache": "healthy"}
	reason := ""
	if err := h.upstream.ValidateAPIKey(ctx); err != nil {
		checks["weatherApi"] = "unhealthy"
		reason = "weather_api_unavailable"
	}
	if h.cfg.DatabasePing != nil {
		if err := h.cfg.DatabasePing(ctx); err != nil {
			checks["database"] = "unhealthy"
			if reason == "" {
				reason = "database_unreachable"
			}
		}
	}
	if h.cfg.CachePing != nil {
		if err := h.cfg.CachePing(ctx); err != nil {
			checks["cache"] = "unhealthy"
			if reason == "" {
				reason = "cache_unreachable"
			}
		}
	}

	var snap *traffic.Snapshot
	if h.traffic != nil && h.cfg.DegradedWindow > 0 {
		s := h.traffic.Window(h.cfg.DegradedWindow)
		snap = &s
		if reason == "" && h.cfg.DegradedErrorPct > 0 && s.Successes+s.Errors > 0 &&
			s.ErrorPct() >= float64(h.cfg.DegradedErrorPct) {
			reason = "error_rate_breach"
		}
	}

	if reason != "" {
		return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: reason, checks: checks, traffic: snap}
	}
	return healthResult{status: "healthy", statusCode: http.StatusOK, checks: checks, traffic: snap}
}
