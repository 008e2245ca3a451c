package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/twweather/tempmap/internal/health"
	"github.com/twweather/tempmap/internal/lifecycle"
	"github.com/twweather/tempmap/internal/models"
	"github.com/twweather/tempmap/internal/service"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	StartTime            time.Time
	// CachePing, when set, is called to check cache reachability.
	// Used when the backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc              *service.TemperatureService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(svc *service.TemperatureService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		svc:          svc,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetReadings handles GET /api/readings.
func (h *Handler) GetReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := h.svc.Readings(r.Context())
	if err != nil {
		health.RecordError()
		writeServiceError(w, r, err)
		return
	}
	health.RecordSuccess()
	if readings == nil {
		readings = []models.TemperatureReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// GetReadingsForLocation handles GET /api/readings/{location}.
func (h *Handler) GetReadingsForLocation(w http.ResponseWriter, r *http.Request) {
	location := strings.TrimSpace(mux.Vars(r)["location"])
	if location == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "location is required")
		return
	}

	readings, err := h.svc.ReadingsForLocation(r.Context(), location)
	if err != nil {
		health.RecordError()
		writeServiceError(w, r, err)
		return
	}
	health.RecordSuccess()
	if len(readings) == 0 {
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "no readings for location "+location)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// GetLocations handles GET /api/locations.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.svc.Locations(r.Context())
	if err != nil {
		health.RecordError()
		writeServiceError(w, r, err)
		return
	}
	health.RecordSuccess()
	if locations == nil {
		locations = []string{}
	}
	writeJSON(w, http.StatusOK, locations)
}

// GetSummary handles GET /api/summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context())
	if err != nil {
		health.RecordError()
		writeServiceError(w, r, err)
		return
	}
	health.RecordSuccess()
	if summary == nil {
		summary = []models.LocationSummary{}
	}
	writeJSON(w, http.StatusOK, summary)
}

// PostRefresh handles POST /api/refresh. Blocks until the pipeline run
// completes; concurrent requests coalesce onto the same run.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Refresh(r.Context(), "api")
	if err != nil {
		health.RecordError()
		if errors.Is(err, service.ErrNoReadings) {
			writeError(w, r, http.StatusBadGateway, "NO_READINGS", err.Error())
			return
		}
		writeServiceError(w, r, err)
		return
	}
	health.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"rows":       result.Rows,
		"durationMs": result.Duration.Milliseconds(),
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["refresh"] = "unhealthy"
	} else {
		checks["refresh"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]any{
		"status":    result.status,
		"service":   "tempmap",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus evaluates health conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}

	threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
	if float64(health.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}

	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := health.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with
// code, message, and requestId (correlation ID) if available.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError writes a 503 for store or upstream failures and logs
// the underlying error at DEBUG when a request logger is available.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to serve temperature data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("service error", zap.Error(err))
	}
}
