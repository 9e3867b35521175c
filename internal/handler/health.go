package handler

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"magicart-access-api/pkg/response"
)

// StatsProvider reports store row counts.
type StatsProvider interface {
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// Handler serves the unauthenticated status endpoints.
type Handler struct {
	stats     StatsProvider
	version   string
	startTime time.Time
	logger    *slog.Logger
}

// New creates a new handler.
func New(stats StatsProvider, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		stats:     stats,
		version:   version,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_handler")),
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Store     map[string]interface{} `json:"store,omitempty"`
}

// Health handles GET /api/v1/health. It reports unhealthy when the store
// cannot be queried.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}

	if h.stats != nil {
		stats, err := h.stats.Stats(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "store health check failed", slog.String("error", err.Error()))
			resp.Status = "unhealthy"
			response.JSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Store = stats
	}
	response.OK(w, resp)
}

// StatusResponse represents the lightweight status used by the desktop shell.
type StatusResponse struct {
	Service       string  `json:"service"`
	Status        string  `json:"status"`
	Timestamp     string  `json:"timestamp"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	MemoryMB      float64 `json:"memory_mb"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	resp := StatusResponse{
		Service:       "magicart-access-api",
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		MemoryMB:      float64(int(memoryMB*100)) / 100,
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, resp)
}
