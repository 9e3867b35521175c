package handler

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"

	"magicart-access-api/internal/model"
	"magicart-access-api/internal/service"
	"magicart-access-api/pkg/apierror"
	"magicart-access-api/pkg/response"
)

// AdminHandler handles admin-only HTTP requests.
type AdminHandler struct {
	session   *service.Session
	engine    *service.AccessEngine
	storeType string
	validate  *validator.Validate
	logger    *slog.Logger
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	session *service.Session,
	engine *service.AccessEngine,
	storeType string,
	validate *validator.Validate,
	logger *slog.Logger,
) *AdminHandler {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		session:   session,
		engine:    engine,
		storeType: storeType,
		validate:  validate,
		logger:    logger.With(slog.String("component", "admin_handler")),
		startTime: time.Now(),
	}
}

// IssueKeyRequest is the body of a key issue.
type IssueKeyRequest struct {
	Tier          string `json:"tier" validate:"required"`
	BoundUsername string `json:"bound_username,omitempty" validate:"max=64"`
}

// IssueKeyResponse returns the new key.
type IssueKeyResponse struct {
	Key *model.LicenseKey `json:"key"`
}

// IssueKey handles POST /api/v1/admin/keys
func (h *AdminHandler) IssueKey(w http.ResponseWriter, r *http.Request) {
	var req IssueKeyRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	tier, err := model.ParseTier(req.Tier)
	if err != nil {
		response.Error(w, apierror.ValidationError("tier must be VIP, SSVIP or INFINITY",
			apierror.FieldError{Field: "tier", Message: err.Error()}))
		return
	}

	key, err := h.session.IssueKey(r.Context(), tier, req.BoundUsername)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, IssueKeyResponse{Key: key})
}

// BanRequest names the account to ban.
type BanRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

// Ban handles POST /api/v1/admin/bans
func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	if err := h.session.AdminBan(r.Context(), req.Username); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	account, err := h.engine.Account(r.Context(), req.Username)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, account)
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["server_time"] = time.Now().UTC().Format(time.RFC3339)
	stats["store_type"] = h.storeType

	if storeStats, err := h.engine.Stats(r.Context()); err == nil {
		stats["store"] = storeStats
	} else {
		h.logger.WarnContext(r.Context(), "failed to read store stats", slog.String("error", err.Error()))
		stats["store"] = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"alloc_mb":   float64(memStats.Alloc) / 1024 / 1024,
		"num_gc":     memStats.NumGC,
	}

	response.OK(w, stats)
}
