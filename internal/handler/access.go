package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"magicart-access-api/internal/middleware"
	"magicart-access-api/internal/model"
	"magicart-access-api/internal/service"
	"magicart-access-api/pkg/apierror"
	"magicart-access-api/pkg/response"
)

// AccessHandler serves session state, tool gating and key redemption.
type AccessHandler struct {
	session  *service.Session
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAccessHandler creates a new access handler.
func NewAccessHandler(session *service.Session, validate *validator.Validate, logger *slog.Logger) *AccessHandler {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessHandler{
		session:  session,
		validate: validate,
		logger:   logger.With(slog.String("component", "access_handler")),
	}
}

// SessionStateResponse describes the signed-in session.
type SessionStateResponse struct {
	Account    *model.Account  `json:"account"`
	BanStatus  model.BanStatus `json:"ban_status"`
	ActiveTool model.ToolID    `json:"active_tool"`
}

// GetSession handles GET /api/v1/session
func (h *AccessHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	account, err := h.session.Current(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if account == nil {
		writeError(w, r, h.logger, service.ErrNotLoggedIn)
		return
	}

	status, err := h.session.CurrentBanStatus(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.OK(w, SessionStateResponse{
		Account:    account,
		BanStatus:  status,
		ActiveTool: h.session.ActiveTool(),
	})
}

// GetBanStatus handles GET /api/v1/ban-status. It needs no token: hardware bans
// apply before anyone signs in. The account's own ban is only reported to the
// holder of the session token.
func (h *AccessHandler) GetBanStatus(w http.ResponseWriter, r *http.Request) {
	var (
		status model.BanStatus
		err    error
	)
	if middleware.GetSessionData(r.Context()) != nil {
		status, err = h.session.CurrentBanStatus(r.Context())
	} else {
		status, err = h.session.AnonymousBanStatus(r.Context())
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, status)
}

// ToolState is one catalog entry with the session's gating decision.
type ToolState struct {
	model.Tool
	Decision model.GateDecision `json:"decision"`
}

// ToolsResponse lists the catalog for the session. ActiveTool is only set for
// the signed-in account.
type ToolsResponse struct {
	ActiveTool model.ToolID `json:"active_tool,omitempty"`
	Tools      []ToolState  `json:"tools"`
}

// ListTools handles GET /api/v1/tools. Without a session token the catalog is
// gated as for an anonymous session.
func (h *AccessHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	signedIn := middleware.GetSessionData(r.Context()) != nil
	gate := h.session.AnonymousGateTool
	if signedIn {
		gate = h.session.GateTool
	}

	catalog := model.Tools()
	states := make([]ToolState, 0, len(catalog))
	for _, tool := range catalog {
		decision, err := gate(r.Context(), tool.ID)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		states = append(states, ToolState{Tool: tool, Decision: decision})
	}

	resp := ToolsResponse{Tools: states}
	if signedIn {
		resp.ActiveTool = h.session.ActiveTool()
	}
	response.OK(w, resp)
}

// SelectToolResponse reports the outcome of a selection. A denied selection
// leaves the active tool unchanged.
type SelectToolResponse struct {
	Tool       model.ToolID       `json:"tool"`
	Decision   model.GateDecision `json:"decision"`
	ActiveTool model.ToolID       `json:"active_tool"`
}

// SelectTool handles POST /api/v1/tools/{tool}/select
func (h *AccessHandler) SelectTool(w http.ResponseWriter, r *http.Request) {
	id := model.ToolID(chi.URLParam(r, "tool"))
	if _, ok := model.LookupTool(id); !ok {
		response.Error(w, apierror.NotFound("unknown tool"))
		return
	}

	decision, err := h.session.SelectTool(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.OK(w, SelectToolResponse{
		Tool:       id,
		Decision:   decision,
		ActiveTool: h.session.ActiveTool(),
	})
}

// RedeemRequest is the body of a key redemption.
type RedeemRequest struct {
	Key string `json:"key" validate:"required,max=64"`
}

// RedeemResponse carries the tier granted by a key.
type RedeemResponse struct {
	Tier model.Tier `json:"tier"`
}

// RedeemKey handles POST /api/v1/keys/redeem. Invalid keys count toward the
// spam penalty; the response after a ban carries INVALID_KEY and the renderer
// re-reads ban status.
func (h *AccessHandler) RedeemKey(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	tier, err := h.session.RedeemKey(r.Context(), req.Key)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, RedeemResponse{Tier: tier})
}
