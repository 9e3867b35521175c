package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"magicart-access-api/internal/middleware"
	"magicart-access-api/internal/model"
	"magicart-access-api/internal/service"
	"magicart-access-api/pkg/apierror"
	"magicart-access-api/pkg/response"
)

// AuthHandler handles sign-up, sign-in and sign-out for the process session.
type AuthHandler struct {
	session  *service.Session
	tokens   *service.TokenService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(session *service.Session, tokens *service.TokenService, validate *validator.Validate, logger *slog.Logger) *AuthHandler {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		session:  session,
		tokens:   tokens,
		validate: validate,
		logger:   logger.With(slog.String("component", "auth_handler")),
	}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

// SessionResponse is returned after a successful sign-in.
type SessionResponse struct {
	Account   *model.Account  `json:"account"`
	Token     string          `json:"token"`
	BanStatus model.BanStatus `json:"ban_status"`
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	account, err := h.session.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.startSession(r.Context(), account)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Created(w, resp)
}

// Login handles POST /api/v1/auth/login. A banned account still signs in; the
// ban status in the response tells the renderer what to lock.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	account, err := h.session.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.startSession(r.Context(), account)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.OK(w, resp)
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromRequest(r); token != "" {
		if err := h.tokens.RevokeToken(r.Context(), token); err != nil {
			h.logger.WarnContext(r.Context(), "failed to revoke token", slog.String("error", err.Error()))
		}
	}
	h.session.Logout()
	response.OK(w, map[string]string{"status": "logged_out"})
}

// RefreshResponse reports the new expiry of a refreshed token.
type RefreshResponse struct {
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RefreshToken handles POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)
	if token == "" {
		response.Error(w, apierror.Unauthorized("session token required"))
		return
	}

	data, err := h.tokens.RefreshToken(r.Context(), token)
	if errors.Is(err, service.ErrInvalidToken) {
		response.Error(w, apierror.Unauthorized("invalid or expired token"))
		return
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.OK(w, RefreshResponse{Status: "refreshed", ExpiresAt: data.ExpiresAt})
}

func (h *AuthHandler) startSession(ctx context.Context, account *model.Account) (*SessionResponse, error) {
	id := account.Identity()
	token, err := h.tokens.GenerateToken(ctx, model.SessionData{
		Username: account.Username,
		Network:  id.Network,
		Device:   id.Device,
	})
	if err != nil {
		return nil, err
	}

	status, err := h.session.CurrentBanStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{Account: account, Token: token, BanStatus: status}, nil
}
