package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"magicart-access-api/internal/model"
	"magicart-access-api/internal/service"
	"magicart-access-api/pkg/apierror"
	"magicart-access-api/pkg/response"
)

// SessionDataKey is the key for storing session token data in request context.
const SessionDataKey contextKey = "session_data"

// TokenHeader is the fallback header for clients that cannot set Authorization.
const TokenHeader = "X-Token"

// TokenValidator resolves a bearer token to its session data.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.SessionData, error)
}

// SessionHolder reports who is signed in to the process session.
type SessionHolder interface {
	Username() string
}

// AccountLookup loads an account by username.
type AccountLookup interface {
	Account(ctx context.Context, username string) (*model.Account, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Tokens  TokenValidator
	Session SessionHolder
	Logger  *slog.Logger
}

// NewAuthMiddleware requires a live session token that belongs to the account
// currently signed in. A token outliving a logout or a re-login is rejected.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	logger := loggerOrDefault(cfg.Logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, apiErr := authenticate(r, cfg, logger)
			if apiErr != nil {
				response.Error(w, apiErr)
				return
			}

			ctx := context.WithValue(r.Context(), SessionDataKey, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOptionalAuthMiddleware attaches the session data when the request carries
// a token NewAuthMiddleware would accept. Any other request continues as
// anonymous, so handlers must check GetSessionData before showing account
// state.
func NewOptionalAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	logger := loggerOrDefault(cfg.Logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if TokenFromRequest(r) == "" {
				next.ServeHTTP(w, r)
				return
			}
			data, apiErr := authenticate(r, cfg, logger)
			if apiErr != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), SessionDataKey, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, cfg AuthConfig, logger *slog.Logger) (*model.SessionData, *apierror.Error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, apierror.Unauthorized("session token required")
	}

	data, err := cfg.Tokens.ValidateToken(r.Context(), token)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidToken) {
			logger.ErrorContext(r.Context(), "token validation failed",
				slog.String("error", err.Error()),
				slog.String("request_id", GetRequestID(r.Context())),
			)
		}
		return nil, apierror.Unauthorized("invalid or expired token")
	}

	if current := cfg.Session.Username(); current == "" || current != data.Username {
		return nil, apierror.Unauthorized("session has ended")
	}
	return data, nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// RequireAdmin rejects requests whose session account is not an admin. It must
// run after NewAuthMiddleware.
func RequireAdmin(accounts AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data := GetSessionData(r.Context())
			if data == nil {
				response.Error(w, apierror.Unauthorized("session token required"))
				return
			}

			account, err := accounts.Account(r.Context(), data.Username)
			if err != nil {
				if errors.Is(err, service.ErrAccountNotFound) {
					response.Error(w, apierror.Unauthorized("session has ended"))
					return
				}
				response.Error(w, err)
				return
			}
			if !account.IsAdmin {
				response.Error(w, apierror.Forbidden("admin privileges required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenFromRequest extracts the token from Authorization: Bearer or X-Token.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get(TokenHeader))
}

// GetSessionData retrieves the validated token data from request context.
func GetSessionData(ctx context.Context) *model.SessionData {
	if data, ok := ctx.Value(SessionDataKey).(*model.SessionData); ok {
		return data
	}
	return nil
}
