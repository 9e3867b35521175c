package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"magicart-access-api/internal/service"
	"magicart-access-api/pkg/apierror"
	"magicart-access-api/pkg/response"
)

// domainError maps a service error to the API error the renderer switches on.
// Key-not-found and wrong-owner share INVALID_KEY so a caller cannot tell
// which keys exist.
func domainError(err error) *apierror.Error {
	switch {
	case errors.Is(err, service.ErrDuplicateUsername):
		return apierror.New(http.StatusConflict, apierror.CodeDuplicateUsername, "username already taken")
	case errors.Is(err, service.ErrInvalidCredentials):
		return apierror.New(http.StatusUnauthorized, apierror.CodeInvalidCreds, "invalid username or password")
	case errors.Is(err, service.ErrKeyNotFound), errors.Is(err, service.ErrKeyWrongOwner):
		return apierror.New(http.StatusBadRequest, apierror.CodeInvalidKey, "license key is not valid")
	case errors.Is(err, service.ErrProtected):
		return apierror.New(http.StatusForbidden, apierror.CodeProtected, "account is protected")
	case errors.Is(err, service.ErrBanned):
		return apierror.New(http.StatusForbidden, apierror.CodeBanned, "session is banned")
	case errors.Is(err, service.ErrUnauthorized):
		return apierror.Forbidden("admin privileges required")
	case errors.Is(err, service.ErrAccountNotFound):
		return apierror.NotFound("account not found")
	case errors.Is(err, service.ErrNotLoggedIn):
		return apierror.Unauthorized("no active session")
	case errors.Is(err, service.ErrInvalidTier):
		return apierror.ValidationError("tier must be VIP, SSVIP or INFINITY")
	case errors.Is(err, service.ErrInvalidInput):
		return apierror.ValidationError(err.Error())
	case errors.Is(err, service.ErrConflict):
		return apierror.New(http.StatusConflict, apierror.CodeConflict, "account changed concurrently, try again")
	}
	return nil
}

// writeError sends err as a mapped API error. Unmapped errors are logged and
// sent as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if apiErr := domainError(err); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		response.Error(w, apiErr)
		return
	}

	logger.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	response.Error(w, apierror.InternalError(""))
}
