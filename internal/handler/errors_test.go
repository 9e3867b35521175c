package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magicart-access-api/internal/service"
	"magicart-access-api/pkg/apierror"
)

func TestDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrDuplicateUsername, http.StatusConflict, apierror.CodeDuplicateUsername},
		{service.ErrInvalidCredentials, http.StatusUnauthorized, apierror.CodeInvalidCreds},
		{service.ErrKeyNotFound, http.StatusBadRequest, apierror.CodeInvalidKey},
		{fmt.Errorf("redeem: %w", service.ErrKeyWrongOwner), http.StatusBadRequest, apierror.CodeInvalidKey},
		{service.ErrProtected, http.StatusForbidden, apierror.CodeProtected},
		{service.ErrBanned, http.StatusForbidden, apierror.CodeBanned},
		{service.ErrUnauthorized, http.StatusForbidden, apierror.CodeForbidden},
		{service.ErrAccountNotFound, http.StatusNotFound, apierror.CodeNotFound},
		{service.ErrNotLoggedIn, http.StatusUnauthorized, apierror.CodeUnauthorized},
		{service.ErrInvalidTier, http.StatusBadRequest, apierror.CodeValidation},
		{fmt.Errorf("%w: bad name", service.ErrInvalidInput), http.StatusBadRequest, apierror.CodeValidation},
		{fmt.Errorf("%w: redeem key", service.ErrConflict), http.StatusConflict, apierror.CodeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			apiErr := domainError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}

	assert.Nil(t, domainError(errors.New("disk on fire")))
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	writeError(rec, req, discardLogger(), errors.New("sql: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestDecodeAndValidate(t *testing.T) {
	v := NewValidator()

	decode := func(body string) error {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var dst CredentialsRequest
		return decodeAndValidate(req, v, &dst)
	}

	require.NoError(t, decode(`{"username":"alice","password":"pw"}`))

	var apiErr *apierror.Error
	require.ErrorAs(t, decode(``), &apiErr)
	assert.Equal(t, apierror.CodeBadRequest, apiErr.Code)

	require.ErrorAs(t, decode(`{"username":"alice","password":"pw","admin":true}`), &apiErr)
	assert.Equal(t, apierror.CodeBadRequest, apiErr.Code, "unknown fields are rejected")

	require.ErrorAs(t, decode(`{"username":"","password":"`+strings.Repeat("x", 73)+`"}`), &apiErr)
	assert.Equal(t, apierror.CodeValidation, apiErr.Code)
	require.Len(t, apiErr.Details, 2)
	data, err := json.Marshal(apiErr.Details)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"field":"username"`)
	assert.Contains(t, string(data), `"field":"password"`)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
