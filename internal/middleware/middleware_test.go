package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magicart-access-api/internal/model"
	"magicart-access-api/internal/service"
	"magicart-access-api/pkg/apierror"
	"magicart-access-api/pkg/uid"
)

type errorEnvelope struct {
	Success bool           `json:"success"`
	Error   apierror.Error `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apierror.Error {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	return env.Error
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, uid.IsValid(seen))
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	supplied := uid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, supplied)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, supplied, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "forged\nline")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "forged\nline", seen)
	assert.True(t, uid.IsValid(seen))
}

func TestRecovery(t *testing.T) {
	h := NewRecovery(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apierror.CodeInternal, decodeError(t, rec).Code)
}

func TestLogging_CapturesStatus(t *testing.T) {
	h := NewLogging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestRateLimiter(t *testing.T) {
	h := NewRateLimiter(0.001, 2, nil).Handler(okHandler)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys/redeem", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys/redeem", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apierror.CodeRateLimited, decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

type fakeTokens map[string]*model.SessionData

func (f fakeTokens) ValidateToken(_ context.Context, token string) (*model.SessionData, error) {
	if token == "broken" {
		return nil, errors.New("cache down")
	}
	if d, ok := f[token]; ok {
		return d, nil
	}
	return nil, service.ErrInvalidToken
}

type fakeSession string

func (s fakeSession) Username() string { return string(s) }

type fakeAccounts map[string]*model.Account

func (f fakeAccounts) Account(_ context.Context, username string) (*model.Account, error) {
	if a, ok := f[username]; ok {
		return a, nil
	}
	return nil, service.ErrAccountNotFound
}

func TestAuthMiddleware(t *testing.T) {
	tokens := fakeTokens{
		"mat_alice": {Username: "alice"},
		"mat_bob":   {Username: "bob"},
	}

	var seen *model.SessionData
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetSessionData(r.Context())
	})
	h := NewAuthMiddleware(AuthConfig{Tokens: tokens, Session: fakeSession("alice")})(next)

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"unknown token", "Authorization", "Bearer mat_nobody", http.StatusUnauthorized},
		{"store failure", "Authorization", "Bearer broken", http.StatusUnauthorized},
		{"token of another account", "Authorization", "Bearer mat_bob", http.StatusUnauthorized},
		{"bearer token", "Authorization", "Bearer mat_alice", http.StatusOK},
		{"x-token header", TokenHeader, "mat_alice", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "alice", seen.Username)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestAuthMiddleware_AnonymousSessionRejectsTokens(t *testing.T) {
	h := NewAuthMiddleware(AuthConfig{
		Tokens:  fakeTokens{"mat_alice": {Username: "alice"}},
		Session: fakeSession(""),
	})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer mat_alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalAuthMiddleware(t *testing.T) {
	var seen *model.SessionData
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetSessionData(r.Context())
	})
	h := NewOptionalAuthMiddleware(AuthConfig{
		Tokens:  fakeTokens{"mat_alice": {Username: "alice"}, "mat_bob": {Username: "bob"}},
		Session: fakeSession("alice"),
	})(next)

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"anonymous", "", ""},
		{"unknown token", "mat_nobody", ""},
		{"token of another account", "mat_bob", ""},
		{"store failure", "broken", ""},
		{"signed-in account", "mat_alice", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ban-status", nil)
			if tt.token != "" {
				req.Header.Set(TokenHeader, tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code, "never rejects")
			if tt.want == "" {
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, tt.want, seen.Username)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	accounts := fakeAccounts{
		"root":  {Username: "root", IsAdmin: true},
		"alice": {Username: "alice"},
	}
	guard := RequireAdmin(accounts)(okHandler)

	serve := func(data *model.SessionData) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/keys", nil)
		if data != nil {
			req = req.WithContext(context.WithValue(req.Context(), SessionDataKey, data))
		}
		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(&model.SessionData{Username: "ghost"}).Code)

	rec := serve(&model.SessionData{Username: "alice"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apierror.CodeForbidden, decodeError(t, rec).Code)

	assert.Equal(t, http.StatusOK, serve(&model.SessionData{Username: "root"}).Code)
}
