package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"magicart-access-api/internal/cache"
	"magicart-access-api/internal/model"
	"magicart-access-api/pkg/uid"
)

const (
	// TokenPrefix is the prefix for all session tokens
	TokenPrefix = "mat_"

	// DefaultTokenTTL is the token lifetime when none is configured
	DefaultTokenTTL = 12 * time.Hour

	tokenCacheKeyPrefix = "token:"
)

// ErrInvalidToken is returned for malformed, unknown or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenService issues the bearer tokens the renderer uses to call the local API.
type TokenService struct {
	cache  cache.Cache
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenService creates a token service backed by c.
func NewTokenService(c cache.Cache, ttl time.Duration, now func() time.Time, logger *slog.Logger) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		cache:  c,
		ttl:    ttl,
		now:    now,
		logger: logger.With(slog.String("component", "token")),
	}
}

// GenerateToken creates a token for data and stores it with the TTL.
func (s *TokenService) GenerateToken(ctx context.Context, data model.SessionData) (string, error) {
	token := TokenPrefix + uid.Compact() + uid.Compact()

	data.CreatedAt = s.now().UTC()
	data.ExpiresAt = data.CreatedAt.Add(s.ttl)

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize token data: %w", err)
	}

	if err := s.cache.Set(ctx, tokenCacheKeyPrefix+token, jsonData, s.ttl); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	s.logger.Debug("token issued",
		slog.String("username", data.Username),
		slog.Time("expires_at", data.ExpiresAt),
	)
	return token, nil
}

// ValidateToken returns the session data of a live token.
func (s *TokenService) ValidateToken(ctx context.Context, token string) (*model.SessionData, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return nil, ErrInvalidToken
	}

	key := tokenCacheKeyPrefix + token
	jsonData, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var data model.SessionData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("failed to parse token data: %w", err)
	}

	if !s.now().Before(data.ExpiresAt) {
		_ = s.cache.Delete(ctx, key)
		return nil, ErrInvalidToken
	}
	return &data, nil
}

// RevokeToken deletes a token.
func (s *TokenService) RevokeToken(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, tokenCacheKeyPrefix+token)
}

// RefreshToken extends the lifetime of a live token by the configured TTL and
// returns its updated session data. The cache entry is touched before the
// payload is rewritten, so a token revoked after validation stays revoked.
func (s *TokenService) RefreshToken(ctx context.Context, token string) (*model.SessionData, error) {
	data, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	key := tokenCacheKeyPrefix + token
	if err := s.cache.Touch(ctx, key, s.ttl); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to extend token: %w", err)
	}

	data.ExpiresAt = s.now().UTC().Add(s.ttl)
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize token data: %w", err)
	}
	if err := s.cache.Set(ctx, key, jsonData, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	s.logger.Debug("token refreshed",
		slog.String("username", data.Username),
		slog.Time("expires_at", data.ExpiresAt),
	)
	return data, nil
}
