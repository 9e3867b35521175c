package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"magicart-access-api/internal/model"
	"magicart-access-api/internal/repository"
	"magicart-access-api/pkg/uid"
)

const maxIssueAttempts = 8

// KeyGenerator produces a candidate key value for tier.
type KeyGenerator func(tier model.Tier) string

// RandomKey formats TIER-XXXX-XXXX-XXXX over A-Z0-9.
func RandomKey(tier model.Tier) string {
	s := uid.Base36(12)
	return fmt.Sprintf("%s-%s-%s-%s", tier, s[0:4], s[4:8], s[8:12])
}

// LicenseRegistry issues and consumes single-use license keys.
type LicenseRegistry struct {
	keys     repository.LicenseKeyRepository
	generate KeyGenerator
	now      func() time.Time
	logger   *slog.Logger
}

// NewLicenseRegistry creates a registry. A nil generator selects RandomKey.
func NewLicenseRegistry(keys repository.LicenseKeyRepository, generate KeyGenerator, now func() time.Time, logger *slog.Logger) *LicenseRegistry {
	if generate == nil {
		generate = RandomKey
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseRegistry{
		keys:     keys,
		generate: generate,
		now:      now,
		logger:   logger.With(slog.String("component", "license_registry")),
	}
}

// Issue creates a key for a paid tier, optionally bound to one username.
// The value is unique among active keys; collisions are regenerated.
func (r *LicenseRegistry) Issue(ctx context.Context, tier model.Tier, boundUsername string) (*model.LicenseKey, error) {
	if !tier.Valid() || tier == model.TierFree {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTier, tier)
	}

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		key := &model.LicenseKey{
			Value:         r.generate(tier),
			Tier:          tier,
			BoundUsername: strings.TrimSpace(boundUsername),
			CreatedAt:     r.now().UTC(),
		}

		err := r.keys.Insert(ctx, key)
		if errors.Is(err, repository.ErrDuplicate) {
			r.logger.Warn("license key collision, regenerating", slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		r.logger.Info("license key issued",
			slog.String("tier", tier.String()),
			slog.String("bound_username", key.BoundUsername),
		)
		return key, nil
	}
	return nil, fmt.Errorf("failed to generate a unique license key after %d attempts", maxIssueAttempts)
}

// Redeem consumes value for requester. It returns ErrKeyNotFound or
// ErrKeyWrongOwner; in the latter case the key stays active.
func (r *LicenseRegistry) Redeem(ctx context.Context, value, requester string) (*model.LicenseKey, error) {
	key, err := r.keys.Consume(ctx, strings.TrimSpace(value), requester)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrKeyNotFound
	case errors.Is(err, repository.ErrWrongOwner):
		return nil, ErrKeyWrongOwner
	case err != nil:
		return nil, err
	}
	return key, nil
}

// Restore puts a consumed key back. Used to roll back a redemption whose
// account update failed.
func (r *LicenseRegistry) Restore(ctx context.Context, key *model.LicenseKey) error {
	if err := r.keys.Insert(ctx, key); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	return nil
}

// Contains reports whether value is an active key.
func (r *LicenseRegistry) Contains(ctx context.Context, value string) (bool, error) {
	_, err := r.keys.Get(ctx, value)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns all active keys.
func (r *LicenseRegistry) List(ctx context.Context) ([]*model.LicenseKey, error) {
	return r.keys.List(ctx)
}
