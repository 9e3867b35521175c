package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"magicart-access-api/internal/model"
	"magicart-access-api/internal/repository"
	"magicart-access-api/pkg/uid"
)

// Settings keys holding the persisted instance surrogates.
const (
	settingNetworkSurrogate = "identity.network"
	settingDeviceSurrogate  = "identity.device"
)

// IdentityResolver derives the pseudo-identity of this running instance. Values
// are generated once, persisted, and returned unchanged on every later call and
// after restarts.
type IdentityResolver struct {
	settings repository.SettingsRepository
	logger   *slog.Logger

	mu       sync.Mutex
	resolved *model.Identity
}

// NewIdentityResolver creates a resolver backed by settings.
func NewIdentityResolver(settings repository.SettingsRepository, logger *slog.Logger) *IdentityResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityResolver{
		settings: settings,
		logger:   logger.With(slog.String("component", "identity")),
	}
}

// Resolve returns the instance surrogates, generating and persisting them on
// first use.
func (r *IdentityResolver) Resolve(ctx context.Context) (model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != nil {
		return *r.resolved, nil
	}

	network, err := r.loadOrCreate(ctx, settingNetworkSurrogate, newNetworkSurrogate)
	if err != nil {
		return model.Identity{}, err
	}
	device, err := r.loadOrCreate(ctx, settingDeviceSurrogate, newDeviceSurrogate)
	if err != nil {
		return model.Identity{}, err
	}

	r.resolved = &model.Identity{Network: network, Device: device}
	r.logger.Info("instance identity resolved",
		slog.String("network", network),
		slog.String("device", device),
	)
	return *r.resolved, nil
}

func (r *IdentityResolver) loadOrCreate(ctx context.Context, name string, generate func() string) (string, error) {
	value, err := r.settings.GetSetting(ctx, name)
	if err == nil && value != "" {
		return value, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("failed to load %s: %w", name, err)
	}

	value = generate()
	if err := r.settings.SetSetting(ctx, name, value); err != nil {
		return "", fmt.Errorf("failed to persist %s: %w", name, err)
	}
	return value, nil
}

// newNetworkSurrogate mimics a LAN address. It is a correlation handle, not a
// real address.
func newNetworkSurrogate() string {
	return fmt.Sprintf("192.168.1.%d", rand.IntN(254)+1)
}

func newDeviceSurrogate() string {
	return "HWID-" + uid.Base36(26)
}
