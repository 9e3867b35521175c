// Package app wires the store and services shared by the API server and the
// admin console.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"magicart-access-api/internal/cache"
	"magicart-access-api/internal/config"
	"magicart-access-api/internal/metrics"
	"magicart-access-api/internal/repository"
	"magicart-access-api/internal/service"
)

// Core holds the engine and its collaborators over one store.
type Core struct {
	Store       repository.Store
	Credentials *service.CredentialStore
	Licenses    *service.LicenseRegistry
	Ledger      *service.BanLedger
	Engine      *service.AccessEngine
	Identity    *service.IdentityResolver
	Metrics     *metrics.Recorder
}

// OpenStore opens the backend selected by cfg.Store.Type.
func OpenStore(cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.Store.Type {
	case "mysql":
		s, err := repository.NewMySQLStore(cfg.Database.DSN(), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := repository.NewRedisStore(repository.RedisConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Store.RedisDB,
			KeyPrefix: cfg.Store.RedisKey,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s, err := repository.NewSQLiteStore(cfg.Store.SQLitePath, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenCache opens the session cache selected by cfg.Cache.Type.
func OpenCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Type != "redis" {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:      cfg.Cache.RedisAddress(),
		Password:  cfg.Cache.RedisPassword,
		DB:        cfg.Cache.RedisDB,
		KeyPrefix: cfg.Cache.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewCore builds the services over store and makes sure the immune principal
// exists. rec may be nil.
func NewCore(ctx context.Context, cfg *config.Config, store repository.Store, rec *metrics.Recorder, logger *slog.Logger) (*Core, error) {
	credentials := service.NewCredentialStore(store.Accounts(), cfg.Security.BcryptCost, nil, logger)
	licenses := service.NewLicenseRegistry(store.Keys(), service.RandomKey, nil, logger)
	ledger := service.NewBanLedger(store.Bans())

	engine := service.NewAccessEngine(store, credentials, licenses, ledger, service.EngineConfig{
		ImmuneUsername: cfg.Security.ImmuneUsername,
		Policy: service.Policy{
			FailedAttemptLimit: cfg.Policy.FailedAttemptLimit,
			TemporaryBan:       cfg.Policy.TemporaryBan,
			EscalatedBan:       cfg.Policy.EscalatedBan,
			AdminBan:           cfg.Policy.AdminBan,
		},
		Metrics: rec,
		Logger:  logger,
	})

	if err := credentials.Seed(ctx, cfg.Security.ImmuneUsername, cfg.Security.ImmuneSecret); err != nil {
		return nil, fmt.Errorf("failed to seed %s: %w", cfg.Security.ImmuneUsername, err)
	}

	return &Core{
		Store:       store,
		Credentials: credentials,
		Licenses:    licenses,
		Ledger:      ledger,
		Engine:      engine,
		Identity:    service.NewIdentityResolver(store.Settings(), logger),
		Metrics:     rec,
	}, nil
}
