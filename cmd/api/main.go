package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"magicart-access-api/internal/app"
	"magicart-access-api/internal/config"
	"magicart-access-api/internal/handler"
	"magicart-access-api/internal/metrics"
	"magicart-access-api/internal/middleware"
	"magicart-access-api/internal/router"
	"magicart-access-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Log, cfg.App)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting magicart access api",
		slog.String("environment", cfg.App.Environment),
		slog.String("store", cfg.Store.Type),
		slog.String("cache", cfg.Cache.Type),
	)

	store, err := app.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionCache, err := app.OpenCache(cfg)
	if err != nil {
		return err
	}
	defer sessionCache.Close()

	rec := metrics.New()
	core, err := app.NewCore(context.Background(), cfg, store, rec, logger)
	if err != nil {
		return err
	}

	session := service.NewSession(core.Engine, core.Identity, cfg.Policy.VerificationDelay, logger)
	tokens := service.NewTokenService(sessionCache, cfg.Cache.SessionTTL, nil, logger)

	cleanup := service.NewCleanupScheduler(store.Bans(), service.CleanupConfig{
		Retention: cfg.Policy.BanRetention,
		Interval:  cfg.Policy.CleanupInterval,
	}, nil, logger)
	cleanup.Start()
	defer cleanup.Stop()

	validate := handler.NewValidator()
	authCfg := middleware.AuthConfig{
		Tokens:  tokens,
		Session: session,
		Logger:  logger,
	}
	r := router.New(router.Config{
		Handler:        handler.New(store, cfg.App.Version, logger),
		AuthHandler:    handler.NewAuthHandler(session, tokens, validate, logger),
		AccessHandler:  handler.NewAccessHandler(session, validate, logger),
		AdminHandler:   handler.NewAdminHandler(session, core.Engine, cfg.Store.Type, validate, logger),
		AuthMiddleware: middleware.NewAuthMiddleware(authCfg),
		OptionalAuth:   middleware.NewOptionalAuthMiddleware(authCfg),
		AdminGuard:     middleware.RequireAdmin(core.Engine),
		RedeemLimiter:  middleware.NewRateLimiter(cfg.RateLimit.RedeemRPS, cfg.RateLimit.RedeemBurst, logger),
		Metrics:        rec.Handler(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
