package router

import (
	"log/slog"
	"net/http"

	"magicart-access-api/internal/handler"
	"magicart-access-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	AuthHandler    *handler.AuthHandler
	AccessHandler  *handler.AccessHandler
	AdminHandler   *handler.AdminHandler
	AuthMiddleware func(http.Handler) http.Handler
	OptionalAuth   func(http.Handler) http.Handler
	AdminGuard     func(http.Handler) http.Handler
	RedeemLimiter  *middleware.RateLimiter
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         *slog.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.NewRecovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLogging(cfg.Logger))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader, middleware.TokenHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// PUBLIC routes
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
		}

		if cfg.AuthHandler != nil {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/register", cfg.AuthHandler.Register)
				r.Post("/login", cfg.AuthHandler.Login)
				r.With(optional(cfg.AuthMiddleware)).Post("/logout", cfg.AuthHandler.Logout)
				r.With(optional(cfg.AuthMiddleware)).Post("/refresh", cfg.AuthHandler.RefreshToken)
			})
		}

		if cfg.AccessHandler != nil {
			// read-only views that also serve anonymous sessions; account
			// state is only shown to the token holder
			r.Group(func(r chi.Router) {
				r.Use(optional(cfg.OptionalAuth))
				r.Get("/ban-status", cfg.AccessHandler.GetBanStatus)
				r.Get("/tools", cfg.AccessHandler.ListTools)
			})
		}

		// AUTHENTICATED routes
		r.Group(func(r chi.Router) {
			r.Use(optional(cfg.AuthMiddleware))

			if cfg.AccessHandler != nil {
				r.Get("/session", cfg.AccessHandler.GetSession)
				r.Post("/tools/{tool}/select", cfg.AccessHandler.SelectTool)

				redeem := r.With()
				if cfg.RedeemLimiter != nil {
					redeem = r.With(cfg.RedeemLimiter.Handler)
				}
				redeem.Post("/keys/redeem", cfg.AccessHandler.RedeemKey)
			}

			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Use(optional(cfg.AdminGuard))
					r.Post("/keys", cfg.AdminHandler.IssueKey)
					r.Post("/bans", cfg.AdminHandler.Ban)
					r.Get("/stats", cfg.AdminHandler.GetStats)
				})
			}
		})
	})

	return r
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
