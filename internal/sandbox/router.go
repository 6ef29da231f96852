package sandbox

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-session-client/internal/config"
	"go-session-client/internal/middleware"
)

// NewRouter mounts the sandbox endpoints. /metrics is mounted only when reg is non-nil.
func NewRouter(cfg *config.SandboxConfig, service *Service, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	authMiddleware := middleware.NewAuthMiddleware(service)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	h := NewHandler(service)

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.Metrics(registerer))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", h.Login)
			auth.Post("/refresh", h.Refresh)
		})

		api.Group(func(protected chi.Router) {
			protected.Use(authMiddleware.RequireAuth)

			protected.Get("/users/me", h.Me)
			protected.Get("/users/me/security-settings", h.GetSecuritySettings)
			protected.Put("/users/me/security-settings", h.UpdateSecuritySettings)
			protected.Get("/events", h.Activities)

			protected.With(authMiddleware.RequireRoles(RoleAdmin)).Post("/users/{id}/deactivate", h.Deactivate)
			protected.With(authMiddleware.RequireRoles(RoleAdmin)).Post("/users/{id}/revoke-sessions", h.RevokeSessions)
		})
	})

	return r
}
