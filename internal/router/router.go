package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-account-portal/internal/config"
	"go-account-portal/internal/handler"
	"go-account-portal/internal/middleware"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	User    *handler.UserHandler
	Audit   *handler.AuditHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, handlers Handlers, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	metricsMiddleware := middleware.NewMetricsMiddleware(registry)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(metricsMiddleware.Handler)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	requireAdmin := authMiddleware.RequireRoles("admin")

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/register", handlers.Auth.Register)
			auth.Post("/login", handlers.Auth.Login)
			auth.Post("/refresh", handlers.Auth.Refresh)
			auth.With(authMiddleware.RequireAuth).Post("/logout", handlers.Auth.Logout)
			auth.With(authMiddleware.RequireAuth, requireAdmin).Post("/logout-all", handlers.Auth.LogoutAll)
			auth.With(authMiddleware.RequireAuth).Patch("/change-password", handlers.Auth.ChangePassword)
			auth.With(authMiddleware.RequireAuth).Get("/me", handlers.Auth.Me)
			auth.With(authMiddleware.RequireAuth).Patch("/profile", handlers.Auth.UpdateProfile)
			auth.With(authMiddleware.RequireAuth).Put("/profile/avatar", handlers.Auth.UpdateAvatar)
			auth.With(authMiddleware.RequireAuth).Get("/sessions", handlers.Session.List)
			auth.With(authMiddleware.RequireAuth).Delete("/sessions/{session_id}", handlers.Session.Revoke)
		})

		api.With(authMiddleware.RequireAuth, requireAdmin).Get("/users", handlers.User.List)
		api.With(authMiddleware.RequireAuth, requireAdmin).Get("/users/{user_id}", handlers.User.Get)
		api.With(authMiddleware.RequireAuth, requireAdmin).Patch("/users/{user_id}/role", handlers.User.SetRole)
		api.With(authMiddleware.RequireAuth, requireAdmin).Patch("/users/{user_id}/active", handlers.User.SetActive)
		api.With(authMiddleware.RequireAuth, requireAdmin).Delete("/users/{user_id}", handlers.User.Delete)
		api.With(authMiddleware.RequireAuth).Get("/users/{user_id}/avatar", handlers.User.Avatar)
		api.With(authMiddleware.RequireAuth, requireAdmin).Get("/audit", handlers.Audit.List)
	})

	return r
}
