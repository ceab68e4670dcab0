package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/arca-auth/app"
	"github.com/upb/arca-auth/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if timeout := deps.Config.Server.RequestTimeout; timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", deps.HealthHandler.HandleRoot)
	r.Get("/health", deps.HealthHandler.HandleHealth)
	r.Get("/health/ready", deps.HealthHandler.HandleReadiness)

	// Same endpoints under both prefixes; the web client uses /api/auth.
	r.Route("/api/auth", authRoutes(deps))
	r.Route("/auth", authRoutes(deps))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}

func authRoutes(deps *app.Dependencies) func(chi.Router) {
	return func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.Group(func(r chi.Router) {
			if deps.SyncRateLimiter != nil {
				r.Use(deps.SyncRateLimiter.Limit)
			}
			r.Post("/sync-user", deps.AuthHandler.HandleSyncUser)
		})
		r.Get("/user-profile", deps.AuthHandler.HandleUserProfile)
	}
}
