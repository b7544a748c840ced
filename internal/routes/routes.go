package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/rpiotaix/userbundle/internal/auth"
	"github.com/rpiotaix/userbundle/internal/handlers"
	"github.com/rpiotaix/userbundle/internal/middleware"
	"github.com/rpiotaix/userbundle/internal/models"
)

// Dependencies bundles what the route table needs
type Dependencies struct {
	AuthHandler    *handlers.AuthHandler
	AccountHandler *handlers.AccountHandler
	GroupHandler   *handlers.GroupHandler
	TokenManager   *auth.TokenManager
	Accounts       auth.AccountFetcher
	AuthRateLimit  middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	// Public routes - no authentication required, limited per client IP
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.AuthRateLimit))

		r.Post("/auth/register", deps.AuthHandler.Register)
		r.Post("/auth/login", deps.AuthHandler.Login)

		r.Post("/auth/confirm/resend", deps.AuthHandler.ResendConfirmation)
		r.Get("/auth/confirm/{token}", deps.AuthHandler.Confirm)

		r.Post("/auth/reset", deps.AuthHandler.RequestReset)
		r.Get("/auth/reset/{token}", deps.AuthHandler.GetReset)
		r.Post("/auth/reset/{token}", deps.AuthHandler.CompleteReset)
		r.Delete("/auth/reset/{token}", deps.AuthHandler.CancelReset)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager))

		r.Get("/accounts/me", deps.AccountHandler.GetMe)
		r.With(middleware.RateLimitByAccount(deps.AuthRateLimit)).
			Post("/accounts/me/password", deps.AccountHandler.ChangePassword)
		r.Get("/accounts/{id}", deps.AccountHandler.GetAccount)
		r.Get("/accounts/username/{username}", deps.AccountHandler.GetAccountByUsername)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Accounts, models.RoleAdmin))
			r.Get("/accounts", deps.AccountHandler.ListAccounts)
			r.Put("/accounts/{id}", deps.AccountHandler.UpdateAccount)

			r.Post("/groups", deps.GroupHandler.CreateGroup)
			r.Get("/groups", deps.GroupHandler.ListGroups)
			r.Get("/groups/{id}", deps.GroupHandler.GetGroup)
			r.Put("/groups/{id}", deps.GroupHandler.UpdateGroup)
		})
	})
}
