package admin

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sipico/netcup-api-filter/internal/middleware"
)

// secretFields are redacted from debug logs of admin request and response bodies.
var secretFields = []string{"settings", "token"}

// NewRouter creates the admin router, meant to be mounted at /admin.
func (h *Handler) NewRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)

	// Public endpoints (no auth)
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.HTTPLogging(h.logger, secretFields))
		r.Use(middleware.MaxBodySize(1 << 20))
		r.Use(h.TokenAuthMiddleware)

		r.Post("/loglevel", h.HandleSetLogLevel)

		r.Get("/accounts", h.HandleListAccounts)
		r.Post("/accounts", h.HandleCreateAccount)
		r.Post("/accounts/{id}/deactivate", h.HandleDeactivateAccount)
		r.Get("/accounts/{id}/realms", h.HandleListRealms)

		r.Get("/backends", h.HandleListBackends)
		r.Post("/backends", h.HandleCreateBackend)
		r.Post("/backends/{id}/test", h.HandleTestBackend)
		r.Put("/backends/{id}/settings", h.HandleRotateBackendSettings)

		r.Get("/roots", h.HandleListRoots)
		r.Post("/roots", h.HandleCreateRoot)

		r.Post("/realms", h.HandleCreateRealm)
		r.Post("/realms/{id}/approve", h.HandleApproveRealm)
		r.Post("/realms/{id}/reject", h.HandleRejectRealm)
		r.Get("/realms/{id}/tokens", h.HandleListTokens)
		r.Post("/realms/{id}/tokens", h.HandleCreateToken)

		r.Post("/tokens/{id}/revoke", h.HandleRevokeToken)
		r.Post("/tokens/{id}/regenerate", h.HandleRegenerateToken)
	})

	return r
}
