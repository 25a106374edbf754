package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sipico/netcup-api-filter/internal/middleware"
)

// maxBodyBytes bounds record request bodies.
const maxBodyBytes = 64 << 10

// NewRouter creates a Chi router with the record endpoints, meant to be
// mounted at /api/dns. The authMiddleware parameter should be
// auth.Middleware(resolver, clientIP, logger).
func NewRouter(handler *Handler, authMiddleware func(http.Handler) http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.HTTPLogging(logger, nil))
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(authMiddleware)

	r.Get("/{domain}/records", handler.HandleListRecords)
	r.Post("/{domain}/records", handler.HandleUpsertRecord)
	r.Delete("/{domain}/records/{recordID}", handler.HandleDeleteRecord)

	return r
}
