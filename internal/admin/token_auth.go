package admin

import (
	"net/http"

	"github.com/sipico/netcup-api-filter/internal/auth"
)

// TokenAuthMiddleware validates the admin bearer token configured through
// ADMIN_TOKEN.
func (h *Handler) TokenAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := auth.ExtractBearerToken(r)
		if presented == "" {
			WriteErrorWithHint(w, http.StatusUnauthorized, ErrCodeInvalidCredentials,
				"Missing admin token",
				"Send the admin token as 'Authorization: Bearer <token>'")
			return
		}

		if h.adminKey == nil || !h.adminKey.Matches(presented) {
			h.logger.Warn("invalid admin token attempt", "remote_addr", r.RemoteAddr)
			WriteError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
