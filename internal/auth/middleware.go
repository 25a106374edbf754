package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Authenticator is implemented by *Resolver.
type Authenticator interface {
	Authenticate(ctx context.Context, raw, sourceIP string) (*Decision, error)
}

// Middleware returns Chi-compatible middleware that authenticates the bearer
// token (steps 1 to 5) and attaches the partial decision to the context.
// Handlers complete it with Resolver.Authorize once the target is known.
func Middleware(a Authenticator, clientIP func(*http.Request) string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// A missing or non-bearer header becomes invalid_format in the resolver.
			raw := ExtractBearerToken(r)

			d, err := a.Authenticate(r.Context(), raw, clientIP(r))
			if err != nil {
				logger.Error("authentication failed with storage error", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !d.Granted {
				writeJSONError(w, d.Code.HTTPStatus(), d.Code.PublicMessage())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), d)))
		})
	}
}

// ExtractBearerToken gets the token from an "Authorization: Bearer <token>" header.
// Any other scheme yields "".
func ExtractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
