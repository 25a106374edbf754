package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sipico/netcup-api-filter/internal/storage"
)

// Standard error codes for API responses.
const (
	// ErrCodeInvalidRequest indicates a malformed or incomplete request.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeInvalidCredentials indicates a missing or wrong admin token.
	ErrCodeInvalidCredentials = "invalid_credentials"

	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeConflict indicates a uniqueness violation.
	ErrCodeConflict = "conflict"

	// ErrCodeScopeViolation indicates a scope wider than its parent allows.
	ErrCodeScopeViolation = "scope_violation"

	// ErrCodeInvalidTransition indicates a lifecycle change that is not allowed.
	ErrCodeInvalidTransition = "invalid_transition"

	// ErrCodeBackendUnavailable indicates a failed connection test.
	ErrCodeBackendUnavailable = "backend_unavailable"

	// ErrCodeInternalError indicates a server error.
	ErrCodeInternalError = "internal_error"
)

// APIError is the standard error response format for JSON APIs.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// WriteError writes a JSON error response with the given status code, error code, and message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorWithHint(w, status, code, message, "")
}

// WriteErrorWithHint writes a JSON error response with an optional hint for resolving the error.
func WriteErrorWithHint(w http.ResponseWriter, status int, code, message, hint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // headers are already sent
	json.NewEncoder(w).Encode(APIError{
		Error:   code,
		Message: message,
		Hint:    hint,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // headers are already sent
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON")
		return false
	}
	return true
}

// pathID parses the {id} URL parameter, answering 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}

// writeStorageError maps repository errors to responses.
func (h *Handler) writeStorageError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		WriteError(w, http.StatusNotFound, ErrCodeNotFound, "Resource not found")
	case errors.Is(err, storage.ErrDuplicate):
		WriteError(w, http.StatusConflict, ErrCodeConflict, "Resource already exists")
	case errors.Is(err, storage.ErrInvalidTransition), errors.Is(err, storage.ErrTokenRevoked):
		WriteError(w, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, storage.ErrInUse):
		WriteError(w, http.StatusConflict, ErrCodeConflict, "Resource is in use")
	default:
		h.logger.Error("admin storage operation failed", "op", op, "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "Internal error")
	}
}
