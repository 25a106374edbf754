package admin

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sipico/netcup-api-filter/internal/backend"
	"github.com/sipico/netcup-api-filter/internal/storage"
)

// connectionTestTimeout bounds a test-before-save call.
const connectionTestTimeout = 15 * time.Second

// BackendResponse represents a backend service in API responses.
// Credentials are never returned, only the names of the configured settings.
type BackendResponse struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Provider       string    `json:"provider"`
	OwnerAccountID *int64    `json:"owner_account_id,omitempty"`
	SettingKeys    []string  `json:"setting_keys"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func backendResponse(svc *storage.BackendService) BackendResponse {
	keys := make([]string, 0, len(svc.Settings))
	for k := range svc.Settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return BackendResponse{
		ID:             svc.ID,
		Name:           svc.Name,
		Provider:       svc.Provider,
		OwnerAccountID: svc.OwnerAccountID,
		SettingKeys:    keys,
		CreatedAt:      svc.CreatedAt,
		UpdatedAt:      svc.UpdatedAt,
	}
}

// CreateBackendRequest is the request body for POST /api/backends
type CreateBackendRequest struct {
	Name           string            `json:"name"`
	Provider       string            `json:"provider"`
	OwnerAccountID *int64            `json:"owner_account_id,omitempty"`
	Settings       map[string]string `json:"settings"`
}

// HandleCreateBackend tests the connection and stores the backend only if
// the provider accepts the credentials.
// POST /api/backends
func (h *Handler) HandleCreateBackend(w http.ResponseWriter, r *http.Request) {
	var req CreateBackendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Name == "" || req.Provider == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name and provider are required")
		return
	}
	if !slices.Contains(backend.Kinds(), req.Provider) {
		WriteErrorWithHint(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"Unknown provider "+req.Provider,
			"Supported providers: "+strings.Join(backend.Kinds(), ", "))
		return
	}

	if !h.testSettings(r.Context(), w, req.Provider, req.Settings, "backend", req.Name) {
		return
	}

	svc, err := h.storage.CreateBackendService(r.Context(), &storage.BackendService{
		Name:           req.Name,
		Provider:       req.Provider,
		OwnerAccountID: req.OwnerAccountID,
		Settings:       req.Settings,
	})
	if err != nil {
		h.writeStorageError(w, "create backend", err)
		return
	}

	h.logger.Info("backend service created", "backend_id", svc.ID, "name", svc.Name, "provider", svc.Provider)
	writeJSON(w, http.StatusCreated, backendResponse(svc))
}

// HandleListBackends returns all backend services
// GET /api/backends
func (h *Handler) HandleListBackends(w http.ResponseWriter, r *http.Request) {
	services, err := h.storage.ListBackendServices(r.Context())
	if err != nil {
		h.writeStorageError(w, "list backends", err)
		return
	}

	response := make([]BackendResponse, len(services))
	for i, svc := range services {
		response[i] = backendResponse(svc)
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleTestBackend runs a connection test against a stored backend.
// POST /api/backends/{id}/test
func (h *Handler) HandleTestBackend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	svc, err := h.storage.GetBackendService(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, "get backend", err)
		return
	}
	if h.backends == nil {
		WriteError(w, http.StatusServiceUnavailable, ErrCodeBackendUnavailable, "Connection tests are not available")
		return
	}

	adapter, err := h.backends.Build(svc.Provider, svc.Settings, "backend_id", svc.ID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectionTestTimeout)
	defer cancel()

	status, err := adapter.TestConnection(ctx)
	if err != nil {
		h.logger.Warn("backend connection test failed", "backend_id", svc.ID, "error", err)
		WriteError(w, http.StatusBadGateway, ErrCodeBackendUnavailable, string(backend.CodeOf(err)))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// RotateSettingsRequest is the request body for PUT /api/backends/{id}/settings
type RotateSettingsRequest struct {
	Settings map[string]string `json:"settings"`
}

// HandleRotateBackendSettings replaces the credentials of a backend after a
// successful connection test. Cached adapters of the backend are dropped.
// PUT /api/backends/{id}/settings
func (h *Handler) HandleRotateBackendSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RotateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	svc, err := h.storage.GetBackendService(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, "get backend", err)
		return
	}
	if !h.testSettings(r.Context(), w, svc.Provider, req.Settings, "backend_id", id) {
		return
	}

	if err := h.storage.RotateBackendCredentials(r.Context(), id, req.Settings); err != nil {
		h.writeStorageError(w, "rotate backend credentials", err)
		return
	}
	if h.backends != nil {
		h.backends.Forget(id)
	}

	svc, err = h.storage.GetBackendService(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, "get backend", err)
		return
	}
	h.logger.Info("backend credentials rotated", "backend_id", id)
	writeJSON(w, http.StatusOK, backendResponse(svc))
}

// testSettings builds an adapter from settings and checks the connection.
// It writes the error response and returns false when the settings are
// unusable. Without a configured Backends the check is skipped.
func (h *Handler) testSettings(ctx context.Context, w http.ResponseWriter, provider string, settings map[string]string, keysAndValues ...any) bool {
	if h.backends == nil {
		return true
	}

	adapter, err := h.backends.Build(provider, settings, keysAndValues...)
	if err != nil {
		if errors.Is(err, backend.ErrMissingSetting) || errors.Is(err, backend.ErrUnknownKind) {
			WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return false
		}
		h.logger.Error("failed to build backend adapter", "provider", provider, "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "Internal error")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()

	status, err := adapter.TestConnection(ctx)
	if err != nil || !status.OK {
		h.logger.Warn("backend connection test failed", "provider", provider, "error", err)
		message := status.Message
		if err != nil {
			message = string(backend.CodeOf(err))
		}
		WriteErrorWithHint(w, http.StatusBadGateway, ErrCodeBackendUnavailable,
			"Connection test failed: "+message,
			"Check the provider credentials; nothing was saved")
		return false
	}
	return true
}
