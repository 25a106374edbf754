package admin

import (
	"net/http"
	"time"

	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/realm"
	"github.com/sipico/netcup-api-filter/internal/storage"
)

// RootResponse represents a domain root in API responses
type RootResponse struct {
	ID                 int64     `json:"id"`
	Zone               string    `json:"zone"`
	BackendServiceID   int64     `json:"backend_service_id"`
	Visibility         string    `json:"visibility"`
	MaxSubdomainDepth  int       `json:"max_subdomain_depth"`
	AllowedRecordTypes []string  `json:"allowed_record_types"`
	AllowedOperations  []string  `json:"allowed_operations"`
	CreatedAt          time.Time `json:"created_at"`
}

func rootResponse(root *storage.DomainRoot) RootResponse {
	return RootResponse{
		ID:                 root.ID,
		Zone:               root.Zone,
		BackendServiceID:   root.BackendServiceID,
		Visibility:         root.Visibility,
		MaxSubdomainDepth:  root.MaxSubdomainDepth,
		AllowedRecordTypes: root.AllowedRecordTypes,
		AllowedOperations:  root.AllowedOperations,
		CreatedAt:          root.CreatedAt,
	}
}

// CreateRootRequest is the request body for POST /api/roots
type CreateRootRequest struct {
	Zone               string   `json:"zone"`
	BackendServiceID   int64    `json:"backend_service_id"`
	Visibility         string   `json:"visibility"`
	MaxSubdomainDepth  int      `json:"max_subdomain_depth"`
	AllowedRecordTypes []string `json:"allowed_record_types"`
	AllowedOperations  []string `json:"allowed_operations"`
}

// HandleCreateRoot binds a zone to a backend service and sets the policy
// envelope realms under it are validated against.
// POST /api/roots
func (h *Handler) HandleCreateRoot(w http.ResponseWriter, r *http.Request) {
	var req CreateRootRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	zone, err := realm.Normalize(req.Zone)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid zone")
		return
	}
	if req.BackendServiceID <= 0 {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "backend_service_id is required")
		return
	}
	if req.MaxSubdomainDepth < 0 {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "max_subdomain_depth cannot be negative")
		return
	}
	if req.Visibility == "" {
		req.Visibility = storage.VisibilityPublic
	}
	if req.Visibility != storage.VisibilityPublic && req.Visibility != storage.VisibilityPrivate {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "visibility must be public or private")
		return
	}

	scope := auth.Scope{Operations: req.AllowedOperations, RecordTypes: req.AllowedRecordTypes}
	if len(scope.Operations) == 0 || len(scope.RecordTypes) == 0 {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "allowed_operations and allowed_record_types are required")
		return
	}
	if err := scope.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if _, err := h.storage.GetBackendService(r.Context(), req.BackendServiceID); err != nil {
		h.writeStorageError(w, "get backend", err)
		return
	}

	root, err := h.storage.CreateDomainRoot(r.Context(), &storage.DomainRoot{
		Zone:               zone,
		BackendServiceID:   req.BackendServiceID,
		Visibility:         req.Visibility,
		MaxSubdomainDepth:  req.MaxSubdomainDepth,
		AllowedRecordTypes: req.AllowedRecordTypes,
		AllowedOperations:  req.AllowedOperations,
	})
	if err != nil {
		h.writeStorageError(w, "create root", err)
		return
	}

	h.logger.Info("domain root created", "root_id", root.ID, "zone", root.Zone, "backend_id", root.BackendServiceID)
	writeJSON(w, http.StatusCreated, rootResponse(root))
}

// HandleListRoots returns all domain roots
// GET /api/roots
func (h *Handler) HandleListRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := h.storage.ListDomainRoots(r.Context())
	if err != nil {
		h.writeStorageError(w, "list roots", err)
		return
	}

	response := make([]RootResponse, len(roots))
	for i, root := range roots {
		response[i] = rootResponse(root)
	}
	writeJSON(w, http.StatusOK, response)
}
