package admin

import (
	"net/http"
	"time"

	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/realm"
	"github.com/sipico/netcup-api-filter/internal/storage"
)

// RealmResponse represents a realm in API responses
type RealmResponse struct {
	ID                 int64     `json:"id"`
	AccountID          int64     `json:"account_id"`
	DomainRootID       int64     `json:"domain_root_id"`
	Type               string    `json:"type"`
	Value              string    `json:"value"`
	AllowedRecordTypes []string  `json:"allowed_record_types"`
	AllowedOperations  []string  `json:"allowed_operations"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func realmResponse(rm *storage.Realm) RealmResponse {
	return RealmResponse{
		ID:                 rm.ID,
		AccountID:          rm.AccountID,
		DomainRootID:       rm.DomainRootID,
		Type:               string(rm.Type),
		Value:              rm.Value,
		AllowedRecordTypes: rm.AllowedRecordTypes,
		AllowedOperations:  rm.AllowedOperations,
		Status:             rm.Status,
		CreatedAt:          rm.CreatedAt,
		UpdatedAt:          rm.UpdatedAt,
	}
}

// CreateRealmRequest is the request body for POST /api/realms.
// Omitted scope lists default to the domain root's.
type CreateRealmRequest struct {
	AccountID          int64    `json:"account_id"`
	DomainRootID       int64    `json:"domain_root_id"`
	Type               string   `json:"type"`
	Value              string   `json:"value"`
	AllowedRecordTypes []string `json:"allowed_record_types"`
	AllowedOperations  []string `json:"allowed_operations"`
}

// HandleCreateRealm stores a pending realm after validating it against the
// domain root: the value must lie in the zone within the depth limit and
// the scope must not exceed the root's.
// POST /api/realms
func (h *Handler) HandleCreateRealm(w http.ResponseWriter, r *http.Request) {
	var req CreateRealmRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	typ, err := realm.ParseType(req.Type)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "type must be host, subdomain or subdomain_only")
		return
	}
	value, err := realm.Normalize(req.Value)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid realm value")
		return
	}

	ctx := r.Context()
	account, err := h.storage.GetAccount(ctx, req.AccountID)
	if err != nil {
		h.writeStorageError(w, "get account", err)
		return
	}
	if !account.Active {
		WriteError(w, http.StatusConflict, ErrCodeInvalidTransition, "account is deactivated")
		return
	}
	root, err := h.storage.GetDomainRoot(ctx, req.DomainRootID)
	if err != nil {
		h.writeStorageError(w, "get root", err)
		return
	}

	if !realm.InZone(root.Zone, value) {
		WriteError(w, http.StatusBadRequest, ErrCodeScopeViolation, "realm value is outside zone "+root.Zone)
		return
	}
	if !realm.WithinDepth(root.Zone, value, root.MaxSubdomainDepth) {
		WriteError(w, http.StatusBadRequest, ErrCodeScopeViolation, "realm value exceeds the zone's subdomain depth")
		return
	}

	scope := auth.Scope{Operations: req.AllowedOperations, RecordTypes: req.AllowedRecordTypes}
	if scope.Operations == nil {
		scope.Operations = root.AllowedOperations
	}
	if scope.RecordTypes == nil {
		scope.RecordTypes = root.AllowedRecordTypes
	}
	if err := scope.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if err := scope.SubsetOf(auth.RootScope(root)); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeScopeViolation, err.Error())
		return
	}

	created, err := h.storage.CreateRealm(ctx, &storage.Realm{
		AccountID:          account.ID,
		DomainRootID:       root.ID,
		Type:               typ,
		Value:              value,
		AllowedRecordTypes: scope.RecordTypes,
		AllowedOperations:  scope.Operations,
	})
	if err != nil {
		h.writeStorageError(w, "create realm", err)
		return
	}

	h.logger.Info("realm requested",
		"realm_id", created.ID,
		"account_id", created.AccountID,
		"type", string(created.Type),
		"value", created.Value)
	writeJSON(w, http.StatusCreated, realmResponse(created))
}

// HandleListRealms returns the realms of an account
// GET /api/accounts/{id}/realms
func (h *Handler) HandleListRealms(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	realms, err := h.storage.ListRealms(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, "list realms", err)
		return
	}

	response := make([]RealmResponse, len(realms))
	for i, rm := range realms {
		response[i] = realmResponse(rm)
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleApproveRealm approves a pending realm.
// POST /api/realms/{id}/approve
func (h *Handler) HandleApproveRealm(w http.ResponseWriter, r *http.Request) {
	h.setRealmStatus(w, r, storage.RealmApproved)
}

// HandleRejectRealm rejects a pending or approved realm. Its tokens stop
// working at once.
// POST /api/realms/{id}/reject
func (h *Handler) HandleRejectRealm(w http.ResponseWriter, r *http.Request) {
	h.setRealmStatus(w, r, storage.RealmRejected)
}

func (h *Handler) setRealmStatus(w http.ResponseWriter, r *http.Request, status string) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.storage.SetRealmStatus(r.Context(), id, status); err != nil {
		h.writeStorageError(w, "set realm status", err)
		return
	}
	rm, err := h.storage.GetRealm(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, "get realm", err)
		return
	}

	h.logger.Info("realm status changed", "realm_id", id, "status", status)
	writeJSON(w, http.StatusOK, realmResponse(rm))
}
