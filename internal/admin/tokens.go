package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/storage"
)

// maxGenerateAttempts bounds retries on alias or prefix collisions.
const maxGenerateAttempts = 5

// TokenResponse represents a token in API responses. The hash is never
// returned; the prefix identifies the token in logs and listings.
type TokenResponse struct {
	ID                 int64      `json:"id"`
	RealmID            int64      `json:"realm_id"`
	AccountID          int64      `json:"account_id"`
	Name               string     `json:"name"`
	Prefix             string     `json:"prefix"`
	AllowedRecordTypes []string   `json:"allowed_record_types,omitempty"`
	AllowedOperations  []string   `json:"allowed_operations,omitempty"`
	IPAllowList        []string   `json:"ip_allow_list,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Active             bool       `json:"active"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	LastUsedIP         string     `json:"last_used_ip,omitempty"`
	UseCount           int64      `json:"use_count"`
	CreatedAt          time.Time  `json:"created_at"`
}

func tokenResponse(t *storage.Token) TokenResponse {
	return TokenResponse{
		ID:                 t.ID,
		RealmID:            t.RealmID,
		AccountID:          t.AccountID,
		Name:               t.Name,
		Prefix:             t.Prefix,
		AllowedRecordTypes: t.AllowedRecordTypes,
		AllowedOperations:  t.AllowedOperations,
		IPAllowList:        t.IPAllowList,
		ExpiresAt:          t.ExpiresAt,
		Active:             t.Active,
		LastUsedAt:         t.LastUsedAt,
		LastUsedIP:         t.LastUsedIP,
		UseCount:           t.UseCount,
		CreatedAt:          t.CreatedAt,
	}
}

// CreateTokenRequest is the request body for POST /api/realms/{id}/tokens.
// Omitted scope lists inherit the realm's.
type CreateTokenRequest struct {
	Name               string     `json:"name"`
	AllowedRecordTypes []string   `json:"allowed_record_types,omitempty"`
	AllowedOperations  []string   `json:"allowed_operations,omitempty"`
	IPAllowList        []string   `json:"ip_allow_list,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// CreateTokenResponse includes the token (shown only once)
type CreateTokenResponse struct {
	TokenResponse
	Token string `json:"token"`
}

// HandleCreateToken issues a token for a realm. The account alias is
// assigned on its first token.
// POST /api/realms/{id}/tokens
func (h *Handler) HandleCreateToken(w http.ResponseWriter, r *http.Request) {
	realmID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req CreateTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}
	if err := validateAllowList(req.IPAllowList); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "expires_at must be in the future")
		return
	}

	ctx := r.Context()
	rm, err := h.storage.GetRealm(ctx, realmID)
	if err != nil {
		h.writeStorageError(w, "get realm", err)
		return
	}
	if rm.Status == storage.RealmRejected {
		WriteError(w, http.StatusConflict, ErrCodeInvalidTransition, "realm is rejected")
		return
	}

	scope := auth.Scope{Operations: req.AllowedOperations, RecordTypes: req.AllowedRecordTypes}
	if err := scope.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if err := scope.SubsetOf(auth.RealmScope(rm)); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeScopeViolation, err.Error())
		return
	}

	account, err := h.storage.GetAccount(ctx, rm.AccountID)
	if err != nil {
		h.writeStorageError(w, "get account", err)
		return
	}
	if !account.Active {
		WriteError(w, http.StatusConflict, ErrCodeInvalidTransition, "account is deactivated")
		return
	}
	alias, err := h.ensureAlias(ctx, account)
	if err != nil {
		h.writeStorageError(w, "assign alias", err)
		return
	}

	var (
		raw     string
		created *storage.Token
	)
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		var stored *tokenMaterial
		raw, stored, err = h.generate(alias)
		if err != nil {
			break
		}
		created, err = h.storage.CreateToken(ctx, &storage.Token{
			RealmID:            rm.ID,
			AccountID:          account.ID,
			Name:               req.Name,
			Prefix:             stored.prefix,
			Hash:               stored.hash,
			AllowedRecordTypes: req.AllowedRecordTypes,
			AllowedOperations:  req.AllowedOperations,
			IPAllowList:        req.IPAllowList,
			ExpiresAt:          req.ExpiresAt,
		})
		if !errors.Is(err, storage.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		h.writeStorageError(w, "create token", err)
		return
	}

	h.logger.Info("token created",
		"token_id", created.ID,
		"realm_id", created.RealmID,
		"account_id", created.AccountID,
		"prefix", created.Prefix)
	writeJSON(w, http.StatusCreated, CreateTokenResponse{TokenResponse: tokenResponse(created), Token: raw})
}

// HandleListTokens returns the tokens of a realm
// GET /api/realms/{id}/tokens
func (h *Handler) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	realmID, ok := pathID(w, r)
	if !ok {
		return
	}
	tokens, err := h.storage.ListTokens(r.Context(), realmID)
	if err != nil {
		h.writeStorageError(w, "list tokens", err)
		return
	}

	response := make([]TokenResponse, len(tokens))
	for i, t := range tokens {
		response[i] = tokenResponse(t)
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleRevokeToken permanently deactivates a token.
// POST /api/tokens/{id}/revoke
func (h *Handler) HandleRevokeToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.storage.RevokeToken(r.Context(), id); err != nil {
		h.writeStorageError(w, "revoke token", err)
		return
	}
	t, err := h.storage.GetToken(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, "get token", err)
		return
	}

	h.logger.Info("token revoked", "token_id", id, "prefix", t.Prefix)
	writeJSON(w, http.StatusOK, tokenResponse(t))
}

// HandleRegenerateToken issues a new secret for an active token, keeping
// its scope. The old secret stops working immediately.
// POST /api/tokens/{id}/regenerate
func (h *Handler) HandleRegenerateToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	t, err := h.storage.GetToken(ctx, id)
	if err != nil {
		h.writeStorageError(w, "get token", err)
		return
	}
	if !t.Active {
		h.writeStorageError(w, "regenerate token", storage.ErrTokenRevoked)
		return
	}
	account, err := h.storage.GetAccount(ctx, t.AccountID)
	if err != nil {
		h.writeStorageError(w, "get account", err)
		return
	}
	alias, err := h.ensureAlias(ctx, account)
	if err != nil {
		h.writeStorageError(w, "assign alias", err)
		return
	}

	var raw string
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		var stored *tokenMaterial
		raw, stored, err = h.generate(alias)
		if err != nil {
			break
		}
		err = h.storage.RegenerateToken(ctx, id, stored.prefix, stored.hash)
		if !errors.Is(err, storage.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		h.writeStorageError(w, "regenerate token", err)
		return
	}

	t, err = h.storage.GetToken(ctx, id)
	if err != nil {
		h.writeStorageError(w, "get token", err)
		return
	}
	h.logger.Info("token regenerated", "token_id", id, "prefix", t.Prefix)
	writeJSON(w, http.StatusOK, CreateTokenResponse{TokenResponse: tokenResponse(t), Token: raw})
}

type tokenMaterial struct {
	prefix string
	hash   string
}

func (h *Handler) generate(alias string) (string, *tokenMaterial, error) {
	raw, stored, err := h.codec.Generate(alias)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return raw, &tokenMaterial{prefix: stored.Prefix, hash: stored.Hash}, nil
}

// ensureAlias returns the account alias, assigning a fresh one on first use.
// A concurrent assignment wins and its alias is used.
func (h *Handler) ensureAlias(ctx context.Context, account *storage.Account) (string, error) {
	if account.Alias != "" {
		return account.Alias, nil
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		alias, err := h.codec.NewAlias()
		if err != nil {
			return "", fmt.Errorf("failed to generate alias: %w", err)
		}

		err = h.storage.SetAccountAlias(ctx, account.ID, alias)
		switch {
		case err == nil:
			h.logger.Info("account alias assigned", "account_id", account.ID)
			account.Alias = alias
			return alias, nil
		case errors.Is(err, storage.ErrAliasAssigned):
			current, getErr := h.storage.GetAccount(ctx, account.ID)
			if getErr != nil {
				return "", getErr
			}
			account.Alias = current.Alias
			return current.Alias, nil
		case errors.Is(err, storage.ErrDuplicate):
			continue
		default:
			return "", err
		}
	}
	return "", fmt.Errorf("failed to assign a unique alias after %d attempts: %w", maxGenerateAttempts, storage.ErrDuplicate)
}

// validateAllowList accepts single addresses and CIDR prefixes.
func validateAllowList(entries []string) error {
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if strings.Contains(e, "/") {
			if _, err := netip.ParsePrefix(e); err != nil {
				return fmt.Errorf("invalid ip_allow_list entry %q", e)
			}
			continue
		}
		if _, err := netip.ParseAddr(e); err != nil {
			return fmt.Errorf("invalid ip_allow_list entry %q", e)
		}
	}
	return nil
}
