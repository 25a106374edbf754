package admin

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sipico/netcup-api-filter/internal/storage"
)

// SetLogLevelRequest is the request body for POST /api/loglevel
type SetLogLevelRequest struct {
	Level string `json:"level"`
}

// HandleSetLogLevel changes runtime log level
// POST /api/loglevel
// Body: {"level": "debug|info|warn|error"}
func (h *Handler) HandleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req SetLogLevelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var level slog.Level
	switch req.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"Invalid level (must be: debug, info, warn, error)")
		return
	}

	h.logLevel.Set(level)
	h.logger.Info("log level changed", "new_level", req.Level)

	writeJSON(w, http.StatusOK, map[string]string{"level": req.Level})
}

// AccountResponse represents an account in API responses
type AccountResponse struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Alias          string    `json:"alias,omitempty"`
	Active         bool      `json:"active"`
	IsAdmin        bool      `json:"is_admin"`
	CreatedAt      time.Time `json:"created_at"`
	RecentFailures *int      `json:"recent_failures,omitempty"`
}

func (h *Handler) accountResponse(a *storage.Account) AccountResponse {
	resp := AccountResponse{
		ID:        a.ID,
		Username:  a.Username,
		Alias:     a.Alias,
		Active:    a.Active,
		IsAdmin:   a.IsAdmin,
		CreatedAt: a.CreatedAt,
	}
	if h.failures != nil {
		n := h.failures.RecentFailures(a.ID)
		resp.RecentFailures = &n
	}
	return resp
}

// CreateAccountRequest is the request body for POST /api/accounts
type CreateAccountRequest struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// HandleCreateAccount creates an account. The alias is assigned when the
// first token is generated.
// POST /api/accounts
func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "username is required")
		return
	}

	account, err := h.storage.CreateAccount(r.Context(), req.Username, req.IsAdmin)
	if err != nil {
		h.writeStorageError(w, "create account", err)
		return
	}

	h.logger.Info("account created", "account_id", account.ID, "username", account.Username)
	writeJSON(w, http.StatusCreated, h.accountResponse(account))
}

// HandleListAccounts returns all accounts
// GET /api/accounts
func (h *Handler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.storage.ListAccounts(r.Context())
	if err != nil {
		h.writeStorageError(w, "list accounts", err)
		return
	}

	response := make([]AccountResponse, len(accounts))
	for i, a := range accounts {
		response[i] = h.accountResponse(a)
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleDeactivateAccount disables an account. Its tokens stop working at
// once; accounts are never deleted.
// POST /api/accounts/{id}/deactivate
func (h *Handler) HandleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.storage.SetAccountActive(r.Context(), id, false); err != nil {
		h.writeStorageError(w, "deactivate account", err)
		return
	}
	account, err := h.storage.GetAccount(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, "get account", err)
		return
	}

	h.logger.Info("account deactivated", "account_id", id)
	writeJSON(w, http.StatusOK, h.accountResponse(account))
}
