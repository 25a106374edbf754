// Package api implements the token-authenticated JSON DNS API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/miekg/dns"

	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/backend"
	"github.com/sipico/netcup-api-filter/internal/middleware"
	"github.com/sipico/netcup-api-filter/internal/realm"
	"github.com/sipico/netcup-api-filter/internal/storage"
)

// Resolver completes the partial decision attached by auth.Middleware.
type Resolver interface {
	Authorize(ctx context.Context, d *auth.Decision, t auth.Target) (*auth.Decision, error)
	AuthorizeList(ctx context.Context, d *auth.Decision) (*auth.Decision, error)
	Deny(d *auth.Decision, t auth.Target, code auth.ErrorCode) *auth.Decision
}

// AdapterSource returns the adapter of a backend service.
type AdapterSource interface {
	Adapter(svc *storage.BackendService) (backend.Adapter, error)
}

// RecordRequest is the body of a create or update.
type RecordRequest struct {
	Hostname    string `json:"hostname"`
	Type        string `json:"type"`
	Destination string `json:"destination"`
	TTL         int    `json:"ttl,omitempty"`
	Priority    *int   `json:"priority,omitempty"`
}

// Handler serves the record endpoints.
type Handler struct {
	resolver Resolver
	adapters AdapterSource
	logger   *slog.Logger
}

// NewHandler creates a new DNS API handler.
// If logger is nil, slog.Default() will be used.
func NewHandler(resolver Resolver, adapters AdapterSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		resolver: resolver,
		adapters: adapters,
		logger:   logger,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDenial answers a denied decision with the generic message of its code.
func writeDenial(w http.ResponseWriter, d *auth.Decision) {
	writeError(w, d.Code.HTTPStatus(), d.Code.PublicMessage())
}

// handleBackendError maps adapter failures to responses. The upstream body
// only goes to the log.
func handleBackendError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, backend.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	code := auth.ErrorCode(backend.CodeOf(err))
	logger.Warn("backend call failed", "code", string(code), "error", err)
	writeError(w, code.HTTPStatus(), code.PublicMessage())
}

// decision returns the authenticated decision and checks that the {domain}
// URL parameter names the realm's zone. It writes the response and returns
// nil when the request cannot proceed.
func (h *Handler) decision(w http.ResponseWriter, r *http.Request, op auth.Operation) *auth.Decision {
	d := auth.DecisionFromContext(r.Context())
	if d == nil {
		h.logger.Error("record handler reached without authentication")
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}

	domain, err := realm.Normalize(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid domain")
		return nil
	}
	if domain != d.Zone() {
		writeDenial(w, h.resolver.Deny(d, auth.Target{Hostname: domain, Operation: op}, auth.CodeDomainDenied))
		return nil
	}
	return d
}

// HandleListRecords returns the records of the zone the token may read.
func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.Logger(ctx, h.logger)

	partial := h.decision(w, r, auth.OpRead)
	if partial == nil {
		return
	}

	d, err := h.resolver.AuthorizeList(ctx, partial)
	if err != nil {
		logger.Error("authorization failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !d.Granted {
		writeDenial(w, d)
		return
	}

	adapter, err := h.adapters.Adapter(d.Backend)
	if err != nil {
		handleBackendError(w, logger, err)
		return
	}
	records, err := adapter.ListRecords(ctx, d.Zone())
	if err != nil {
		handleBackendError(w, logger, err)
		return
	}

	visible := make([]backend.Record, 0, len(records))
	for _, rec := range records {
		if d.Permits(auth.Target{Hostname: rec.Hostname, Operation: auth.OpRead, RecordType: rec.Type}) == auth.CodeNone {
			visible = append(visible, rec)
		}
	}

	logger.Info("list records", "zone", d.Zone(), "token_id", d.Token.ID, "count", len(visible))
	writeJSON(w, http.StatusOK, visible)
}

// HandleUpsertRecord creates the record, or updates it when one with the
// same hostname and type exists. The operation checked is create or update
// accordingly.
func (h *Handler) HandleUpsertRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.Logger(ctx, h.logger)

	partial := h.decision(w, r, auth.OpCreate)
	if partial == nil {
		return
	}

	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := req.record(partial.Zone())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Out-of-realm names are denied before the backend is contacted.
	target := auth.Target{Hostname: rec.Hostname, Operation: auth.OpCreate, RecordType: rec.Type}
	if partial.Permits(target) == auth.CodeDomainDenied {
		writeDenial(w, h.resolver.Deny(partial, target, auth.CodeDomainDenied))
		return
	}

	adapter, err := h.adapters.Adapter(partial.Backend)
	if err != nil {
		handleBackendError(w, logger, err)
		return
	}
	records, err := adapter.ListRecords(ctx, partial.Zone())
	if err != nil {
		handleBackendError(w, logger, err)
		return
	}
	_, exists := backend.FindRecord(records, rec.Hostname, rec.Type)
	if exists {
		target.Operation = auth.OpUpdate
	}

	d, err := h.resolver.Authorize(ctx, partial, target)
	if err != nil {
		logger.Error("authorization failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !d.Granted {
		writeDenial(w, d)
		return
	}

	saved, err := adapter.UpsertRecord(ctx, d.Zone(), rec)
	if err != nil {
		handleBackendError(w, logger, err)
		return
	}

	logger.Info("upsert record",
		"zone", d.Zone(),
		"hostname", rec.Hostname,
		"type", rec.Type,
		"operation", string(target.Operation),
		"token_id", d.Token.ID)

	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, saved)
}

// HandleDeleteRecord removes a record by its provider ID. The delete
// operation is checked against the record's hostname and type.
func (h *Handler) HandleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.Logger(ctx, h.logger)

	partial := h.decision(w, r, auth.OpDelete)
	if partial == nil {
		return
	}

	recordID := chi.URLParam(r, "recordID")
	if recordID == "" {
		writeError(w, http.StatusBadRequest, "missing record ID")
		return
	}

	adapter, err := h.adapters.Adapter(partial.Backend)
	if err != nil {
		handleBackendError(w, logger, err)
		return
	}
	records, err := adapter.ListRecords(ctx, partial.Zone())
	if err != nil {
		handleBackendError(w, logger, err)
		return
	}

	var target *backend.Record
	for i := range records {
		if records[i].ID == recordID {
			target = &records[i]
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}

	d, err := h.resolver.Authorize(ctx, partial, auth.Target{
		Hostname:   target.Hostname,
		Operation:  auth.OpDelete,
		RecordType: target.Type,
	})
	if err != nil {
		logger.Error("authorization failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !d.Granted {
		writeDenial(w, d)
		return
	}

	if err := adapter.DeleteRecord(ctx, d.Zone(), recordID); err != nil {
		handleBackendError(w, logger, err)
		return
	}

	logger.Info("delete record",
		"zone", d.Zone(),
		"hostname", target.Hostname,
		"type", target.Type,
		"record_id", recordID,
		"token_id", d.Token.ID)
	w.WriteHeader(http.StatusNoContent)
}

var errMissingField = errors.New("hostname, type and destination are required")

// record validates the request and converts it to an adapter record.
// "@" and relative names are taken relative to zone.
func (req RecordRequest) record(zone string) (backend.Record, error) {
	if strings.TrimSpace(req.Hostname) == "" || strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Destination) == "" {
		return backend.Record{}, errMissingField
	}

	hostname, err := realm.Normalize(realm.Absolute(zone, strings.TrimSpace(req.Hostname)))
	if err != nil {
		return backend.Record{}, errors.New("invalid hostname")
	}

	recordType := strings.ToUpper(strings.TrimSpace(req.Type))
	if _, ok := dns.StringToType[recordType]; !ok {
		return backend.Record{}, errors.New("invalid record type")
	}
	if req.TTL < 0 {
		return backend.Record{}, errors.New("invalid ttl")
	}

	return backend.Record{
		Hostname:    hostname,
		Type:        recordType,
		Destination: strings.TrimSpace(req.Destination),
		TTL:         req.TTL,
		Priority:    req.Priority,
	}, nil
}
