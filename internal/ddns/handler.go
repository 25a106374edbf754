package ddns

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/miekg/dns"

	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/backend"
	"github.com/sipico/netcup-api-filter/internal/metrics"
	"github.com/sipico/netcup-api-filter/internal/middleware"
	"github.com/sipico/netcup-api-filter/internal/realm"
	"github.com/sipico/netcup-api-filter/internal/storage"
)

// DefaultAutoIPKeywords are the myip values that mean "use my address".
var DefaultAutoIPKeywords = []string{"auto", "public", "detect"}

// Resolver is the part of auth.Resolver the handlers use.
type Resolver interface {
	Authenticate(ctx context.Context, raw, sourceIP string) (*auth.Decision, error)
	Authorize(ctx context.Context, d *auth.Decision, t auth.Target) (*auth.Decision, error)
}

// AdapterSource returns the adapter of a backend service.
type AdapterSource interface {
	Adapter(svc *storage.BackendService) (backend.Adapter, error)
}

// Handler serves the DDNS update endpoints.
type Handler struct {
	resolver Resolver
	adapters AdapterSource
	clientIP func(*http.Request) string
	keywords map[string]bool
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithAutoIPKeywords replaces the myip keywords that trigger address
// detection. An empty myip always does.
func WithAutoIPKeywords(words []string) Option {
	return func(h *Handler) {
		h.keywords = make(map[string]bool, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				h.keywords[w] = true
			}
		}
	}
}

// WithClientIP sets how the caller address is determined.
func WithClientIP(f func(*http.Request) string) Option {
	return func(h *Handler) {
		h.clientIP = f
	}
}

// NewHandler creates a DDNS handler.
// If logger is nil, slog.Default() will be used.
func NewHandler(resolver Resolver, adapters AdapterSource, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		resolver: resolver,
		adapters: adapters,
		clientIP: middleware.ClientIP(true),
		logger:   logger,
	}
	WithAutoIPKeywords(DefaultAutoIPKeywords)(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts GET and POST update endpoints for both protocols.
func (h *Handler) Routes(r chi.Router) {
	for _, p := range []Protocol{DynDNS2, NoIP} {
		path := "/" + p.Name + "/update"
		r.Get(path, h.Update(p))
		r.Post(path, h.Update(p))
	}
}

// Update returns the update handler for one protocol. The reply is always
// 200 text/plain with one line per requested hostname.
func (h *Handler) Update(p Protocol) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lines := h.update(r, p)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck
		w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	}
}

func (h *Handler) update(r *http.Request, p Protocol) []string {
	ctx := r.Context()
	logger := middleware.Logger(ctx, h.logger).With("protocol", p.Name)

	reply := func(res Result, ip string) string {
		metrics.RecordDDNSUpdate(p.Name, res.Label())
		return p.Reply(res, ip)
	}

	// ParseForm covers query parameters and urlencoded POST bodies.
	if err := r.ParseForm(); err != nil {
		return []string{reply(ResultBadHostname, "")}
	}

	sourceIP := h.clientIP(r)
	partial, err := h.resolver.Authenticate(ctx, auth.ExtractBearerToken(r), sourceIP)
	if err != nil {
		logger.Error("ddns authentication failed with storage error", "error", err)
		return []string{reply(ResultUnexpected, "")}
	}
	if !partial.Granted {
		if partial.Code.IsAuthFailure() {
			return []string{reply(ResultBadAuth, "")}
		}
		return []string{reply(ResultNotYours, "")}
	}

	ip, ok := h.targetIP(r.Form.Get("myip"), sourceIP)
	if !ok {
		logger.Debug("ddns request with invalid myip", "myip", r.Form.Get("myip"))
		return []string{reply(ResultBadHostname, "")}
	}

	hostnames := splitHostnames(r.Form.Get("hostname"))
	if len(hostnames) == 0 {
		return []string{reply(ResultBadHostname, "")}
	}

	lines := make([]string, 0, len(hostnames))
	for _, raw := range hostnames {
		res := h.updateOne(ctx, logger, partial, raw, ip)
		lines = append(lines, reply(res, ip.String()))
	}
	return lines
}

// updateOne authorizes and applies the update of a single hostname.
func (h *Handler) updateOne(ctx context.Context, logger *slog.Logger, partial *auth.Decision, raw string, ip netip.Addr) Result {
	hostname, ok := validHostname(raw)
	if !ok {
		return ResultBadHostname
	}

	recordType := "A"
	if ip.Is6() {
		recordType = "AAAA"
	}

	// Setting the address is always an update, whether or not the record exists.
	d, err := h.resolver.Authorize(ctx, partial, auth.Target{
		Hostname:   hostname,
		Operation:  auth.OpUpdate,
		RecordType: recordType,
	})
	if err != nil {
		logger.Error("ddns authorization failed", "hostname", hostname, "error", err)
		return ResultUnexpected
	}
	if !d.Granted {
		return ResultNotYours
	}

	adapter, err := h.adapters.Adapter(d.Backend)
	if err != nil {
		logger.Error("ddns backend unavailable", "backend_id", d.Backend.ID, "error", err)
		return ResultBackendError
	}

	zone := d.Zone()
	records, err := adapter.ListRecords(ctx, zone)
	if err != nil {
		logger.Warn("ddns list failed", "hostname", hostname, "code", string(backend.CodeOf(err)), "error", err)
		return ResultBackendError
	}

	rec := backend.Record{Hostname: hostname, Type: recordType, Destination: ip.String()}
	if existing, found := backend.FindRecord(records, hostname, recordType); found {
		if sameAddress(existing.Destination, ip) {
			return ResultNoChange
		}
		rec.TTL = existing.TTL
	}

	if _, err := adapter.UpsertRecord(ctx, zone, rec); err != nil {
		var be *backend.Error
		if errors.As(err, &be) {
			logger.Warn("ddns upsert failed", "hostname", hostname, "code", string(be.Code), "error", err)
		} else {
			logger.Error("ddns upsert failed", "hostname", hostname, "error", err)
		}
		return ResultBackendError
	}

	logger.Info("ddns record updated",
		"hostname", hostname,
		"type", recordType,
		"ip", ip.String(),
		"token_id", d.Token.ID)
	return ResultGood
}

// targetIP returns the address to register. An empty myip or an auto
// keyword selects the caller's address.
func (h *Handler) targetIP(myip, sourceIP string) (netip.Addr, bool) {
	myip = strings.TrimSpace(myip)
	if myip == "" || h.keywords[strings.ToLower(myip)] {
		myip = sourceIP
	}
	addr, err := netip.ParseAddr(myip)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func splitHostnames(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// validHostname normalizes raw and requires a fully qualified name of at
// least two labels made of letters, digits, hyphens and underscores.
func validHostname(raw string) (string, bool) {
	if labels, ok := dns.IsDomainName(raw); !ok || labels < 2 {
		return "", false
	}
	name, err := realm.Normalize(raw)
	if err != nil {
		return "", false
	}
	for _, label := range dns.SplitDomainName(name) {
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "", false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return "", false
			}
		}
	}
	return name, true
}

func sameAddress(current string, ip netip.Addr) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(current))
	if err != nil {
		return false
	}
	return addr.Unmap() == ip
}
