// Package cloudflare implements backend.Adapter for the Cloudflare v4 API.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/sipico/netcup-api-filter/internal/backend"
)

const (
	// DefaultBaseURL is the Cloudflare v4 API root.
	DefaultBaseURL = "https://api.cloudflare.com/client/v4"

	provider = "cloudflare"
	// autoTTL is Cloudflare's "automatic" TTL.
	autoTTL = 1
	perPage = 100
)

func init() {
	backend.Register(provider, func(log logr.Logger, settings map[string]string) (backend.Adapter, error) {
		return New(log, settings)
	})
}

// Client talks to Cloudflare with a scoped API token.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	log        logr.Logger

	// zoneIDs caches zone name to id lookups. A configured zone_id is
	// used for every zone.
	mu      sync.Mutex
	zoneID  string
	zoneIDs map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New creates a Cloudflare adapter.
// Required settings: api_token. Optional: zone_id, api_url.
func New(log logr.Logger, settings map[string]string, opts ...Option) (*Client, error) {
	if err := backend.RequireSettings(provider, settings, "api_token"); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:  strings.TrimSuffix(backend.Setting(settings, "api_url", DefaultBaseURL), "/"),
		apiToken: strings.TrimSpace(settings["api_token"]),
		zoneID:   strings.TrimSpace(settings["zone_id"]),
		zoneIDs:  make(map[string]string),
		log:      log,
	}
	c.httpClient = backend.NewHTTPClient(log, nil)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// envelope is the common v4 response wrapper.
type envelope struct {
	Success    bool            `json:"success"`
	Errors     []apiMessage    `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *resultInfo     `json:"result_info,omitempty"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type resultInfo struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
}

type dnsRecord struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl,omitempty"`
	Priority *int   `json:"priority,omitempty"`
}

// ListRecords implements backend.Adapter, following pagination.
func (c *Client) ListRecords(ctx context.Context, zone string) ([]backend.Record, error) {
	zoneID, err := c.resolveZone(ctx, zone, "list")
	if err != nil {
		return nil, err
	}
	all, err := c.listAll(ctx, zoneID, nil, "list")
	if err != nil {
		return nil, err
	}

	out := make([]backend.Record, 0, len(all))
	for _, r := range all {
		out = append(out, toRecord(r))
	}
	return out, nil
}

// UpsertRecord implements backend.Adapter: PUT over an existing record of
// the same name and type, POST otherwise.
func (c *Client) UpsertRecord(ctx context.Context, zone string, rec backend.Record) (backend.Record, error) {
	zoneID, err := c.resolveZone(ctx, zone, "upsert")
	if err != nil {
		return backend.Record{}, err
	}

	want := dnsRecord{
		Name:     strings.ToLower(strings.TrimSuffix(rec.Hostname, ".")),
		Type:     strings.ToUpper(rec.Type),
		Content:  rec.Destination,
		TTL:      rec.TTL,
		Priority: rec.Priority,
	}
	if want.TTL <= 0 {
		want.TTL = autoTTL
	}

	query := url.Values{"name": {want.Name}, "type": {want.Type}}
	existing, err := c.listAll(ctx, zoneID, query, "upsert")
	if err != nil {
		return backend.Record{}, err
	}

	method, path := http.MethodPost, "/zones/"+url.PathEscape(zoneID)+"/dns_records"
	if len(existing) > 0 {
		method, path = http.MethodPut, path+"/"+url.PathEscape(existing[0].ID)
	}

	var saved dnsRecord
	if err := c.do(ctx, method, path, want, &saved, "upsert"); err != nil {
		return backend.Record{}, err
	}
	return toRecord(saved), nil
}

// DeleteRecord implements backend.Adapter.
func (c *Client) DeleteRecord(ctx context.Context, zone, recordID string) error {
	zoneID, err := c.resolveZone(ctx, zone, "delete")
	if err != nil {
		return err
	}
	path := "/zones/" + url.PathEscape(zoneID) + "/dns_records/" + url.PathEscape(recordID)
	err = c.do(ctx, http.MethodDelete, path, nil, nil, "delete")
	var be *backend.Error
	if errors.As(err, &be) && be.Status == http.StatusNotFound {
		return backend.NewError(backend.CodeRejected, provider, "delete", backend.ErrRecordNotFound)
	}
	return err
}

// TestConnection implements backend.Adapter via the token verify endpoint.
func (c *Client) TestConnection(ctx context.Context) (backend.HealthStatus, error) {
	start := time.Now()

	var result struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/user/tokens/verify", nil, &result, "test"); err != nil {
		return backend.HealthStatus{OK: false, Message: err.Error(), Latency: time.Since(start)}, err
	}
	if result.Status != "active" {
		err := backend.Rejected(provider, "test", "token status %q", result.Status)
		return backend.HealthStatus{OK: false, Message: err.Error(), Latency: time.Since(start)}, err
	}
	return backend.HealthStatus{OK: true, Message: "token active", Latency: time.Since(start)}, nil
}

func (c *Client) resolveZone(ctx context.Context, zone, op string) (string, error) {
	if c.zoneID != "" {
		return c.zoneID, nil
	}
	zone = strings.ToLower(strings.TrimSuffix(zone, "."))

	c.mu.Lock()
	id, ok := c.zoneIDs[zone]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var zones []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/zones?"+url.Values{"name": {zone}}.Encode(), nil, &zones, op); err != nil {
		return "", err
	}
	if len(zones) == 0 {
		return "", backend.Rejected(provider, op, "zone %q not found", zone)
	}

	c.mu.Lock()
	c.zoneIDs[zone] = zones[0].ID
	c.mu.Unlock()
	return zones[0].ID, nil
}

func (c *Client) listAll(ctx context.Context, zoneID string, query url.Values, op string) ([]dnsRecord, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(perPage))

	var all []dnsRecord
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		path := "/zones/" + url.PathEscape(zoneID) + "/dns_records?" + query.Encode()

		var batch []dnsRecord
		env, err := c.call(ctx, http.MethodGet, path, nil, &batch, op)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)

		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
			return all, nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, op string) error {
	_, err := c.call(ctx, method, path, in, out, op)
	return err
}

func (c *Client) call(ctx context.Context, method, path string, in, out any, op string) (*envelope, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, backend.NewError(backend.CodeRejected, provider, op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, backend.NewError(backend.CodeRejected, provider, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, backend.Classify(provider, op, err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Classify(provider, op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(op, resp.StatusCode, &env, data)
	}
	if decodeErr != nil {
		return nil, backend.NewError(backend.CodeUnreachable, provider, op, fmt.Errorf("failed to decode response: %w", decodeErr))
	}
	if !env.Success {
		return nil, parseError(op, http.StatusBadRequest, &env, data)
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, backend.NewError(backend.CodeUnreachable, provider, op, fmt.Errorf("failed to decode result: %w", err))
		}
	}
	return &env, nil
}

// parseError joins the envelope's error messages when present.
func parseError(op string, status int, env *envelope, raw []byte) *backend.Error {
	if len(env.Errors) > 0 {
		msgs := make([]string, 0, len(env.Errors))
		for _, e := range env.Errors {
			msgs = append(msgs, fmt.Sprintf("%d: %s", e.Code, e.Message))
		}
		raw = []byte(strings.Join(msgs, "; "))
	}
	return backend.StatusError(provider, op, status, raw)
}

func toRecord(r dnsRecord) backend.Record {
	rec := backend.Record{
		ID:          r.ID,
		Hostname:    strings.ToLower(r.Name),
		Type:        strings.ToUpper(r.Type),
		Destination: r.Content,
		TTL:         r.TTL,
	}
	if r.TTL == autoTTL {
		rec.TTL = 0
	}
	if r.Priority != nil && (rec.Type == "MX" || rec.Type == "SRV") {
		p := *r.Priority
		rec.Priority = &p
	}
	return rec
}
