// Package netcup implements backend.Adapter for the netcup CCP DNS JSON API.
package netcup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/sipico/netcup-api-filter/internal/backend"
	"github.com/sipico/netcup-api-filter/internal/realm"
)

const (
	// DefaultBaseURL is the netcup CCP webservice endpoint.
	DefaultBaseURL = "https://ccp.netcup.net/run/webservice/servers/endpoint.php?JSON"

	provider = "netcup"

	statusSuccess = "success"
	// codeSessionExpired is returned when an apisessionid is no longer valid.
	codeSessionExpired = 4001
	// codeNoRecords is how infoDnsRecords answers for a zone that holds no
	// records yet.
	codeNoRecords = 5029
)

func init() {
	backend.Register(provider, func(log logr.Logger, settings map[string]string) (backend.Adapter, error) {
		return New(log, settings)
	})
}

// Client talks to the netcup CCP API. Every operation runs in its own
// login/logout session.
type Client struct {
	baseURL        string
	customerNumber string
	apiKey         string
	apiPassword    string
	httpClient     *http.Client
	log            logr.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom endpoint (useful for testing with a fake server).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New creates a netcup adapter.
// Required settings: customer_id, api_key, api_password. Optional: api_url.
func New(log logr.Logger, settings map[string]string, opts ...Option) (*Client, error) {
	if err := backend.RequireSettings(provider, settings, "customer_id", "api_key", "api_password"); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:        backend.Setting(settings, "api_url", DefaultBaseURL),
		customerNumber: strings.TrimSpace(settings["customer_id"]),
		apiKey:         strings.TrimSpace(settings["api_key"]),
		apiPassword:    strings.TrimSpace(settings["api_password"]),
		log:            log,
	}
	c.httpClient = backend.NewHTTPClient(log, nil)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// request is the envelope of every CCP call.
type request struct {
	Action string `json:"action"`
	Param  any    `json:"param"`
}

// response is the envelope of every CCP answer.
type response struct {
	ServerRequestID string          `json:"serverrequestid"`
	Action          string          `json:"action"`
	Status          string          `json:"status"`
	StatusCode      int             `json:"statuscode"`
	ShortMessage    string          `json:"shortmessage"`
	LongMessage     string          `json:"longmessage"`
	ResponseData    json.RawMessage `json:"responsedata"`
}

type loginParam struct {
	CustomerNumber string `json:"customernumber"`
	APIKey         string `json:"apikey"`
	APIPassword    string `json:"apipassword"`
}

type sessionParam struct {
	CustomerNumber string     `json:"customernumber"`
	APIKey         string     `json:"apikey"`
	APISessionID   string     `json:"apisessionid"`
	DomainName     string     `json:"domainname,omitempty"`
	RecordSet      *recordSet `json:"dnsrecordset,omitempty"`
}

type recordSet struct {
	Records []dnsRecord `json:"dnsrecords"`
}

// dnsRecord is the CCP record representation. Hostnames are zone-relative.
type dnsRecord struct {
	ID           string `json:"id,omitempty"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
	Priority     string `json:"priority,omitempty"`
	Destination  string `json:"destination"`
	DeleteRecord bool   `json:"deleterecord"`
	State        string `json:"state,omitempty"`
}

// ListRecords implements backend.Adapter.
func (c *Client) ListRecords(ctx context.Context, zone string) ([]backend.Record, error) {
	var out []backend.Record
	err := c.withSession(ctx, "list", func(session string) error {
		records, err := c.infoRecords(ctx, session, zone)
		if err != nil {
			return err
		}
		out = make([]backend.Record, 0, len(records))
		for _, r := range records {
			out = append(out, toRecord(zone, r))
		}
		return nil
	})
	return out, err
}

// UpsertRecord implements backend.Adapter. An existing record with the same
// hostname and type is updated in place, keeping its id.
func (c *Client) UpsertRecord(ctx context.Context, zone string, rec backend.Record) (backend.Record, error) {
	want := fromRecord(zone, rec)

	var out backend.Record
	err := c.withSession(ctx, "upsert", func(session string) error {
		existing, err := c.infoRecords(ctx, session, zone)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if strings.EqualFold(r.Hostname, want.Hostname) && strings.EqualFold(r.Type, want.Type) {
				want.ID = r.ID
				break
			}
		}

		updated, err := c.updateRecords(ctx, session, zone, []dnsRecord{want}, "upsert")
		if err != nil {
			return err
		}
		for _, r := range updated {
			if strings.EqualFold(r.Hostname, want.Hostname) && strings.EqualFold(r.Type, want.Type) {
				out = toRecord(zone, r)
				return nil
			}
		}
		// The API echoes the full record set; a missing entry means it was
		// not applied.
		return backend.Rejected(provider, "upsert", "record %s %s not present after update", rec.Hostname, rec.Type)
	})
	return out, err
}

// DeleteRecord implements backend.Adapter. The CCP API needs the full record
// to delete it, so it is looked up by id first.
func (c *Client) DeleteRecord(ctx context.Context, zone, recordID string) error {
	return c.withSession(ctx, "delete", func(session string) error {
		existing, err := c.infoRecords(ctx, session, zone)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if r.ID == recordID {
				r.DeleteRecord = true
				_, err := c.updateRecords(ctx, session, zone, []dnsRecord{r}, "delete")
				return err
			}
		}
		return backend.NewError(backend.CodeRejected, provider, "delete", backend.ErrRecordNotFound)
	})
}

// TestConnection implements backend.Adapter by opening and closing a session.
func (c *Client) TestConnection(ctx context.Context) (backend.HealthStatus, error) {
	start := time.Now()
	err := c.withSession(ctx, "test", func(string) error { return nil })
	if err != nil {
		return backend.HealthStatus{OK: false, Message: err.Error(), Latency: time.Since(start)}, err
	}
	return backend.HealthStatus{OK: true, Message: "login ok", Latency: time.Since(start)}, nil
}

// withSession logs in, runs fn and logs out. An expired session during fn
// triggers one fresh login.
func (c *Client) withSession(ctx context.Context, op string, fn func(session string) error) error {
	for attempt := 0; ; attempt++ {
		session, err := c.login(ctx, op)
		if err != nil {
			return err
		}

		err = fn(session)
		c.logout(ctx, session)

		if attempt == 0 && isSessionExpired(err) {
			c.log.V(1).Info("netcup session expired, logging in again", "op", op)
			continue
		}
		return err
	}
}

func (c *Client) login(ctx context.Context, op string) (string, error) {
	resp, err := c.call(ctx, op, request{
		Action: "login",
		Param: loginParam{
			CustomerNumber: c.customerNumber,
			APIKey:         c.apiKey,
			APIPassword:    c.apiPassword,
		},
	})
	if err != nil {
		return "", err
	}

	var data struct {
		APISessionID string `json:"apisessionid"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil || data.APISessionID == "" {
		return "", backend.NewError(backend.CodeUnreachable, provider, op, fmt.Errorf("login: missing session id"))
	}
	return data.APISessionID, nil
}

func (c *Client) logout(ctx context.Context, session string) {
	// Sessions expire on their own; a failed logout is only logged.
	_, err := c.call(context.WithoutCancel(ctx), "logout", request{
		Action: "logout",
		Param: sessionParam{
			CustomerNumber: c.customerNumber,
			APIKey:         c.apiKey,
			APISessionID:   session,
		},
	})
	if err != nil {
		c.log.V(1).Info("netcup logout failed", "error", err.Error())
	}
}

func (c *Client) infoRecords(ctx context.Context, session, zone string) ([]dnsRecord, error) {
	resp, err := c.call(ctx, "list", request{
		Action: "infoDnsRecords",
		Param: sessionParam{
			CustomerNumber: c.customerNumber,
			APIKey:         c.apiKey,
			APISessionID:   session,
			DomainName:     zone,
		},
	})
	if hasStatus(err, codeNoRecords) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecordSet(resp.ResponseData, "list")
}

func (c *Client) updateRecords(ctx context.Context, session, zone string, records []dnsRecord, op string) ([]dnsRecord, error) {
	resp, err := c.call(ctx, op, request{
		Action: "updateDnsRecords",
		Param: sessionParam{
			CustomerNumber: c.customerNumber,
			APIKey:         c.apiKey,
			APISessionID:   session,
			DomainName:     zone,
			RecordSet:      &recordSet{Records: records},
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeRecordSet(resp.ResponseData, op)
}

func decodeRecordSet(raw json.RawMessage, op string) ([]dnsRecord, error) {
	// An empty zone comes back with empty responsedata.
	if len(raw) == 0 || string(raw) == `""` || string(raw) == "null" {
		return nil, nil
	}
	var set recordSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, backend.NewError(backend.CodeUnreachable, provider, op, fmt.Errorf("failed to decode records: %w", err))
	}
	return set.Records, nil
}

// call posts one action and checks both the HTTP and the CCP status.
func (c *Client) call(ctx context.Context, op string, body request) (*response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, backend.NewError(backend.CodeRejected, provider, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, backend.NewError(backend.CodeRejected, provider, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

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
	if resp.StatusCode != http.StatusOK {
		return nil, backend.StatusError(provider, op, resp.StatusCode, data)
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, backend.NewError(backend.CodeUnreachable, provider, op, fmt.Errorf("failed to decode response: %w", err))
	}
	if out.Status != statusSuccess {
		return nil, parseError(op, &out)
	}
	return &out, nil
}

// apiError carries the CCP status code for session handling.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("netcup: %d: %s", e.StatusCode, e.Message)
}

// parseError maps a CCP error envelope. CCP answers 4xxx for invalid
// requests and 5xxx for server side failures.
func parseError(op string, r *response) error {
	msg := r.LongMessage
	if msg == "" {
		msg = r.ShortMessage
	}
	code := backend.CodeRejected
	if r.StatusCode >= 5000 {
		code = backend.CodeUnreachable
	}
	return backend.NewError(code, provider, op, &apiError{StatusCode: r.StatusCode, Message: msg})
}

func isSessionExpired(err error) bool {
	return hasStatus(err, codeSessionExpired)
}

func hasStatus(err error, code int) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.StatusCode == code
}

func toRecord(zone string, r dnsRecord) backend.Record {
	rec := backend.Record{
		ID:          r.ID,
		Hostname:    realm.Absolute(zone, r.Hostname),
		Type:        strings.ToUpper(r.Type),
		Destination: r.Destination,
	}
	if p, err := strconv.Atoi(r.Priority); err == nil && (rec.Type == "MX" || rec.Type == "SRV") {
		rec.Priority = &p
	}
	return rec
}

func fromRecord(zone string, rec backend.Record) dnsRecord {
	r := dnsRecord{
		Hostname:    realm.Relative(zone, rec.Hostname),
		Type:        strings.ToUpper(rec.Type),
		Destination: rec.Destination,
	}
	if rec.Priority != nil {
		r.Priority = strconv.Itoa(*rec.Priority)
	}
	return r
}
