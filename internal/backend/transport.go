package backend

import (
	"bytes"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"

	"github.com/sipico/netcup-api-filter/internal/logging"
)

// DefaultSecretFields are JSON body fields never logged in clear.
var DefaultSecretFields = []string{
	"apikey", "api_key", "apipassword", "api_password", "apisessionid",
	"password", "secret", "secret_access_key", "token", "api_token",
}

// LoggingTransport wraps an http.RoundTripper and logs upstream traffic at
// debug verbosity (V(1)). Credentials in headers and JSON bodies are redacted.
type LoggingTransport struct {
	Transport    http.RoundTripper
	Log          logr.Logger
	SecretFields []string
}

// NewHTTPClient returns an http.Client whose traffic goes through a
// LoggingTransport. base may be nil.
func NewHTTPClient(log logr.Logger, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &LoggingTransport{
		Transport:    base,
		Log:          log,
		SecretFields: DefaultSecretFields,
	}}
}

// RoundTrip implements http.RoundTripper interface
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	debug := t.Log.V(1)
	if !debug.Enabled() {
		return t.transport().RoundTrip(req)
	}

	start := time.Now()

	var reqBody []byte
	if req.Body != nil {
		var err error
		reqBody, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	debug.Info("upstream request",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"headers", maskHeaders(req.Header),
		"body", t.maskBody(reqBody),
	)

	resp, err := t.transport().RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		debug.Info("upstream request failed",
			"method", req.Method,
			"url", req.URL.Redacted(),
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
		return nil, err
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close() //nolint:errcheck
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	debug.Info("upstream response",
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"headers", maskHeaders(resp.Header),
		"body", t.maskBody(respBody),
	)

	return resp, nil
}

// transport returns the underlying transport or DefaultTransport if nil
func (t *LoggingTransport) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func (t *LoggingTransport) maskBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !utf8.Valid(body) {
		return logging.FormatBinaryData(body)
	}
	return string(logging.RedactJSONFields(body, t.SecretFields))
}

func maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = logging.MaskHeader(k, v[0])
		}
	}
	return out
}
