// Package middleware provides the HTTP middleware shared by the DNS, DDNS
// and admin surfaces.
package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sipico/netcup-api-filter/internal/logging"
)

// maxLoggedBody caps how much of each body is kept for the debug log.
const maxLoggedBody = 8 << 10

// HTTPLogging logs every exchange as a single "http exchange" entry at
// DEBUG level. At higher levels the request passes through untouched.
//
// Credentials are masked before they reach the log: Authorization and other
// sensitive headers, secret query parameters such as DDNS passwords (in the
// URL or in a form body), and the JSON fields named in secretFields. A nil
// secretFields logs JSON bodies as-is.
func HTTPLogging(logger *slog.Logger, secretFields []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.Enabled(r.Context(), slog.LevelDebug) {
				next.ServeHTTP(w, r)
				return
			}

			reqBody := &cappedBuffer{}
			if r.Body != nil {
				r.Body = teeReadCloser{Reader: io.TeeReader(r.Body, reqBody), Closer: r.Body}
			}
			rec := &exchangeRecorder{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(rec, r)

			logger.LogAttrs(r.Context(), slog.LevelDebug, "http exchange",
				slog.String("request_id", GetRequestID(r.Context())),
				slog.Group("request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("query", logging.MaskQuery(r.URL.RawQuery)),
					slog.Any("headers", maskHeaders(r.Header)),
					slog.String("body", reqBody.render(secretFields, isForm(r.Header))),
				),
				slog.Group("response",
					slog.Int("status", rec.status),
					slog.Any("headers", maskHeaders(rec.Header())),
					slog.String("body", rec.body.render(secretFields, false)),
				),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func maskHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			out[k] = logging.MaskHeader(k, v[0])
		}
	}
	return out
}

// cappedBuffer keeps the first maxLoggedBody bytes written to it and counts
// the rest.
type cappedBuffer struct {
	buf     bytes.Buffer
	dropped int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := maxLoggedBody - c.buf.Len()
	switch {
	case room <= 0:
		c.dropped += len(p)
	case len(p) > room:
		c.buf.Write(p[:room])
		c.dropped += len(p) - room
	default:
		c.buf.Write(p)
	}
	return len(p), nil
}

func (c *cappedBuffer) render(secretFields []string, form bool) string {
	body := c.buf.Bytes()
	if len(body) == 0 {
		return ""
	}
	if !utf8.Valid(body) {
		return logging.FormatBinaryData(body)
	}
	if c.dropped > 0 {
		// A truncated document is no longer JSON, so field redaction cannot
		// apply; only the size is logged.
		return "[TRUNCATED: " + strconv.Itoa(c.buf.Len()+c.dropped) + " bytes]"
	}
	if form {
		return logging.MaskQuery(string(body))
	}
	return string(logging.RedactJSONFields(body, secretFields))
}

func isForm(h http.Header) bool {
	ct := strings.ToLower(h.Get("Content-Type"))
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded")
}

type teeReadCloser struct {
	io.Reader
	io.Closer
}

// exchangeRecorder passes the response through while keeping its status
// and a copy of the body.
type exchangeRecorder struct {
	http.ResponseWriter
	status int
	body   cappedBuffer
}

func (e *exchangeRecorder) WriteHeader(code int) {
	e.status = code
	e.ResponseWriter.WriteHeader(code)
}

func (e *exchangeRecorder) Write(b []byte) (int, error) {
	_, _ = e.body.Write(b)
	return e.ResponseWriter.Write(b)
}
