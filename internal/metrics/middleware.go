package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// numericSegment matches numeric path segments for requests that did not
// go through a chi route.
var numericSegment = regexp.MustCompile(`/(\d+)`)

// Middleware counts every request and observes its latency, labelled by
// method, route and numeric status code. A panicking handler is recorded
// and answered as 500.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			status := ww.Status()
			if recover() != nil {
				if status == 0 {
					ww.WriteHeader(http.StatusInternalServerError)
				}
				status = http.StatusInternalServerError
			}
			if status == 0 {
				// Nothing was written; net/http answers 200.
				status = http.StatusOK
			}

			route := routeLabel(r)
			code := strconv.Itoa(status)
			RecordRequest(r.Method, route, code)
			RecordRequestDuration(r.Method, route, code, time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// routeLabel prefers the matched chi route pattern; hostnames and record
// IDs in raw paths would blow up label cardinality.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath replaces numeric path segments with ":id".
//
//	/admin/api/tokens/123 -> /admin/api/tokens/:id
func normalizePath(path string) string {
	return numericSegment.ReplaceAllString(path, "/:id")
}
