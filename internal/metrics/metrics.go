// Package metrics provides Prometheus metrics collection for the filter proxy.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "naf"
	subsystem = "proxy"
)

// Version is reported by the info gauge. It is set at link time.
var Version = "dev"

var (
	// Global metrics, stored in atomics so the Record functions are safe to
	// call before Init and from any goroutine.
	requestsTotal        atomic.Pointer[prometheus.CounterVec]
	requestDuration      atomic.Pointer[prometheus.HistogramVec]
	authOutcomesTotal    atomic.Pointer[prometheus.CounterVec]
	backendCallsTotal    atomic.Pointer[prometheus.CounterVec]
	backendCallDuration  atomic.Pointer[prometheus.HistogramVec]
	securityPatternTotal atomic.Pointer[prometheus.CounterVec]
	ddnsUpdatesTotal     atomic.Pointer[prometheus.CounterVec]
)

// Init initializes all Prometheus metrics and registers them with the provided registry.
// This should be called once at application startup.
func Init(reg prometheus.Registerer) error {
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestsTotalVec); err != nil {
		return fmt.Errorf("failed to register requestsTotal: %w", err)
	}

	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestDurationVec); err != nil {
		return fmt.Errorf("failed to register requestDuration: %w", err)
	}

	// One series per error code plus "granted".
	authOutcomesVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_outcomes_total",
			Help:      "Authorization decisions by outcome code",
		},
		[]string{"outcome"},
	)
	if err := reg.Register(authOutcomesVec); err != nil {
		return fmt.Errorf("failed to register authOutcomes: %w", err)
	}

	backendCallsVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_calls_total",
			Help:      "Calls to upstream DNS providers by provider, operation and result",
		},
		[]string{"provider", "operation", "result"},
	)
	if err := reg.Register(backendCallsVec); err != nil {
		return fmt.Errorf("failed to register backendCalls: %w", err)
	}

	backendDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_call_duration_seconds",
			Help:      "Upstream DNS provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)
	if err := reg.Register(backendDurationVec); err != nil {
		return fmt.Errorf("failed to register backendCallDuration: %w", err)
	}

	securityPatternVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "security_patterns_total",
			Help:      "Attack patterns detected by the security classifier",
		},
		[]string{"pattern"},
	)
	if err := reg.Register(securityPatternVec); err != nil {
		return fmt.Errorf("failed to register securityPatterns: %w", err)
	}

	ddnsUpdatesVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ddns_updates_total",
			Help:      "DDNS update requests by protocol and response code",
		},
		[]string{"protocol", "result"},
	)
	if err := reg.Register(ddnsUpdatesVec); err != nil {
		return fmt.Errorf("failed to register ddnsUpdates: %w", err)
	}

	// Info gauge: static metric with constant label values for build info
	infoGaugeVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "info",
			Help:      "Proxy version and build information",
		},
		[]string{"version"},
	)
	infoGaugeInstance := infoGaugeVec.WithLabelValues(Version)
	if err := reg.Register(infoGaugeVec); err != nil {
		return fmt.Errorf("failed to register infoGauge: %w", err)
	}
	infoGaugeInstance.Set(1)

	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authOutcomesTotal.Store(authOutcomesVec)
	backendCallsTotal.Store(backendCallsVec)
	backendCallDuration.Store(backendDurationVec)
	securityPatternTotal.Store(securityPatternVec)
	ddnsUpdatesTotal.Store(ddnsUpdatesVec)

	return nil
}

// RecordRequest increments the requests counter for the given method, path, and status code.
// The path should be a route pattern (e.g., "/api/records/{id}").
func RecordRequest(method, path, statusCode string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordRequestDuration records the latency for a request in seconds.
func RecordRequestDuration(method, path, statusCode string, durationSeconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
	}
}

// RecordAuthOutcome counts one authorization decision. outcome is an error
// code such as "token_hash_mismatch", or "granted".
func RecordAuthOutcome(outcome string) {
	if counter := authOutcomesTotal.Load(); counter != nil {
		counter.WithLabelValues(outcome).Inc()
	}
}

// RecordBackendCall counts one upstream call. result is "ok" or a backend error code.
func RecordBackendCall(provider, operation, result string, durationSeconds float64) {
	if counter := backendCallsTotal.Load(); counter != nil {
		counter.WithLabelValues(provider, operation, result).Inc()
	}
	if histogram := backendCallDuration.Load(); histogram != nil {
		histogram.WithLabelValues(provider, operation).Observe(durationSeconds)
	}
}

// RecordSecurityPattern counts one detected attack pattern.
func RecordSecurityPattern(pattern string) {
	if counter := securityPatternTotal.Load(); counter != nil {
		counter.WithLabelValues(pattern).Inc()
	}
}

// RecordDDNSUpdate counts one DDNS response, e.g. ("dyndns2", "good").
func RecordDDNSUpdate(protocol, result string) {
	if counter := ddnsUpdatesTotal.Load(); counter != nil {
		counter.WithLabelValues(protocol, result).Inc()
	}
}

// Handler returns an HTTP handler for Prometheus metrics in text format.
// This handler should be registered at /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a metrics handler serving the given registry.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// GetMetricsText returns the Prometheus text-format output from a registry.
// This is useful for testing and debugging.
func GetMetricsText(reg prometheus.Gatherer) (string, error) {
	handler := HandlerFor(reg)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}

	return string(body), nil
}
