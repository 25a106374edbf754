package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sipico/netcup-api-filter/internal/config"
	"github.com/sipico/netcup-api-filter/internal/storage"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:          "error",
		ListenAddr:        ":0",
		MetricsListenAddr: "localhost:0",
		DatabasePath:      ":memory:",
		EncryptionKey:     testEncryptionKey,
		AdminToken:        "admin-secret",
		BackendTimeout:    time.Second,
		AutoIPKeywords:    config.DefaultAutoIPKeywords,
		TrustForwardedFor: true,
		SecurityWindow:    time.Minute,
		BcryptCost:        4,
	}
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("expected status ok in response, got %s", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
}

func TestReadyHandler(t *testing.T) {
	store, err := storage.New(":memory:", make([]byte, 32))
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}

	handler := readyHandler(store)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	store.Close()

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"status":"not_ready"`) {
		t.Errorf("expected status not_ready in response, got %s", body)
	}
}

func TestInitializeComponentsWithValidConfig(t *testing.T) {
	components, err := initializeComponents(testConfig(t))
	if err != nil {
		t.Fatalf("failed to initialize components: %v", err)
	}
	defer components.store.Close()

	if components.logger == nil || components.logLevel == nil || components.store == nil {
		t.Error("logging or storage not initialized")
	}
	if components.pool == nil || components.classifier == nil || components.resolver == nil {
		t.Error("authorization pipeline not initialized")
	}
	if components.apiRouter == nil || components.adminRouter == nil || components.mainRouter == nil {
		t.Error("routers not initialized")
	}
	if components.logLevel.Level() != slog.LevelError {
		t.Errorf("log level = %v, want error", components.logLevel.Level())
	}
}

func TestInitializeComponentsErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"invalid log level", func(c *config.Config) { c.LogLevel = "verbose" }},
		{"invalid data path", func(c *config.Config) { c.DatabasePath = "/nonexistent/dir/naf.db" }},
		{"invalid key", func(c *config.Config) { c.EncryptionKey = "short" }},
		{"missing backends file", func(c *config.Config) { c.BackendsFile = "/nonexistent/backends.yaml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if _, err := initializeComponents(cfg); err == nil {
				t.Error("expected initializeComponents to fail")
			}
		})
	}
}

func TestMainRouterMounts(t *testing.T) {
	components, err := initializeComponents(testConfig(t))
	if err != nil {
		t.Fatalf("failed to initialize components: %v", err)
	}
	defer components.store.Close()

	tests := []struct {
		name     string
		method   string
		path     string
		header   string
		want     int
		wantBody string
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK, `"status":"ok"`},
		{"ready", http.MethodGet, "/ready", "", http.StatusOK, `"status":"ok"`},
		{"admin health", http.MethodGet, "/admin/health", "", http.StatusOK, `"status":"ok"`},
		{"admin api without key", http.MethodGet, "/admin/api/accounts", "", http.StatusUnauthorized, "invalid_credentials"},
		{"admin api with key", http.MethodGet, "/admin/api/accounts", "Bearer admin-secret", http.StatusOK, "[]"},
		{"dns api without token", http.MethodGet, "/api/dns/example.com/records", "", http.StatusUnauthorized, "error"},
		{"ddns without credentials", http.MethodGet, "/api/ddns/dyndns2/update?hostname=a.example.com", "", http.StatusOK, "badauth"},
		{"noip without credentials", http.MethodGet, "/api/ddns/noip/update?hostname=a.example.com", "", http.StatusOK, "nohost"},
		{"unknown path", http.MethodGet, "/nope", "", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			components.mainRouter.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want containing %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestDDNSRoutesBoundBodySize(t *testing.T) {
	components, err := initializeComponents(testConfig(t))
	if err != nil {
		t.Fatalf("failed to initialize components: %v", err)
	}
	defer components.store.Close()

	body := "hostname=a.example.com&filler=" + strings.Repeat("a", ddnsMaxBodyBytes)
	req := httptest.NewRequest(http.MethodPost, "/api/ddns/dyndns2/update", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	components.mainRouter.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	// An unbounded body would parse and fail on the missing credentials.
	if got := strings.TrimSpace(w.Body.String()); got != "notfqdn" {
		t.Errorf("body = %q, want notfqdn", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing on DDNS reply")
	}
}

func TestInitializeComponentsAppliesSeed(t *testing.T) {
	t.Setenv("TEST_PDNS_KEY", "seeded-key")
	cfg := testConfig(t)
	cfg.BackendsFile = filepath.Join(t.TempDir(), "backends.yaml")
	seed := `
backends:
  - name: pdns
    provider: powerdns
    settings:
      api_url: http://pdns:8081
      api_key: ${TEST_PDNS_KEY}
      server_id: localhost
    roots:
      - zone: Example.com
        allowed_record_types: [A, AAAA]
        allowed_operations: [read, update]
`
	if err := os.WriteFile(cfg.BackendsFile, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}

	components, err := initializeComponents(cfg)
	if err != nil {
		t.Fatalf("failed to initialize components: %v", err)
	}
	defer components.store.Close()

	ctx := context.Background()
	services, err := components.store.ListBackendServices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 1 || services[0].Settings["api_key"] != "seeded-key" {
		t.Fatalf("services = %+v", services)
	}
	roots, err := components.store.ListDomainRoots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 || roots[0].Zone != "example.com" || roots[0].Visibility != storage.VisibilityPublic {
		t.Fatalf("roots = %+v", roots)
	}
}

func TestApplySeedIsIdempotent(t *testing.T) {
	store, err := storage.New(":memory:", make([]byte, 32))
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	defer store.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	seed := &config.Seed{Backends: []config.SeedBackend{{
		Name:     "nc",
		Provider: "Netcup",
		Settings: map[string]string{"customer_number": "1", "api_key": "k", "api_password": "p"},
		Roots: []config.SeedRoot{
			{Zone: "example.org", AllowedRecordTypes: []string{"A"}, AllowedOperations: []string{"read"}},
			{Zone: "example.net.", Visibility: storage.VisibilityPrivate, AllowedRecordTypes: []string{"TXT"}, AllowedOperations: []string{"update"}},
		},
	}}}

	for i := 0; i < 2; i++ {
		if err := applySeed(context.Background(), store, seed, logger); err != nil {
			t.Fatalf("applySeed run %d: %v", i+1, err)
		}
	}

	services, _ := store.ListBackendServices(context.Background())
	roots, _ := store.ListDomainRoots(context.Background())
	if len(services) != 1 || services[0].Provider != "netcup" {
		t.Errorf("services = %+v", services)
	}
	if len(roots) != 2 {
		t.Errorf("roots = %+v", roots)
	}
}

func TestApplySeedRejectsUnknownProvider(t *testing.T) {
	store, err := storage.New(":memory:", make([]byte, 32))
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	defer store.Close()

	seed := &config.Seed{Backends: []config.SeedBackend{{Name: "x", Provider: "bind"}}}
	err = applySeed(context.Background(), store, seed, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("applySeed error = %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCreateServerTimeouts(t *testing.T) {
	cfg := testConfig(t)
	cfg.ListenAddr = ":8080"
	server := createServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if server.Addr != ":8080" {
		t.Errorf("expected server address :8080, got %s", server.Addr)
	}
	timeouts := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", server.IdleTimeout, 60 * time.Second},
	}
	for _, tc := range timeouts {
		if tc.actual != tc.expected {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, tc.actual)
		}
	}
}

func TestMetricsServer(t *testing.T) {
	components, err := initializeComponents(testConfig(t))
	if err != nil {
		t.Fatalf("failed to initialize components: %v", err)
	}
	defer components.store.Close()

	// One request so the request counters have a series.
	components.mainRouter.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	server := createMetricsServer(testConfig(t), components.registry)
	w := httptest.NewRecorder()
	server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, name := range []string{"naf_proxy_info", "naf_proxy_requests_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestServerShutdownTimeoutConstant(t *testing.T) {
	if serverShutdownTimeout != 30*time.Second {
		t.Errorf("expected shutdown timeout 30s, got %v", serverShutdownTimeout)
	}
}

func TestStartServerAndWaitForShutdownServerStartupError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{
		Addr:    "invalid:address:99999",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	}

	err := startServerAndWaitForShutdown(logger, server)

	if err == nil {
		t.Fatal("expected error from startServerAndWaitForShutdown, got nil")
	}
	if errors.Is(err, http.ErrServerClosed) {
		t.Errorf("error should not be http.ErrServerClosed, got %v", err)
	}
	if !strings.Contains(err.Error(), "server error") {
		t.Errorf("error message should contain 'server error', got: %s", err.Error())
	}
}

func TestStartServerAndWaitForShutdownGracefulSignalShutdown(t *testing.T) {
	var logBuffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelInfo}))

	server := &http.Server{
		Addr:              ":0",
		Handler:           http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		done <- startServerAndWaitForShutdown(logger, server)
	}()

	time.Sleep(100 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send SIGTERM signal: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected graceful shutdown to return nil, got error: %v", err)
		}
		logOutput := logBuffer.String()
		if !strings.Contains(logOutput, "Received signal, shutting down") {
			t.Errorf("expected log to contain 'Received signal, shutting down', got: %s", logOutput)
		}
		if !strings.Contains(logOutput, "Server shut down gracefully") {
			t.Errorf("expected log to contain 'Server shut down gracefully', got: %s", logOutput)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for graceful shutdown")
	}
}

func TestDoHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   int
	}{
		{"ok", http.StatusOK, 0},
		{"unavailable", http.StatusServiceUnavailable, 1},
		{"not found", http.StatusNotFound, 1},
		{"server error", http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			if got := doHealthCheck(server.URL); got != tt.want {
				t.Errorf("doHealthCheck() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDoHealthCheckConnectionError(t *testing.T) {
	if result := doHealthCheck("http://localhost:99999/health"); result != 1 {
		t.Errorf("expected doHealthCheck to return 1 for connection error, got %d", result)
	}
}

func TestRunHealthCheckUsesListenAddr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	t.Setenv("LISTEN_ADDR", strings.TrimPrefix(server.URL, "http://"))
	if got := runHealthCheck(); got != 0 {
		t.Errorf("runHealthCheck() = %d, want 0", got)
	}
}
