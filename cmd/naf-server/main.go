// Package main provides the entry point for the netcup API filter server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sipico/netcup-api-filter/internal/admin"
	"github.com/sipico/netcup-api-filter/internal/api"
	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/backend"
	_ "github.com/sipico/netcup-api-filter/internal/backend/providers"
	"github.com/sipico/netcup-api-filter/internal/config"
	"github.com/sipico/netcup-api-filter/internal/ddns"
	"github.com/sipico/netcup-api-filter/internal/metrics"
	"github.com/sipico/netcup-api-filter/internal/middleware"
	"github.com/sipico/netcup-api-filter/internal/security"
	"github.com/sipico/netcup-api-filter/internal/storage"
	"github.com/sipico/netcup-api-filter/internal/token"
)

const version = "0.1.0"

// serverShutdownTimeout bounds graceful shutdown after a signal.
const serverShutdownTimeout = 30 * time.Second

// ddnsMaxBodyBytes bounds urlencoded DDNS update bodies.
const ddnsMaxBodyBytes = 16 << 10

// components holds everything initializeComponents wires together.
type components struct {
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	store      *storage.SQLiteStorage
	codec      *token.Codec
	pool       *backend.Pool
	classifier *security.Classifier
	resolver   *auth.Resolver
	registry   *prometheus.Registry

	apiRouter   http.Handler
	adminRouter chi.Router
	mainRouter  chi.Router
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthCheck())
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c, err := initializeComponents(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.store.Close(); err != nil {
			c.logger.Error("failed to close storage", "error", err)
		}
	}()

	c.logger.Info("netcup API filter starting",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsListenAddr,
		"providers", backend.Kinds())

	metricsServer := createMetricsServer(cfg, c.registry)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
	}()

	return startServerAndWaitForShutdown(c.logger, createServer(cfg, c.mainRouter))
}

// initializeComponents opens storage, applies the backends seed and builds
// the routers.
func initializeComponents(cfg *config.Config) (*components, error) {
	logLevel := new(slog.LevelVar)
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logLevel.Set(level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	store, err := storage.New(cfg.DatabasePath, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	if cfg.BackendsFile != "" {
		seed, err := config.LoadSeed(cfg.BackendsFile)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if err := applySeed(context.Background(), store, seed, logger); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to apply backends file: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	if err := metrics.Init(registry); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	codec := token.NewCodec(token.WithCost(cfg.BcryptCost))
	pool := backend.NewPool(logr.FromSlogHandler(logger.Handler()), cfg.BackendTimeout)
	classifier := security.NewClassifier(
		security.WithWindow(cfg.SecurityWindow),
		security.WithLogger(logger),
	)
	resolver := auth.NewResolver(store, codec,
		auth.WithRecorder(classifier),
		auth.WithLogger(logger),
	)
	clientIP := middleware.ClientIP(cfg.TrustForwardedFor)

	apiRouter := api.NewRouter(
		api.NewHandler(resolver, pool, logger),
		auth.Middleware(resolver, clientIP, logger),
		logger,
	)

	ddnsHandler := ddns.NewHandler(resolver, pool, logger,
		ddns.WithAutoIPKeywords(cfg.AutoIPKeywords),
		ddns.WithClientIP(clientIP),
	)

	adminHandler := admin.NewHandler(store, codec, auth.NewAdminKey(cfg.AdminToken), logLevel, logger)
	adminHandler.SetBackends(pool)
	adminHandler.SetFailureCounter(classifier)
	adminRouter := adminHandler.NewRouter()

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(store))
	r.Mount("/api/dns", apiRouter)
	r.Route("/api/ddns", func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.HTTPLogging(logger, nil))
		r.Use(middleware.MaxBodySize(ddnsMaxBodyBytes))
		ddnsHandler.Routes(r)
	})
	r.Mount("/admin", adminRouter)

	return &components{
		logger:      logger,
		logLevel:    logLevel,
		store:       store,
		codec:       codec,
		pool:        pool,
		classifier:  classifier,
		resolver:    resolver,
		registry:    registry,
		apiRouter:   apiRouter,
		adminRouter: adminRouter,
		mainRouter:  r,
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}

// createServer configures the HTTP server with its timeouts.
func createServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// createMetricsServer serves /metrics on the separate metrics listener.
func createMetricsServer(cfg *config.Config, reg prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(reg))
	return &http.Server{
		Addr:              cfg.MetricsListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// startServerAndWaitForShutdown runs the server until it fails or the
// process receives SIGINT or SIGTERM.
func startServerAndWaitForShutdown(logger *slog.Logger, server *http.Server) error {
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case s := <-sig:
		logger.Info("Received signal, shutting down", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("Server shut down gracefully")
	return nil
}

// healthHandler returns OK if the process is alive
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Response write errors are unrecoverable
	fmt.Fprint(w, `{"status":"ok"}`)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// readyHandler returns OK once the database answers.
func readyHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			//nolint:errcheck
			fmt.Fprint(w, `{"status":"not_ready","reason":"database"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck
		fmt.Fprint(w, `{"status":"ok"}`)
	}
}

// runHealthCheck probes the local server for container health checks.
func runHealthCheck() int {
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = config.DefaultListenAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return doHealthCheck("http://" + addr + "/health")
}

func doHealthCheck(url string) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	return 0
}
