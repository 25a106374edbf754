// Package config provides configuration loading and validation from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for optional settings.
const (
	DefaultListenAddr        = ":8080"
	DefaultMetricsListenAddr = "localhost:9090"
	DefaultDatabasePath      = "/data/naf.db"
	DefaultBackendTimeout    = 10 * time.Second
	DefaultSecurityWindow    = 5 * time.Minute
	DefaultBcryptCost        = 12
)

// DefaultAutoIPKeywords are myip values meaning "use the caller's address".
var DefaultAutoIPKeywords = []string{"auto", "public", "detect"}

// Config holds all application configuration.
type Config struct {
	LogLevel          string // debug, info, warn, error
	ListenAddr        string // Server listen address (e.g., ":8080")
	MetricsListenAddr string // Metrics listener address (e.g., "localhost:9090")
	DatabasePath      string // SQLite database path
	EncryptionKey     string // Required: 64 hex chars, key for backend credentials at rest
	AdminToken        string // Required: bearer credential of the admin API
	BackendsFile      string // Optional: YAML seed of backend services and domain roots

	BackendTimeout    time.Duration // Per-call deadline for backend requests
	AutoIPKeywords    []string      // DDNS myip values that select the caller's address
	TrustForwardedFor bool          // Take the client address from X-Forwarded-For
	SecurityWindow    time.Duration // Sliding window of the security classifier
	BcryptCost        int           // Cost of stored token hashes
}

// Load parses configuration from environment variables.
// Unset options fall back to their defaults; malformed values are errors.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:          envOr("LOG_LEVEL", "info"),
		ListenAddr:        envOr("LISTEN_ADDR", DefaultListenAddr),
		MetricsListenAddr: envOr("METRICS_LISTEN_ADDR", DefaultMetricsListenAddr),
		DatabasePath:      envOr("DATABASE_PATH", DefaultDatabasePath),
		EncryptionKey:     strings.TrimSpace(os.Getenv("ENCRYPTION_KEY")),
		AdminToken:        os.Getenv("ADMIN_TOKEN"),
		BackendsFile:      os.Getenv("BACKENDS_FILE"),
		AutoIPKeywords:    DefaultAutoIPKeywords,
	}

	var err error
	if cfg.BackendTimeout, err = durationEnv("BACKEND_TIMEOUT", DefaultBackendTimeout); err != nil {
		return nil, err
	}
	if cfg.SecurityWindow, err = durationEnv("SECURITY_WINDOW", DefaultSecurityWindow); err != nil {
		return nil, err
	}
	if cfg.TrustForwardedFor, err = boolEnv("TRUST_FORWARDED_FOR", true); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = intEnv("BCRYPT_COST", DefaultBcryptCost); err != nil {
		return nil, err
	}
	if v := os.Getenv("DDNS_AUTO_IP_KEYWORDS"); v != "" {
		cfg.AutoIPKeywords = splitList(v)
	}

	return cfg, nil
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	if c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN environment variable is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY environment variable is required")
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return err
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if c.SecurityWindow <= 0 {
		return fmt.Errorf("SECURITY_WINDOW must be positive")
	}
	// bcrypt accepts 4 to 31.
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31 (got %d)", c.BcryptCost)
	}
	return nil
}

// EncryptionKeyBytes decodes ENCRYPTION_KEY into the 32-byte AES key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters")
	}
	return key, nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

func boolEnv(name string, fallback bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return b, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
