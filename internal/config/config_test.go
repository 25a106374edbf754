package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var configEnv = []string{
	"LOG_LEVEL", "LISTEN_ADDR", "METRICS_LISTEN_ADDR", "DATABASE_PATH",
	"ENCRYPTION_KEY", "ADMIN_TOKEN", "BACKENDS_FILE", "BACKEND_TIMEOUT",
	"DDNS_AUTO_IP_KEYWORDS", "TRUST_FORWARDED_FOR", "SECURITY_WINDOW", "BCRYPT_COST",
}

// clearEnv unsets every config variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range configEnv {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q (default)", cfg.LogLevel, "info")
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q (default)", cfg.ListenAddr, ":8080")
	}
	if cfg.MetricsListenAddr != "localhost:9090" {
		t.Errorf("MetricsListenAddr = %q, want %q (default)", cfg.MetricsListenAddr, "localhost:9090")
	}
	if cfg.DatabasePath != "/data/naf.db" {
		t.Errorf("DatabasePath = %q, want %q (default)", cfg.DatabasePath, "/data/naf.db")
	}
	if cfg.BackendTimeout != 10*time.Second {
		t.Errorf("BackendTimeout = %v, want 10s", cfg.BackendTimeout)
	}
	if cfg.SecurityWindow != 5*time.Minute {
		t.Errorf("SecurityWindow = %v, want 5m", cfg.SecurityWindow)
	}
	if !cfg.TrustForwardedFor {
		t.Error("TrustForwardedFor = false, want true (default)")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if !slices.Equal(cfg.AutoIPKeywords, []string{"auto", "public", "detect"}) {
		t.Errorf("AutoIPKeywords = %v", cfg.AutoIPKeywords)
	}
	if cfg.BackendsFile != "" {
		t.Errorf("BackendsFile = %q, want empty", cfg.BackendsFile)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("DATABASE_PATH", "/custom/path.db")
	t.Setenv("BACKEND_TIMEOUT", "3s")
	t.Setenv("SECURITY_WINDOW", "1m")
	t.Setenv("TRUST_FORWARDED_FOR", "false")
	t.Setenv("BCRYPT_COST", "10")
	t.Setenv("DDNS_AUTO_IP_KEYWORDS", " Auto, me ,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.LogLevel != "debug" || cfg.ListenAddr != ":9000" || cfg.DatabasePath != "/custom/path.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.BackendTimeout != 3*time.Second || cfg.SecurityWindow != time.Minute {
		t.Errorf("durations = %v, %v", cfg.BackendTimeout, cfg.SecurityWindow)
	}
	if cfg.TrustForwardedFor {
		t.Error("TrustForwardedFor = true, want false")
	}
	if cfg.BcryptCost != 10 {
		t.Errorf("BcryptCost = %d", cfg.BcryptCost)
	}
	if !slices.Equal(cfg.AutoIPKeywords, []string{"auto", "me"}) {
		t.Errorf("AutoIPKeywords = %v", cfg.AutoIPKeywords)
	}
}

func TestLoad_MalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{"timeout", "BACKEND_TIMEOUT", "ten"},
		{"window", "SECURITY_WINDOW", "5"},
		{"trust", "TRUST_FORWARDED_FOR", "maybe"},
		{"cost", "BCRYPT_COST", "high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)

			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tt.env) {
				t.Errorf("Load() error = %v, want one naming %s", err, tt.env)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LogLevel:       "info",
			AdminToken:     "admin",
			EncryptionKey:  testKey,
			BackendTimeout: time.Second,
			SecurityWindow: time.Minute,
			BcryptCost:     12,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
		{"missing admin token", func(c *Config) { c.AdminToken = "" }, "ADMIN_TOKEN"},
		{"missing key", func(c *Config) { c.EncryptionKey = "" }, "ENCRYPTION_KEY"},
		{"short key", func(c *Config) { c.EncryptionKey = "abcd" }, "64 hex"},
		{"non-hex key", func(c *Config) { c.EncryptionKey = strings.Repeat("zz", 32) }, "64 hex"},
		{"zero timeout", func(c *Config) { c.BackendTimeout = 0 }, "BACKEND_TIMEOUT"},
		{"zero window", func(c *Config) { c.SecurityWindow = 0 }, "SECURITY_WINDOW"},
		{"cost too low", func(c *Config) { c.BcryptCost = 3 }, "BCRYPT_COST"},
		{"cost too high", func(c *Config) { c.BcryptCost = 32 }, "BCRYPT_COST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEncryptionKeyBytes(t *testing.T) {
	t.Parallel()
	cfg := &Config{EncryptionKey: testKey}

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		t.Fatalf("EncryptionKeyBytes() error = %v", err)
	}
	if len(key) != 32 || key[0] != 0x00 || key[31] != 0x1f {
		t.Errorf("key = %x", key)
	}
}

func TestLoadSeed(t *testing.T) {
	t.Setenv("SEED_PDNS_KEY", "from-env")
	path := filepath.Join(t.TempDir(), "backends.yaml")
	content := `
backends:
  - name: pdns
    provider: powerdns
    settings:
      api_url: http://pdns:8081
      api_key: ${SEED_PDNS_KEY}
    roots:
      - zone: example.com
        max_subdomain_depth: 2
        allowed_record_types: [A, AAAA]
        allowed_operations: [read, update]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed() error = %v", err)
	}
	if len(seed.Backends) != 1 {
		t.Fatalf("backends = %+v", seed.Backends)
	}
	b := seed.Backends[0]
	if b.Settings["api_key"] != "from-env" {
		t.Errorf("api_key = %q, want expanded", b.Settings["api_key"])
	}
	if len(b.Roots) != 1 || b.Roots[0].MaxSubdomainDepth != 2 || !slices.Equal(b.Roots[0].AllowedOperations, []string{"read", "update"}) {
		t.Errorf("roots = %+v", b.Roots)
	}
}

func TestLoadSeed_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "absent.yaml")},
		{"not yaml", write("bad.yaml", "backends: [")},
		{"no provider", write("noprovider.yaml", "backends:\n  - name: x\n")},
		{"root without zone", write("nozone.yaml", "backends:\n  - name: x\n    provider: netcup\n    roots:\n      - visibility: public\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadSeed(tt.path); err == nil {
				t.Error("LoadSeed() error = nil")
			}
		})
	}
}
