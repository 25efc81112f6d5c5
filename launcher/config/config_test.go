package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefault verifies the built-in defaults match the packaged bundle
func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.BasePort != 3000 {
		t.Errorf("Server.BasePort = %d, want 3000", cfg.Server.BasePort)
	}
	if cfg.Server.ScanWidth != 100 {
		t.Errorf("Server.ScanWidth = %d, want 100", cfg.Server.ScanWidth)
	}
	if cfg.Server.HealthEndpoint != "/api/system-info" {
		t.Errorf("Server.HealthEndpoint = %q, want /api/system-info", cfg.Server.HealthEndpoint)
	}
	if cfg.Server.BrowserPath != "/real" {
		t.Errorf("Server.BrowserPath = %q, want /real", cfg.Server.BrowserPath)
	}
	if cfg.Health.MaxAttempts != 30 {
		t.Errorf("Health.MaxAttempts = %d, want 30", cfg.Health.MaxAttempts)
	}
	if cfg.Shutdown.GracePeriod != 5*time.Second {
		t.Errorf("Shutdown.GracePeriod = %v, want 5s", cfg.Shutdown.GracePeriod)
	}
	if cfg.History.Retention != 30*24*time.Hour {
		t.Errorf("History.Retention = %v, want 720h", cfg.History.Retention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.BasePort != 3000 {
		t.Errorf("Server.BasePort = %d, want 3000", cfg.Server.BasePort)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medialauncher.yaml")
	contents := `
server:
  base_port: 4100
  scan_width: 10
health:
  max_attempts: 5
  inter_attempt_delay: 250ms
shutdown:
  grace_period: 2s
browser:
  enabled: false
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.BasePort != 4100 {
		t.Errorf("Server.BasePort = %d, want 4100", cfg.Server.BasePort)
	}
	if cfg.Server.ScanWidth != 10 {
		t.Errorf("Server.ScanWidth = %d, want 10", cfg.Server.ScanWidth)
	}
	if cfg.Health.MaxAttempts != 5 {
		t.Errorf("Health.MaxAttempts = %d, want 5", cfg.Health.MaxAttempts)
	}
	if cfg.Health.InterAttemptDelay != 250*time.Millisecond {
		t.Errorf("Health.InterAttemptDelay = %v, want 250ms", cfg.Health.InterAttemptDelay)
	}
	if cfg.Shutdown.GracePeriod != 2*time.Second {
		t.Errorf("Shutdown.GracePeriod = %v, want 2s", cfg.Shutdown.GracePeriod)
	}
	if cfg.Browser.Enabled {
		t.Error("Browser.Enabled should be false from file")
	}
	// Untouched values keep their defaults
	if cfg.Server.HealthEndpoint != "/api/system-info" {
		t.Errorf("Server.HealthEndpoint = %q, want default", cfg.Server.HealthEndpoint)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(PathEnvVar, "")
	t.Setenv("MEDIALAUNCHER_SERVER__BASE_PORT", "5200")
	t.Setenv("MEDIALAUNCHER_LOGGING__LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.BasePort != 5200 {
		t.Errorf("Server.BasePort = %d, want 5200", cfg.Server.BasePort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero scan width",
			mutate:  func(c *Config) { c.Server.ScanWidth = 0 },
			wantErr: "ScanWidth",
		},
		{
			name:    "port range overflow",
			mutate:  func(c *Config) { c.Server.BasePort = 65500; c.Server.ScanWidth = 100 },
			wantErr: "exceeds 65535",
		},
		{
			name:    "relative health endpoint",
			mutate:  func(c *Config) { c.Server.HealthEndpoint = "api/system-info" },
			wantErr: "HealthEndpoint",
		},
		{
			name:    "bad packaged flag",
			mutate:  func(c *Config) { c.Layout.Packaged = "maybe" },
			wantErr: "Packaged",
		},
		{
			name:    "zero grace period",
			mutate:  func(c *Config) { c.Shutdown.GracePeriod = 0 },
			wantErr: "GracePeriod",
		},
		{
			name:    "negative history retention",
			mutate:  func(c *Config) { c.History.Retention = -time.Hour },
			wantErr: "Retention",
		},
		{
			name:    "history enabled without path",
			mutate:  func(c *Config) { c.History.Enabled = true; c.History.Path = "" },
			wantErr: "Path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	if got := envTransformFunc("MEDIALAUNCHER_HEALTH__MAX_ATTEMPTS"); got != "health.max_attempts" {
		t.Errorf("envTransformFunc = %q, want health.max_attempts", got)
	}
}
