package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
store: redis
redis:
  addr: redis.internal:6379
  prefix: "onboarding:"
provider: openai
model: gpt-4o-mini
session_timeout: 45m
sweep_interval: 1m
gateway_url: https://api.example.com/doctors
metrics_port: 9191
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Store != "redis" || cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("store config = %q / %+v", cfg.Store, cfg.Redis)
	}
	if cfg.SessionTimeout.Duration() != 45*time.Minute {
		t.Errorf("SessionTimeout = %v, want 45m", cfg.SessionTimeout.Duration())
	}
	if cfg.SweepInterval.Duration() != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.SweepInterval.Duration())
	}
	if cfg.MetricsPort != 9191 {
		t.Errorf("MetricsPort = %d", cfg.MetricsPort)
	}

	// Unset keys get defaults.
	if cfg.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want default 0.3", cfg.Temperature)
	}
	if cfg.ConfidenceThreshold != 0.5 {
		t.Errorf("ConfidenceThreshold = %v, want default 0.5", cfg.ConfidenceThreshold)
	}
	if cfg.SweepBatch != 100 {
		t.Errorf("SweepBatch = %d, want default 100", cfg.SweepBatch)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Store != "memory" {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", cfg.Provider)
	}
	if cfg.SessionTimeout.Duration() != 30*time.Minute {
		t.Errorf("SessionTimeout = %v, want 30m", cfg.SessionTimeout.Duration())
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.GatewayURL = "https://api.example.com/doctors"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := Default()
	bad.GatewayURL = ""
	if err := bad.Validate(); err == nil {
		t.Error("missing gateway_url accepted")
	}

	bad = Default()
	bad.GatewayURL = "https://x"
	bad.Store = "postgres"
	if err := bad.Validate(); err == nil {
		t.Error("unknown store accepted")
	}

	bad = Default()
	bad.GatewayURL = "https://x"
	bad.Provider = "llama"
	if err := bad.Validate(); err == nil {
		t.Error("unknown provider accepted")
	}

	bad = Default()
	bad.GatewayURL = "https://x"
	bad.ConfidenceThreshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("out-of-range threshold accepted")
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	path := writeConfig(t, `
provider: openai
gateway_url: https://api.example.com/doctors
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want env value", cfg.APIKey)
	}
}
