package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValidExceptAccount(t *testing.T) {
	cfg := Default()
	cfg.Account = "0x1234567890abcdef1234567890abcdef12345678"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
account: "0x1234567890abcdef1234567890abcdef12345678"
gateway_url: "http://gateway:9000"
markets: ["BTC/USD"]
trade:
  default_leverage: 25
nonce:
  attempts: 5
  poll_interval: 500ms
cache:
  backend: redis
  redis_addr: "redis:6379"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.GatewayURL != "http://gateway:9000" {
		t.Errorf("gateway = %s", cfg.GatewayURL)
	}
	if cfg.Trade.DefaultLeverage != 25 {
		t.Errorf("leverage = %d", cfg.Trade.DefaultLeverage)
	}
	if cfg.Nonce.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %s", cfg.Nonce.PollInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.ProverURL != Default().ProverURL {
		t.Errorf("prover url = %s", cfg.ProverURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if cfg.GatewayURL != Default().GatewayURL {
		t.Error("missing file should still return defaults")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("VEIL_ACCOUNT", "0xffff567890abcdef1234567890abcdef12345678")
	t.Setenv("VEIL_CACHE_BACKEND", "Redis")
	t.Setenv("VEIL_LOG_LEVEL", "DEBUG")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Account != "0xffff567890abcdef1234567890abcdef12345678" {
		t.Errorf("account = %s", cfg.Account)
	}
	if cfg.Cache.Backend != "redis" {
		t.Errorf("backend = %s", cfg.Cache.Backend)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %s", cfg.LogLevel)
	}
}
