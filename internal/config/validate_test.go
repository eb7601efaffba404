package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Default()
	cfg.Account = "0x1234567890abcdef1234567890abcdef12345678"
	return cfg
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad account", func(c *Config) { c.Account = "not-an-address" }, "account"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "etcd" }, "cache.backend"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.RedisAddr = "" }, "redis_addr"},
		{"postgres without dsn", func(c *Config) { c.Cache.Backend = "postgres" }, "postgres_dsn"},
		{"no markets", func(c *Config) { c.Markets = nil }, "market"},
		{"unknown market", func(c *Config) { c.Markets = []string{"DOGE/USD"} }, "DOGE/USD"},
		{"zero leverage", func(c *Config) { c.Trade.DefaultLeverage = 0 }, "leverage"},
		{"zero nonce attempts", func(c *Config) { c.Nonce.Attempts = 0 }, "nonce.attempts"},
		{"zero oracle ttl", func(c *Config) { c.Oracle.TTL = 0 }, "oracle.ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateAcceptsHexMarket(t *testing.T) {
	cfg := validConfig()
	cfg.Markets = []string{"0x4254432f555344"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("hex market id should validate: %v", err)
	}
}
