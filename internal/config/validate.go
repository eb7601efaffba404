package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarkets/veil-trader/internal/field"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	if !common.IsHexAddress(c.Account) {
		return fmt.Errorf("account must be a hex address, got %q", c.Account)
	}

	switch backend := strings.ToLower(strings.TrimSpace(c.Cache.Backend)); backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.RedisAddr) == "" {
			return fmt.Errorf("cache.redis_addr required for redis backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Cache.PostgresDSN) == "" {
			return fmt.Errorf("cache.postgres_dsn required for postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend must be 'memory', 'redis', or 'postgres', got %q", c.Cache.Backend)
	}

	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market must be configured")
	}
	for _, m := range c.Markets {
		if _, err := field.NormalizeMarketID(m); err != nil {
			return fmt.Errorf("market %q: %w", m, err)
		}
	}

	if c.Trade.DefaultLeverage == 0 {
		return fmt.Errorf("trade.default_leverage must be > 0")
	}
	if c.Nonce.Attempts <= 0 {
		return fmt.Errorf("nonce.attempts must be > 0, got %d", c.Nonce.Attempts)
	}
	if c.Nonce.PollInterval <= 0 {
		return fmt.Errorf("nonce.poll_interval must be > 0, got %s", c.Nonce.PollInterval)
	}
	if c.Oracle.TTL <= 0 {
		return fmt.Errorf("oracle.ttl must be > 0, got %s", c.Oracle.TTL)
	}
	return nil
}
