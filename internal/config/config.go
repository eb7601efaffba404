package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Account is the trader's venue account address (0x hex).
	Account string `yaml:"account"`
	// GatewayURL fronts the venue's chain RPC.
	GatewayURL string `yaml:"gateway_url"`
	// ProverURL is the proving-service endpoint.
	ProverURL string `yaml:"prover_url"`
	// OracleWSURL is the price-feed websocket endpoint.
	OracleWSURL string `yaml:"oracle_ws_url"`

	Markets  []string `yaml:"markets"`
	LogLevel string   `yaml:"log_level"`

	Trade   TradeConfig   `yaml:"trade"`
	Nonce   NonceConfig   `yaml:"nonce"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
	API     APIConfig     `yaml:"api"`

	// ReconcileInterval is how often the cached position view is verified
	// against chain state.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type TradeConfig struct {
	DefaultLeverage uint `yaml:"default_leverage"`
	SlippageBps     uint `yaml:"slippage_bps"`
	FeeBps          uint `yaml:"fee_bps"`
}

type NonceConfig struct {
	// Attempts bounds the nonce-advance poll between dependent
	// transactions; exceeding it proceeds with a warning.
	Attempts     int           `yaml:"attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type OracleConfig struct {
	// TTL is the maximum quote age accepted for circuit inputs.
	TTL          time.Duration `yaml:"ttl"`
	MaxStaleness time.Duration `yaml:"max_staleness"`
}

type CacheConfig struct {
	// Backend selects the position cache: memory, redis, or postgres.
	Backend     string `yaml:"backend"`
	RedisAddr   string `yaml:"redis_addr"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// APIConfig controls the local status HTTP server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func Default() Config {
	return Config{
		GatewayURL:  "http://localhost:8547",
		ProverURL:   "http://localhost:8600",
		OracleWSURL: "ws://localhost:8700/feed",
		Markets:     []string{"BTC/USD", "ETH/USD"},
		LogLevel:    "info",
		Trade: TradeConfig{
			DefaultLeverage: 10,
			SlippageBps:     50,
			FeeBps:          10,
		},
		Nonce: NonceConfig{
			Attempts:     15,
			PollInterval: 2 * time.Second,
		},
		Oracle: OracleConfig{
			TTL:          30 * time.Second,
			MaxStaleness: 60 * time.Second,
		},
		Cache: CacheConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		API: APIConfig{
			Addr: ":8080",
		},
		ReconcileInterval: time.Minute,
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("VEIL_ACCOUNT")); v != "" {
		c.Account = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_GATEWAY_URL")); v != "" {
		c.GatewayURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_PROVER_URL")); v != "" {
		c.ProverURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_ORACLE_WS_URL")); v != "" {
		c.OracleWSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_CACHE_BACKEND")); v != "" {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_REDIS_ADDR")); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_POSTGRES_DSN")); v != "" {
		c.Cache.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}
