package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Base mainnet deployments.
const (
	DefaultLimitOrderProtocol = "0x111111125421cA6dc452d289314280a0f8842A65"
	DefaultPostInteraction    = "0x8815Ab44465734eF2C41de36cff0ab130e1ab32B"
	DefaultMulticall          = "0xcA11bde05977b3631167028862bE2a173976CA11"
	DefaultAavePool           = "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5"
)

// Config is the complete resolver configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chain     ChainConfig     `yaml:"chain"`
	Contracts ContractsConfig `yaml:"contracts"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Storage   StorageConfig   `yaml:"storage"`
	Fill      FillConfig      `yaml:"fill"`
	Poller    PollerConfig    `yaml:"poller"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port                   int      `yaml:"port"`
	ReadTimeoutSeconds     int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
	CORSOrigins            []string `yaml:"cors_origins"` // empty allows any origin
	AdminToken             string   `yaml:"-"`            // ADMIN_TOKEN; empty disables DELETE /orders/{id}
}

// ChainConfig identifies the network.
type ChainConfig struct {
	ID     int64  `yaml:"id"`
	RPCURL string `yaml:"rpc_url"` // RPC_URL / BASE_RPC_URL override
}

// ContractsConfig holds every contract address the resolver talks to.
type ContractsConfig struct {
	LimitOrderProtocol string `yaml:"limit_order_protocol"`
	PostInteraction    string `yaml:"post_interaction"`
	Multicall          string `yaml:"multicall"`
	AavePool           string `yaml:"aave_pool"`
}

// OracleConfig selects and tunes the price source.
type OracleConfig struct {
	Provider          string  `yaml:"provider"` // oneinch | coingecko | fallback
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	Currency          string  `yaml:"currency"`
	OneInchBase       string  `yaml:"oneinch_base"`
	CoinGeckoBase     string  `yaml:"coingecko_base"`
	CoinGeckoPlatform string  `yaml:"coingecko_platform"`
	RatePerSec        float64 `yaml:"rate_per_sec"`
	MaxRetries        int     `yaml:"max_retries"`
	OneInchAPIKey     string  `yaml:"-"` // ONEINCH_API_KEY
	CoinGeckoAPIKey   string  `yaml:"-"` // COINGECKO_API_KEY
}

// StorageConfig selects the order store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite | bolt
	DSN    string `yaml:"dsn"`    // file path, or ":memory:" for sqlite
}

// FillConfig tunes on-chain execution.
type FillConfig struct {
	TimeoutSeconds        int    `yaml:"timeout_seconds"`
	ReceiptTimeoutSeconds int    `yaml:"receipt_timeout_seconds"`
	GasBufferPct          int64  `yaml:"gas_buffer_pct"`
	EnsureAllowance       bool   `yaml:"ensure_allowance"`
	PrivateKey            string `yaml:"-"` // FILLER_PRIVATE_KEY / TAKER_PRIVATE_KEY
}

// PollerConfig controls the scheduled evaluation loop.
type PollerConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	AutoFill        bool `yaml:"auto_fill"`
	Table           bool `yaml:"table"`
}

// ResolverConfig holds ingestion and evaluation policy.
type ResolverConfig struct {
	VerifySignatures             bool `yaml:"verify_signatures"`
	EnforcePostInteractionTarget bool `yaml:"enforce_post_interaction_target"`
	EvalWorkers                  int  `yaml:"eval_workers"`
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path and the .env file if present. Environment
// variables override the file; secrets only come from the environment. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate checks enumerations and addresses.
func (c *Config) Validate() error {
	var errs []error
	switch c.Oracle.Provider {
	case "oneinch", "coingecko", "fallback":
	default:
		errs = append(errs, fmt.Errorf("oracle.provider %q is not oneinch, coingecko or fallback", c.Oracle.Provider))
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "bolt":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not memory, sqlite or bolt", c.Storage.Driver))
	}
	addrs := map[string]string{
		"contracts.limit_order_protocol": c.Contracts.LimitOrderProtocol,
		"contracts.post_interaction":     c.Contracts.PostInteraction,
		"contracts.multicall":            c.Contracts.Multicall,
		"contracts.aave_pool":            c.Contracts.AavePool,
	}
	for name, v := range addrs {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Errorf("%s %q is not an address", name, v))
		}
	}
	return errors.Join(errs...)
}

// Address parses a validated contract address.
func Address(s string) common.Address { return common.HexToAddress(s) }

// OracleTimeout bounds each price lookup.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}

// FillTimeout bounds a whole fill.
func (c *Config) FillTimeout() time.Duration {
	return time.Duration(c.Fill.TimeoutSeconds) * time.Second
}

// ReceiptTimeout bounds the wait for a fill receipt.
func (c *Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.Fill.ReceiptTimeoutSeconds) * time.Second
}

// PollInterval is the poller period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalSeconds) * time.Second
}

// applyEnvOverrides overwrites values from environment variables when present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := firstEnv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := firstEnv("RPC_URL", "BASE_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	cfg.Fill.PrivateKey = firstEnv("FILLER_PRIVATE_KEY", "TAKER_PRIVATE_KEY")
	cfg.Oracle.OneInchAPIKey = firstEnv("ONEINCH_API_KEY")
	cfg.Oracle.CoinGeckoAPIKey = firstEnv("COINGECKO_API_KEY")
	cfg.Server.AdminToken = firstEnv("ADMIN_TOKEN")
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// setDefaults fills unset values.
func setDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3001
	}
	if cfg.Server.ReadTimeoutSeconds <= 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds <= 0 {
		cfg.Server.WriteTimeoutSeconds = 180 // a fill waits for its receipt
	}
	if cfg.Server.ShutdownTimeoutSeconds <= 0 {
		cfg.Server.ShutdownTimeoutSeconds = 10
	}
	if cfg.Chain.ID == 0 {
		cfg.Chain.ID = 8453
	}
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://mainnet.base.org"
	}
	if cfg.Contracts.LimitOrderProtocol == "" {
		cfg.Contracts.LimitOrderProtocol = DefaultLimitOrderProtocol
	}
	if cfg.Contracts.PostInteraction == "" {
		cfg.Contracts.PostInteraction = DefaultPostInteraction
	}
	if cfg.Contracts.Multicall == "" {
		cfg.Contracts.Multicall = DefaultMulticall
	}
	if cfg.Contracts.AavePool == "" {
		cfg.Contracts.AavePool = DefaultAavePool
	}
	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "oneinch"
	}
	if cfg.Oracle.TimeoutSeconds <= 0 {
		cfg.Oracle.TimeoutSeconds = 10
	}
	if cfg.Oracle.Currency == "" {
		cfg.Oracle.Currency = "USD"
	}
	if cfg.Oracle.OneInchBase == "" {
		cfg.Oracle.OneInchBase = "https://api.1inch.dev"
	}
	if cfg.Oracle.CoinGeckoBase == "" {
		cfg.Oracle.CoinGeckoBase = "https://api.coingecko.com"
	}
	if cfg.Oracle.CoinGeckoPlatform == "" {
		cfg.Oracle.CoinGeckoPlatform = "base"
	}
	if cfg.Oracle.RatePerSec <= 0 {
		cfg.Oracle.RatePerSec = 1
	}
	if cfg.Oracle.MaxRetries <= 0 {
		cfg.Oracle.MaxRetries = 3
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.DSN == "" {
		switch cfg.Storage.Driver {
		case "sqlite":
			cfg.Storage.DSN = "liqshield.db"
		case "bolt":
			cfg.Storage.DSN = "liqshield.bolt"
		}
	}
	if cfg.Fill.TimeoutSeconds <= 0 {
		cfg.Fill.TimeoutSeconds = 120
	}
	if cfg.Fill.ReceiptTimeoutSeconds <= 0 {
		cfg.Fill.ReceiptTimeoutSeconds = 60
	}
	if cfg.Fill.GasBufferPct <= 0 {
		cfg.Fill.GasBufferPct = 20
	}
	if cfg.Poller.IntervalSeconds <= 0 {
		cfg.Poller.IntervalSeconds = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
