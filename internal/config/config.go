// Package config defines the top-level configuration for the hedging daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by HEDGEBRIDGE_* environment
// variables.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Chain     ChainConfig     `toml:"chain"`
	Broker    BrokerConfig    `toml:"broker"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Execution ExecutionConfig `toml:"execution"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// DatabaseConfig holds the durable-store (C1) connection parameters.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ChainConfig holds the on-chain ingestion parameters consumed by the
// chainfeed websocket subscriber and the trade decoder.
type ChainConfig struct {
	WSRPCURL         string         `toml:"ws_rpc_url"`
	OrderbookAddress string         `toml:"orderbook_address"`
	OrderHash        string         `toml:"order_hash"`
	DeploymentBlock  uint64         `toml:"deployment_block"`
	// Tokens maps each tokenized-equity contract the engine watches to the
	// off-chain ticker and decimal count the decoder resolves it to. RPC-based
	// ERC-20 metadata resolution is out of scope (spec §1 External
	// collaborators), so this operator-supplied table is the only source.
	Tokens []TokenMapping `toml:"tokens"`
}

// TokenMapping binds one on-chain token contract to its off-chain symbol.
type TokenMapping struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

// BrokerConfig selects and configures the broker adapter (C7).
type BrokerConfig struct {
	// Kind is either "real" or "simulated".
	Kind         string   `toml:"kind"`
	BaseURL      string   `toml:"base_url"`
	AccountIndex int      `toml:"account_index"`
	AccountHash  string   `toml:"account_hash"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	HTTPTimeout  duration `toml:"http_timeout"`
	// TokenKeyPassphrase derives the pbkdf2 key used to encrypt OAuth tokens
	// at rest in broker_tokens.
	TokenKeyPassphrase string `toml:"token_key_passphrase"`
}

// RedisConfig holds Redis connection parameters, used by the lease hint
// cache and the broker-call rate limiter.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the
// cold-storage archiver.
type S3Config struct {
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	ArchiveCron          string `toml:"archive_cron"`
}

// RetryConfig is the bounded exponential backoff policy for order placement
// (C8).
type RetryConfig struct {
	Max    int      `toml:"max"`
	Base   duration `toml:"base"`
	Factor float64  `toml:"factor"`
}

// ExecutionConfig holds the timing knobs for the lease, poller, and
// executor.
type ExecutionConfig struct {
	PollInterval duration    `toml:"poll_interval"`
	PollJitter   duration    `toml:"poll_jitter"`
	LeaseTTL     duration    `toml:"lease_ttl"`
	PlaceRetry   RetryConfig `toml:"place_retry"`
}

// TelemetryConfig holds the optional telemetry exporter endpoint.
type TelemetryConfig struct {
	Endpoint string `toml:"endpoint"`
	Key      string `toml:"key"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the minimal operator HTTP surface: health, reporting,
// and the Prometheus metrics endpoint. There is no trading control surface.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds operator-notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values,
// matching spec §6's stated defaults (poll_interval=15s, poll_jitter=5s,
// lease_ttl=5m, place_retry{max=3,base=100ms,factor=2}).
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Broker: BrokerConfig{
			Kind:        "simulated",
			HTTPTimeout: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "hedgebridge-archive",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Execution: ExecutionConfig{
			PollInterval: duration{15 * time.Second},
			PollJitter:   duration{5 * time.Second},
			LeaseTTL:     duration{5 * time.Minute},
			PlaceRetry: RetryConfig{
				Max:    3,
				Base:   duration{100 * time.Millisecond},
				Factor: 2,
			},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"execution.filled", "execution.failed", "execution.startup_sweep"},
		},
		LogLevel: "info",
	}
}

// validBrokerKinds enumerates the accepted values for Config.Broker.Kind.
var validBrokerKinds = map[string]bool{
	"real":      true,
	"simulated": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: trace, debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, "database: url must not be empty")
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Chain
	if c.Chain.WSRPCURL == "" {
		errs = append(errs, "chain: ws_rpc_url must not be empty")
	}
	if c.Chain.OrderbookAddress == "" {
		errs = append(errs, "chain: orderbook_address must not be empty")
	}
	if c.Chain.OrderHash == "" {
		errs = append(errs, "chain: order_hash must not be empty")
	}
	if len(c.Chain.Tokens) == 0 {
		errs = append(errs, "chain: at least one [[chain.tokens]] entry is required")
	}
	for _, t := range c.Chain.Tokens {
		if t.Address == "" || t.Symbol == "" {
			errs = append(errs, "chain: each tokens entry requires address and symbol")
			break
		}
	}

	// Broker
	if !validBrokerKinds[strings.ToLower(c.Broker.Kind)] {
		errs = append(errs, fmt.Sprintf("unknown broker.kind %q (valid: real, simulated)", c.Broker.Kind))
	}
	if strings.ToLower(c.Broker.Kind) == "real" {
		if c.Broker.BaseURL == "" {
			errs = append(errs, "broker: base_url is required when kind=real")
		}
		if c.Broker.ClientID == "" || c.Broker.ClientSecret == "" {
			errs = append(errs, "broker: client_id and client_secret are required when kind=real")
		}
		if c.Broker.AccountHash == "" {
			errs = append(errs, "broker: account_hash is required when kind=real")
		}
		if c.Broker.AuthURL == "" || c.Broker.TokenURL == "" {
			errs = append(errs, "broker: auth_url and token_url are required when kind=real")
		}
		if c.Broker.TokenKeyPassphrase == "" {
			errs = append(errs, "broker: token_key_passphrase is required when kind=real")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.S3.ArchiveRetentionDays < 1 {
		errs = append(errs, "s3: archive_retention_days must be >= 1")
	}

	// Execution
	if c.Execution.PollInterval.Duration <= 0 {
		errs = append(errs, "execution: poll_interval must be > 0")
	}
	if c.Execution.LeaseTTL.Duration <= 0 {
		errs = append(errs, "execution: lease_ttl must be > 0")
	}
	if c.Execution.PlaceRetry.Max < 1 {
		errs = append(errs, "execution: place_retry.max must be >= 1")
	}
	if c.Execution.PlaceRetry.Base.Duration <= 0 {
		errs = append(errs, "execution: place_retry.base must be > 0")
	}
	if c.Execution.PlaceRetry.Factor <= 1 {
		errs = append(errs, "execution: place_retry.factor must be > 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
