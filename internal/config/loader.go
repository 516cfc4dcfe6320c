package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HEDGEBRIDGE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HEDGEBRIDGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.URL, "HEDGEBRIDGE_DATABASE_URL")
	setInt(&cfg.Database.PoolMaxConns, "HEDGEBRIDGE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "HEDGEBRIDGE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "HEDGEBRIDGE_DATABASE_RUN_MIGRATIONS")

	// ── Chain ──
	setStr(&cfg.Chain.WSRPCURL, "HEDGEBRIDGE_CHAIN_WS_RPC_URL")
	setStr(&cfg.Chain.OrderbookAddress, "HEDGEBRIDGE_CHAIN_ORDERBOOK_ADDRESS")
	setStr(&cfg.Chain.OrderHash, "HEDGEBRIDGE_CHAIN_ORDER_HASH")
	setUint64(&cfg.Chain.DeploymentBlock, "HEDGEBRIDGE_CHAIN_DEPLOYMENT_BLOCK")

	// ── Broker ──
	setStr(&cfg.Broker.Kind, "HEDGEBRIDGE_BROKER_KIND")
	setStr(&cfg.Broker.BaseURL, "HEDGEBRIDGE_BROKER_BASE_URL")
	setInt(&cfg.Broker.AccountIndex, "HEDGEBRIDGE_BROKER_ACCOUNT_INDEX")
	setStr(&cfg.Broker.AccountHash, "HEDGEBRIDGE_BROKER_ACCOUNT_HASH")
	setStr(&cfg.Broker.ClientID, "HEDGEBRIDGE_BROKER_CLIENT_ID")
	setStr(&cfg.Broker.ClientSecret, "HEDGEBRIDGE_BROKER_CLIENT_SECRET")
	setStr(&cfg.Broker.AuthURL, "HEDGEBRIDGE_BROKER_AUTH_URL")
	setStr(&cfg.Broker.TokenURL, "HEDGEBRIDGE_BROKER_TOKEN_URL")
	setDuration(&cfg.Broker.HTTPTimeout, "HEDGEBRIDGE_BROKER_HTTP_TIMEOUT")
	setStr(&cfg.Broker.TokenKeyPassphrase, "HEDGEBRIDGE_BROKER_TOKEN_KEY_PASSPHRASE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "HEDGEBRIDGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGEBRIDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGEBRIDGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HEDGEBRIDGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HEDGEBRIDGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HEDGEBRIDGE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "HEDGEBRIDGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HEDGEBRIDGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "HEDGEBRIDGE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HEDGEBRIDGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HEDGEBRIDGE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HEDGEBRIDGE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HEDGEBRIDGE_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "HEDGEBRIDGE_S3_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "HEDGEBRIDGE_S3_ARCHIVE_CRON")

	// ── Execution ──
	setDuration(&cfg.Execution.PollInterval, "HEDGEBRIDGE_EXECUTION_POLL_INTERVAL")
	setDuration(&cfg.Execution.PollJitter, "HEDGEBRIDGE_EXECUTION_POLL_JITTER")
	setDuration(&cfg.Execution.LeaseTTL, "HEDGEBRIDGE_EXECUTION_LEASE_TTL")
	setInt(&cfg.Execution.PlaceRetry.Max, "HEDGEBRIDGE_EXECUTION_PLACE_RETRY_MAX")
	setDuration(&cfg.Execution.PlaceRetry.Base, "HEDGEBRIDGE_EXECUTION_PLACE_RETRY_BASE")
	setFloat64(&cfg.Execution.PlaceRetry.Factor, "HEDGEBRIDGE_EXECUTION_PLACE_RETRY_FACTOR")

	// ── Telemetry ──
	setStr(&cfg.Telemetry.Endpoint, "HEDGEBRIDGE_TELEMETRY_ENDPOINT")
	setStr(&cfg.Telemetry.Key, "HEDGEBRIDGE_TELEMETRY_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "HEDGEBRIDGE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "HEDGEBRIDGE_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HEDGEBRIDGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HEDGEBRIDGE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HEDGEBRIDGE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "HEDGEBRIDGE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "HEDGEBRIDGE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
