package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETD_* environment variable overrides, and
// returns the final Config. An empty path skips the file and runs on defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setStr(&cfg.Market.Address, "MARKETD_MARKET_ADDRESS")
	setStr(&cfg.Market.Storage, "MARKETD_MARKET_STORAGE")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "MARKETD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "MARKETD_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.SettlementToken, "MARKETD_CHAIN_SETTLEMENT_TOKEN")
	setStr(&cfg.Chain.PrivateKey, "MARKETD_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "MARKETD_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "MARKETD_CHAIN_KEY_PASSWORD")
	setDuration(&cfg.Chain.ReceiptTimeout, "MARKETD_CHAIN_RECEIPT_TIMEOUT")
	setDuration(&cfg.Chain.PollInterval, "MARKETD_CHAIN_POLL_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARKETD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MARKETD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKETD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKETD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "MARKETD_REDIS_NAMESPACE")
	setDuration(&cfg.Redis.LockTTL, "MARKETD_REDIS_LOCK_TTL")
	setInt(&cfg.Redis.StreamMaxLen, "MARKETD_REDIS_STREAM_MAX_LEN")
	setInt(&cfg.Redis.CacheTTLMinutes, "MARKETD_REDIS_CACHE_TTL_MINUTES")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARKETD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETD_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETD_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "MARKETD_S3_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MARKETD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "MARKETD_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "MARKETD_ARCHIVE_RETENTION")
	setBool(&cfg.Archive.Prune, "MARKETD_ARCHIVE_PRUNE")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKETD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARKETD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MARKETD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MARKETD_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.MaxSkew, "MARKETD_SERVER_MAX_SKEW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETD_MODE")
	setStr(&cfg.LogLevel, "MARKETD_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
