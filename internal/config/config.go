// Package config defines the top-level configuration for the marketplace
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig selects the marketplace identity and its storage backend.
type MarketConfig struct {
	// Address is the marketplace's own identity, the spender checked for
	// transfer approval. In server mode it defaults to the operator key's
	// address.
	Address string `toml:"address"`
	// Storage is "memory" or "postgres".
	Storage string `toml:"storage"`
}

// ChainConfig holds the RPC endpoint and operator key used to settle on
// chain.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int64    `toml:"chain_id"`
	SettlementToken  string   `toml:"settlement_token"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	ReceiptTimeout   duration `toml:"receipt_timeout"`
	PollInterval     duration `toml:"poll_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection and coordination parameters.
type RedisConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	Password        string   `toml:"password"`
	DB              int      `toml:"db"`
	PoolSize        int      `toml:"pool_size"`
	MaxRetries      int      `toml:"max_retries"`
	TLSEnabled      bool     `toml:"tls_enabled"`
	Namespace       string   `toml:"namespace"`
	LockTTL         duration `toml:"lock_ttl"`
	StreamMaxLen    int      `toml:"stream_max_len"`
	CacheTTLMinutes int      `toml:"cache_ttl_minutes"`
}

// S3Config holds S3-compatible object-storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig controls the periodic export of committed events to S3.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
	// Prune deletes events from the primary store once archived.
	Prune bool `toml:"prune"`
}

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	MaxSkew     duration `toml:"max_skew"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values. Callers
// typically decode a TOML file on top of these defaults.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			Storage: "postgres",
		},
		Chain: ChainConfig{
			ChainID:        1,
			ReceiptTimeout: duration{2 * time.Minute},
			PollInterval:   duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tokenmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:         true,
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			Namespace:       "marketd",
			LockTTL:         duration{30 * time.Second},
			StreamMaxLen:    10000,
			CacheTTLMinutes: 10,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tokenmarket",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  duration{24 * time.Hour},
			Retention: duration{30 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
			MaxSkew:     duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"token_bought", "collection_configured", "collection_disabled"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"sandbox": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UsesPostgres reports whether the configured mode persists to PostgreSQL.
// Sandbox mode always runs on the in-memory store.
func (c *Config) UsesPostgres() bool {
	switch strings.ToLower(c.Mode) {
	case "archive":
		return true
	case "server":
		return strings.ToLower(c.Market.Storage) == "postgres"
	default:
		return false
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sandbox, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	switch strings.ToLower(c.Market.Storage) {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("market: storage must be memory or postgres, got %q", c.Market.Storage))
	}
	if c.Market.Address != "" && !common.IsHexAddress(c.Market.Address) {
		errs = append(errs, fmt.Sprintf("market: address %q is not a hex address", c.Market.Address))
	}
	if mode == "sandbox" && c.Market.Address == "" {
		errs = append(errs, "market: address is required in sandbox mode")
	}

	// Chain: server mode settles through the operator key.
	if mode == "server" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if !common.IsHexAddress(c.Chain.SettlementToken) {
			errs = append(errs, "chain: settlement_token must be a hex address")
		}
		if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
			errs = append(errs, "chain: either private_key or encrypted_key_path must be set")
		}
		if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
			errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.ReceiptTimeout.Duration <= 0 {
			errs = append(errs, "chain: receipt_timeout must be > 0")
		}
	}

	// Postgres
	if c.UsesPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled && mode != "archive" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	// S3 + archive
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.Retention.Duration < 0 {
			errs = append(errs, "archive: retention must be >= 0")
		}
	}

	// Server
	if mode != "archive" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.MaxSkew.Duration <= 0 {
			errs = append(errs, "server: max_skew must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
