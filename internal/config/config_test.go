package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "sandbox"
log_level = "debug"

[market]
address = "0x00000000000000000000000000000000000000aa"
storage = "memory"

[server]
port = 9090
rate_window = "30s"
max_skew = "2m"

[archive]
retention = "168h"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "sandbox", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Server.MaxSkew.Duration)
	assert.Equal(t, 168*time.Hour, cfg.Archive.Retention.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "marketd", cfg.Redis.Namespace)
	assert.Equal(t, 120, cfg.Server.RateLimit)

	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, sampleTOML+"\n[wallet]\nsafe_address = \"x\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MARKETD_SERVER_PORT", "7070")
	t.Setenv("MARKETD_REDIS_ENABLED", "false")
	t.Setenv("MARKETD_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MARKETD_ARCHIVE_INTERVAL", "90m")
	t.Setenv("MARKETD_CHAIN_CHAIN_ID", "not-a-number")
	t.Setenv("MARKETD_REDIS_NAMESPACE", "market-eu")
	t.Setenv("MARKETD_S3_PREFIX", "eu/")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 90*time.Minute, cfg.Archive.Interval.Duration)
	assert.Equal(t, "market-eu", cfg.Redis.Namespace)
	assert.Equal(t, "eu/", cfg.S3.Prefix)
	// Unparseable values leave the field alone.
	assert.Equal(t, int64(1), cfg.Chain.ChainID)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("MARKETD_MODE", "archive")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "archive", cfg.Mode)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Market.Storage = "sqlite"
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "market: storage")
	assert.Contains(t, msg, "server: port")
}

func TestValidateServerModeNeedsChain(t *testing.T) {
	cfg := Defaults()

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "chain: rpc_url")
	assert.Contains(t, msg, "chain: settlement_token")
	assert.Contains(t, msg, "chain: either private_key or encrypted_key_path")

	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.SettlementToken = "0x00000000000000000000000000000000000000cc"
	cfg.Chain.EncryptedKeyPath = "/etc/marketd/key.json"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")

	cfg.Chain.KeyPassword = "hunter2"
	require.NoError(t, cfg.Validate())
}

func TestValidateSandboxNeedsAddress(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sandbox"
	require.ErrorContains(t, cfg.Validate(), "market: address is required")

	cfg.Market.Address = "not-hex"
	require.ErrorContains(t, cfg.Validate(), "not a hex address")
}

func TestValidateArchiveMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.S3.Bucket = ""
	cfg.Archive.Interval = duration{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
	assert.Contains(t, err.Error(), "archive: interval")
	assert.NotContains(t, err.Error(), "chain:")
	assert.True(t, cfg.UsesPostgres())
}

func TestUsesPostgres(t *testing.T) {
	cfg := Defaults()
	assert.True(t, cfg.UsesPostgres())

	cfg.Market.Storage = "memory"
	assert.False(t, cfg.UsesPostgres())

	cfg.Mode = "sandbox"
	cfg.Market.Storage = "postgres"
	assert.False(t, cfg.UsesPostgres())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.PrivateKey = "0xdeadbeef"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Server.APIKey = "operator-key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Chain.PrivateKey)
	assert.Equal(t, redacted, out.Postgres.DSN)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.DiscordWebhookURL)
	// Empty secrets stay empty so operators can see what is unset.
	assert.Empty(t, out.Chain.KeyPassword)

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "0xdeadbeef", cfg.Chain.PrivateKey)
}
