package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/tokenmarket/internal/blob/s3"
	"github.com/alanyoungcy/tokenmarket/internal/cache/redis"
	"github.com/alanyoungcy/tokenmarket/internal/chain"
	"github.com/alanyoungcy/tokenmarket/internal/config"
	"github.com/alanyoungcy/tokenmarket/internal/crypto"
	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/notify"
	"github.com/alanyoungcy/tokenmarket/internal/sandbox"
	"github.com/alanyoungcy/tokenmarket/internal/server/handler"
	"github.com/alanyoungcy/tokenmarket/internal/server/middleware"
	"github.com/alanyoungcy/tokenmarket/internal/store/memory"
	"github.com/alanyoungcy/tokenmarket/internal/store/postgres"
)

// EventLog is the committed event outbox: readable by the API and the
// archiver, and prunable once archived.
type EventLog interface {
	domain.EventStore
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Dependencies bundles every collaborator the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function. Nil
// interface fields mean the backing service is not configured.
type Dependencies struct {
	// Storage
	Store  domain.MarketStore
	Events EventLog
	Audit  domain.AuditStore

	// Settlement
	MarketAddress common.Address
	Assets        domain.AssetRegistry
	Treasury      domain.Treasury
	// Sandbox collaborators, set only in sandbox mode.
	SandboxAssets   *sandbox.Registry
	SandboxTreasury *sandbox.Treasury

	// Coordination
	Bus         domain.SignalBus
	Lock        domain.LockManager
	RateLimiter domain.RateLimiter
	Cache       domain.CollectionCache
	Replay      middleware.ReplayGuard

	// Blob storage
	Archiver *s3blob.EventArchiver

	// Notifications
	Notifier *notify.Notifier

	// Checks are the dependency checks served by the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Storage ---
	if cfg.UsesPostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.Store = postgres.NewMarketStore(pool)
		deps.Events = postgres.NewEventStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	} else {
		store := memory.New()
		deps.Store = store
		deps.Events = store
		deps.Audit = store.Audit()
	}

	// --- Settlement ---
	switch mode {
	case "sandbox":
		assets := sandbox.NewRegistry()
		treasury := sandbox.NewTreasury()
		deps.Assets, deps.SandboxAssets = assets, assets
		deps.Treasury, deps.SandboxTreasury = treasury, treasury
		deps.MarketAddress = common.HexToAddress(cfg.Market.Address)

	case "server":
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			return fail("operator key", err)
		}
		signer, err := crypto.NewSigner(keyHex)
		if err != nil {
			return fail("operator key", err)
		}

		client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fail("chain rpc", err)
		}
		closers = append(closers, client.Close)

		tx := chain.NewTransactor(client, signer.PrivateKey(), chain.TransactorConfig{
			ChainID:        big.NewInt(cfg.Chain.ChainID),
			ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
			PollInterval:   cfg.Chain.PollInterval.Duration,
		}, logger)
		deps.Assets = chain.NewRegistry(tx)
		deps.Treasury = chain.NewTreasury(tx, common.HexToAddress(cfg.Chain.SettlementToken))
		deps.MarketAddress = tx.Address()
		if cfg.Market.Address != "" {
			deps.MarketAddress = common.HexToAddress(cfg.Market.Address)
		}
		deps.Checks["chain"] = func(ctx context.Context) error {
			_, err := client.BlockNumber(ctx)
			return err
		}
		logger.InfoContext(ctx, "chain settlement wired",
			slog.String("operator", tx.Address().Hex()),
			slog.String("market", deps.MarketAddress.Hex()),
			slog.Int64("chain_id", cfg.Chain.ChainID),
		)
	}

	// --- Redis ---
	if cfg.Redis.Enabled && mode != "archive" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		logger.InfoContext(ctx, "redis wired",
			slog.String("addr", cfg.Redis.Addr),
			slog.String("namespace", redisClient.Namespace()),
		)

		cacheTTL := time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
		deps.Bus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.Lock = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Cache = redis.NewCollectionCache(redisClient, cacheTTL)
		deps.Replay = redis.NewReplayGuard(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		// A single process needs no cross-replica fan-out.
		deps.Bus = sandbox.NewBus()
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled || mode == "archive" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}

		var pruner s3blob.EventPruner
		if cfg.Archive.Prune {
			pruner = deps.Events
		}
		deps.Archiver = s3blob.NewEventArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Events,
			pruner,
			deps.Audit,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
