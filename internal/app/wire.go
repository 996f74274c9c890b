package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flashpool/internal/attest"
	s3blob "github.com/alanyoungcy/flashpool/internal/blob/s3"
	"github.com/alanyoungcy/flashpool/internal/cache/redis"
	"github.com/alanyoungcy/flashpool/internal/config"
	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/engine"
	"github.com/alanyoungcy/flashpool/internal/notify"
	"github.com/alanyoungcy/flashpool/internal/oracle"
	"github.com/alanyoungcy/flashpool/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Engine is the in-process accounting core. All modes share one instance;
	// the stores below are journals of what the engine already decided.
	Engine *engine.Engine

	// Stores
	AccountStore    domain.AccountStore
	EventStore      domain.EventStore
	WagerStore      domain.WagerStore
	SettlementStore domain.SettlementStore
	AuditStore      domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Oracle is nil when no feed endpoint is configured; the settler loop
	// then only sweeps expired windows and leaves settlement to the admin API.
	Oracle oracle.PriceOracle

	// Attestor verifies model-provenance claims on event creation.
	Attestor *attest.Verifier

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	accountStore := postgres.NewAccountStore(pool)
	eventStore := postgres.NewEventStore(pool)
	wagerStore := postgres.NewWagerStore(pool)
	deps.AccountStore = accountStore
	deps.EventStore = eventStore
	deps.WagerStore = wagerStore
	deps.SettlementStore = postgres.NewSettlementStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Price oracle ---
	if cfg.Oracle.URL != "" {
		client := oracle.NewClient(cfg.Oracle.URL, cfg.Oracle.APIKey)
		deps.Oracle = oracle.NewCached(client, deps.PriceCache, time.Now)
	}

	// --- Attestation verifier ---
	deps.Attestor = attest.NewVerifier(cfg.Attest.TrustedModels, cfg.Attest.Attestors)

	// --- Engine ---
	var refresher engine.PriceRefresher
	if deps.Oracle != nil {
		refresher = deps.Oracle
	}
	deps.Engine = engine.New(engine.Config{
		Admins: map[engine.Role]string{
			engine.RoleScheduler: cfg.Engine.SchedulerAdmin,
			engine.RoleSettler:   cfg.Engine.SettlerAdmin,
			engine.RoleEngineOps: cfg.Engine.OpsAdmin,
		},
		Oracle: refresher,
	})

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			writer,
			eventStore,
			wagerStore,
			deps.AuditStore,
		)
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
