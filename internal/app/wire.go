package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quantlab/orderflow/internal/blob/s3"
	"github.com/quantlab/orderflow/internal/cache/redis"
	"github.com/quantlab/orderflow/internal/config"
	"github.com/quantlab/orderflow/internal/domain"
	"github.com/quantlab/orderflow/internal/notify"
	"github.com/quantlab/orderflow/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes operate on.
// Wire constructs it; the returned cleanup function tears it down.
type Dependencies struct {
	// Redis
	SignalBus   *redis.SignalBus
	StatsCache  *redis.StatsCache
	RateLimiter domain.RateLimiter
	RedisPing   func(ctx context.Context) error

	// Postgres
	SignalStore  *postgres.SignalStore
	PostgresPing func(ctx context.Context) error

	// S3 blob storage; nil unless s3.enabled.
	StatsArchiver  *s3blob.StatsArchiver
	SignalArchiver *s3blob.SignalArchiver
	BlobReader     *s3blob.Reader

	// Notifications; nil when no channel is configured.
	Notifier *notify.SignalNotifier
}

// Wire constructs the concrete infrastructure from the configuration and
// returns it with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

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

	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamKey, cfg.Redis.StreamLen)
	deps.StatsCache = redis.NewStatsCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.RedisPing = redisClient.Ping

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

	deps.SignalStore = postgres.NewSignalStore(pgClient.Pool())
	deps.PostgresPing = pgClient.Pool().Ping

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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

		writer := s3blob.NewWriter(s3Client)
		deps.StatsArchiver = s3blob.NewStatsArchiver(writer)
		deps.SignalArchiver = s3blob.NewSignalArchiver(writer, deps.SignalStore)
		deps.BlobReader = s3blob.NewReader(s3Client)
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
	if len(senders) > 0 {
		deps.Notifier = notify.NewSignalNotifier(senders, notify.Config{
			MinConfidence: cfg.Notify.MinConfidence,
			PriceScale:    domain.Scale(cfg.Book.PriceScale),
		}, logger)
	}

	return deps, cleanup, nil
}
