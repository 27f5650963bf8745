package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/fxsignalbot/internal/blob/s3"
	"github.com/alanyoungcy/fxsignalbot/internal/cache/redis"
	"github.com/alanyoungcy/fxsignalbot/internal/config"
	"github.com/alanyoungcy/fxsignalbot/internal/crypto"
	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/notify"
	"github.com/alanyoungcy/fxsignalbot/internal/platform/terminal"
	"github.com/alanyoungcy/fxsignalbot/internal/store/memory"
	"github.com/alanyoungcy/fxsignalbot/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the components need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional capabilities are nil when not configured.
type Dependencies struct {
	// Stores
	Signals          domain.SignalStore
	Mappings         domain.SignalMappingStore
	ArchiveLocks     domain.ArchiveLockStore
	TelegramMappings domain.TelegramMappingStore
	TradeHistory     domain.TradeHistoryStore
	StreamingLogs    domain.StreamingLogStore
	Status           domain.StatusStore

	// Redis-backed coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Events      domain.EventBus

	// Blob storage
	Archiver *s3blob.Archiver

	// Broker
	Terminal *terminal.Client
	Token    string

	// Notifications
	Bot      *notify.Bot
	Notifier *notify.Notifier
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

	deps := &Dependencies{}

	// --- Stores ---
	switch cfg.Storage.Driver {
	case "memory":
		logger.WarnContext(ctx, "using in-memory storage; locks are not shared between replicas")
		deps.Signals = memory.NewSignalStore()
		deps.Mappings = memory.NewMappingStore()
		deps.ArchiveLocks = memory.NewArchiveLockStore()
		deps.TelegramMappings = memory.NewTelegramMappingStore()
		deps.TradeHistory = memory.NewTradeHistoryStore()
		deps.StreamingLogs = memory.NewStreamingLogStore()
	default:
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
		deps.Signals = postgres.NewSignalStore(pool)
		deps.Mappings = postgres.NewMappingStore(pool)
		deps.ArchiveLocks = postgres.NewArchiveLockStore(pool)
		deps.TelegramMappings = postgres.NewTelegramMappingStore(pool)
		deps.TradeHistory = postgres.NewTradeHistoryStore(pool)
		deps.StreamingLogs = postgres.NewStreamingLogStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Status = redis.NewStatusStore(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Events = redis.NewEventBus(redisClient)
	} else {
		deps.Status = memory.NewStatusStore()
	}

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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
	}

	// --- Broker terminal ---
	token, err := crypto.LoadToken(crypto.TokenConfig{
		Token:         cfg.Terminal.Token,
		EncryptedPath: cfg.Terminal.EncryptedTokenPath,
		Password:      cfg.Terminal.TokenPassword,
	})
	if err != nil {
		// The session reports the missing token as a configuration error
		// on start; server mode can still run.
		logger.WarnContext(ctx, "terminal token unavailable", slog.String("error", err.Error()))
	}
	deps.Token = token
	deps.Terminal = terminal.NewClient(terminal.ClientConfig{
		Token:           token,
		ProvisioningURL: cfg.Terminal.ProvisioningURL,
		ClientURL:       cfg.Terminal.ClientURL,
		StreamURL:       cfg.Terminal.StreamURL,
		Region:          cfg.Terminal.Region,
		FallbackRegions: cfg.Terminal.FallbackRegions,
		StorageDir:      cfg.Terminal.StorageDir,
		RequestsPerSec:  cfg.Terminal.RequestsPerSec,
	}, logger)

	// --- Notifications ---
	if cfg.Telegram.Token != "" {
		deps.Bot = notify.NewBot(notify.BotConfig{
			Token:           cfg.Telegram.Token,
			APIURL:          cfg.Telegram.APIURL,
			RateLimit:       cfg.Telegram.RateLimit,
			RateLimitWindow: cfg.Telegram.RateLimitWindow.Duration,
		}, deps.RateLimiter)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		alertBot := notify.NewBot(notify.BotConfig{
			Token:  cfg.Notify.TelegramToken,
			APIURL: cfg.Telegram.APIURL,
		}, nil)
		senders = append(senders, notify.NewTelegramSender(alertBot, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
