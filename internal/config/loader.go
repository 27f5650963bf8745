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
// built-in defaults, applies FXSIGNAL_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FXSIGNAL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Terminal ──
	setStr(&cfg.Terminal.AccountID, "FXSIGNAL_TERMINAL_ACCOUNT_ID")
	setStr(&cfg.Terminal.Token, "FXSIGNAL_TERMINAL_TOKEN")
	setStr(&cfg.Terminal.EncryptedTokenPath, "FXSIGNAL_TERMINAL_ENCRYPTED_TOKEN_PATH")
	setStr(&cfg.Terminal.TokenPassword, "FXSIGNAL_TERMINAL_TOKEN_PASSWORD")
	setStr(&cfg.Terminal.Region, "FXSIGNAL_TERMINAL_REGION")
	setStringSlice(&cfg.Terminal.FallbackRegions, "FXSIGNAL_TERMINAL_FALLBACK_REGIONS")
	setStr(&cfg.Terminal.ProvisioningURL, "FXSIGNAL_TERMINAL_PROVISIONING_URL")
	setStr(&cfg.Terminal.ClientURL, "FXSIGNAL_TERMINAL_CLIENT_URL")
	setStr(&cfg.Terminal.StreamURL, "FXSIGNAL_TERMINAL_STREAM_URL")
	setStr(&cfg.Terminal.StorageDir, "FXSIGNAL_TERMINAL_STORAGE_DIR")
	setFloat64(&cfg.Terminal.RequestsPerSec, "FXSIGNAL_TERMINAL_REQUESTS_PER_SEC")
	setDuration(&cfg.Terminal.ConnectTimeout, "FXSIGNAL_TERMINAL_CONNECT_TIMEOUT")
	setDuration(&cfg.Terminal.DeployTimeout, "FXSIGNAL_TERMINAL_DEPLOY_TIMEOUT")

	// ── Streaming ──
	setStr(&cfg.Streaming.Transport, "FXSIGNAL_STREAMING_TRANSPORT")
	setBool(&cfg.Streaming.AutoStart, "FXSIGNAL_STREAMING_AUTO_START")
	setDuration(&cfg.Streaming.SyncTimeout, "FXSIGNAL_STREAMING_SYNC_TIMEOUT")
	setDuration(&cfg.Streaming.PollInterval, "FXSIGNAL_STREAMING_POLL_INTERVAL")
	setDuration(&cfg.Streaming.ReconnectBase, "FXSIGNAL_STREAMING_RECONNECT_BASE")
	setDuration(&cfg.Streaming.ReconnectMax, "FXSIGNAL_STREAMING_RECONNECT_MAX")
	setDuration(&cfg.Streaming.ReconnectJitter, "FXSIGNAL_STREAMING_RECONNECT_JITTER")
	setInt(&cfg.Streaming.CircuitThreshold, "FXSIGNAL_STREAMING_CIRCUIT_THRESHOLD")
	setDuration(&cfg.Streaming.StaleEventAfter, "FXSIGNAL_STREAMING_STALE_EVENT_AFTER")
	setInt(&cfg.Streaming.HistoryRetries, "FXSIGNAL_STREAMING_HISTORY_RETRIES")
	setDuration(&cfg.Streaming.HistoryRetryDelay, "FXSIGNAL_STREAMING_HISTORY_RETRY_DELAY")
	setDuration(&cfg.Streaming.PendingRecheckDelay, "FXSIGNAL_STREAMING_PENDING_RECHECK_DELAY")
	setBool(&cfg.Streaming.SynthesizeSLTP, "FXSIGNAL_STREAMING_SYNTHESIZE_SL_TP")
	setFloat64(&cfg.Streaming.DefaultSLPips, "FXSIGNAL_STREAMING_DEFAULT_SL_PIPS")
	setFloat64(&cfg.Streaming.RewardRatio, "FXSIGNAL_STREAMING_REWARD_RATIO")
	setBool(&cfg.Streaming.SignalsEnabled, "FXSIGNAL_STREAMING_SIGNALS_ENABLED")
	setBool(&cfg.Streaming.TelegramEnabled, "FXSIGNAL_STREAMING_TELEGRAM_ENABLED")
	setBool(&cfg.Streaming.ArchiveEnabled, "FXSIGNAL_STREAMING_ARCHIVE_ENABLED")
	setFloat64(&cfg.Streaming.LogCleanupChance, "FXSIGNAL_STREAMING_LOG_CLEANUP_CHANCE")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "FXSIGNAL_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FXSIGNAL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FXSIGNAL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FXSIGNAL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FXSIGNAL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FXSIGNAL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FXSIGNAL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FXSIGNAL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FXSIGNAL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FXSIGNAL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FXSIGNAL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FXSIGNAL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FXSIGNAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FXSIGNAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FXSIGNAL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FXSIGNAL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FXSIGNAL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FXSIGNAL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "FXSIGNAL_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FXSIGNAL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FXSIGNAL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FXSIGNAL_S3_REGION")
	setStr(&cfg.S3.Bucket, "FXSIGNAL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FXSIGNAL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FXSIGNAL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FXSIGNAL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FXSIGNAL_S3_FORCE_PATH_STYLE")

	// ── Telegram ──
	setStr(&cfg.Telegram.Token, "FXSIGNAL_TELEGRAM_TOKEN")
	setStr(&cfg.Telegram.ChatID, "FXSIGNAL_TELEGRAM_CHAT_ID")
	setStr(&cfg.Telegram.APIURL, "FXSIGNAL_TELEGRAM_API_URL")
	setStr(&cfg.Telegram.UpdateMode, "FXSIGNAL_TELEGRAM_UPDATE_MODE")
	setBool(&cfg.Telegram.Celebrate, "FXSIGNAL_TELEGRAM_CELEBRATE")
	setStr(&cfg.Telegram.WinGIF, "FXSIGNAL_TELEGRAM_WIN_GIF")
	setStr(&cfg.Telegram.LossGIF, "FXSIGNAL_TELEGRAM_LOSS_GIF")
	setInt(&cfg.Telegram.RateLimit, "FXSIGNAL_TELEGRAM_RATE_LIMIT")
	setDuration(&cfg.Telegram.RateLimitWindow, "FXSIGNAL_TELEGRAM_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FXSIGNAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FXSIGNAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FXSIGNAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FXSIGNAL_NOTIFY_EVENTS")

	// ── Maintenance ──
	setBool(&cfg.Maintenance.Enabled, "FXSIGNAL_MAINTENANCE_ENABLED")
	setStr(&cfg.Maintenance.ArchiveLockSweep, "FXSIGNAL_MAINTENANCE_ARCHIVE_LOCK_SWEEP")
	setStr(&cfg.Maintenance.MappingSweep, "FXSIGNAL_MAINTENANCE_MAPPING_SWEEP")
	setStr(&cfg.Maintenance.LogTrim, "FXSIGNAL_MAINTENANCE_LOG_TRIM")
	setStr(&cfg.Maintenance.LogExport, "FXSIGNAL_MAINTENANCE_LOG_EXPORT")
	setDuration(&cfg.Maintenance.ArchiveLockTTL, "FXSIGNAL_MAINTENANCE_ARCHIVE_LOCK_TTL")
	setDuration(&cfg.Maintenance.MappingLockTTL, "FXSIGNAL_MAINTENANCE_MAPPING_LOCK_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FXSIGNAL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FXSIGNAL_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "FXSIGNAL_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "FXSIGNAL_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "FXSIGNAL_SERVER_RATE_LIMIT")

	// ── Top-level ──
	setStr(&cfg.Mode, "FXSIGNAL_MODE")
	setStr(&cfg.LogLevel, "FXSIGNAL_LOG_LEVEL")
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
