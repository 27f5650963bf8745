// Package config defines the top-level configuration for the fxsignal bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FXSIGNAL_* environment variables.
type Config struct {
	Terminal    TerminalConfig    `toml:"terminal"`
	Streaming   StreamingConfig   `toml:"streaming"`
	Storage     StorageConfig     `toml:"storage"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Telegram    TelegramConfig    `toml:"telegram"`
	Notify      NotifyConfig      `toml:"notify"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Server      ServerConfig      `toml:"server"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// TerminalConfig holds the broker account and the remote terminal API
// parameters.
type TerminalConfig struct {
	AccountID          string   `toml:"account_id"`
	Token              string   `toml:"token"`
	EncryptedTokenPath string   `toml:"encrypted_token_path"`
	TokenPassword      string   `toml:"token_password"`
	Region             string   `toml:"region"`
	FallbackRegions    []string `toml:"fallback_regions"`
	// ProvisioningURL, ClientURL and StreamURL may contain a {region}
	// placeholder.
	ProvisioningURL string   `toml:"provisioning_url"`
	ClientURL       string   `toml:"client_url"`
	StreamURL       string   `toml:"stream_url"`
	StorageDir      string   `toml:"storage_dir"`
	RequestsPerSec  float64  `toml:"requests_per_sec"`
	ConnectTimeout  duration `toml:"connect_timeout"`
	DeployTimeout   duration `toml:"deploy_timeout"`
}

// StreamingConfig holds the session, reconnect, and event router parameters.
type StreamingConfig struct {
	// Transport selects "stream" (websocket subscription) or "rest" (polling).
	Transport           string   `toml:"transport"`
	AutoStart           bool     `toml:"auto_start"`
	SyncTimeout         duration `toml:"sync_timeout"`
	PollInterval        duration `toml:"poll_interval"`
	ReconnectBase       duration `toml:"reconnect_base"`
	ReconnectMax        duration `toml:"reconnect_max"`
	ReconnectJitter     duration `toml:"reconnect_jitter"`
	CircuitThreshold    int      `toml:"circuit_threshold"`
	StaleEventAfter     duration `toml:"stale_event_after"`
	HistoryRetries      int      `toml:"history_retries"`
	HistoryRetryDelay   duration `toml:"history_retry_delay"`
	PendingRecheckDelay duration `toml:"pending_recheck_delay"`
	SynthesizeSLTP      bool     `toml:"synthesize_sl_tp"`
	DefaultSLPips       float64  `toml:"default_sl_pips"`
	RewardRatio         float64  `toml:"reward_ratio"`
	SignalsEnabled      bool     `toml:"signals_enabled"`
	TelegramEnabled     bool     `toml:"telegram_enabled"`
	ArchiveEnabled      bool     `toml:"archive_enabled"`
	LogCleanupChance    float64  `toml:"log_cleanup_chance"`
}

// StorageConfig selects the persistence backend for mappings, locks and logs.
type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TelegramConfig holds the signal channel bot parameters.
type TelegramConfig struct {
	Token  string `toml:"token"`
	ChatID string `toml:"chat_id"`
	APIURL string `toml:"api_url"`
	// UpdateMode controls the supplementary message sent on SL/TP edits:
	// "none", "reply", or "copy".
	UpdateMode      string   `toml:"update_mode"`
	Celebrate       bool     `toml:"celebrate"`
	WinGIF          string   `toml:"win_gif"`
	LossGIF         string   `toml:"loss_gif"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MaintenanceConfig holds the cron schedules of background sweeps.
type MaintenanceConfig struct {
	Enabled          bool     `toml:"enabled"`
	ArchiveLockSweep string   `toml:"archive_lock_sweep"`
	MappingSweep     string   `toml:"mapping_sweep"`
	LogTrim          string   `toml:"log_trim"`
	LogExport        string   `toml:"log_export"`
	ArchiveLockTTL   duration `toml:"archive_lock_ttl"`
	MappingLockTTL   duration `toml:"mapping_lock_ttl"`
}

// ServerConfig holds operator HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"` // per client per minute; 0 disables, needs Redis
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Terminal: TerminalConfig{
			Region:          "new-york",
			FallbackRegions: []string{"london", "singapore"},
			ProvisioningURL: "https://mt-provisioning-api-v1.agiliumtrade.agiliumtrade.ai",
			ClientURL:       "https://mt-client-api-v1.{region}.agiliumtrade.ai",
			StreamURL:       "wss://mt-client-api-v1.{region}.agiliumtrade.ai/ws",
			StorageDir:      ".fxsignal",
			RequestsPerSec:  5,
			ConnectTimeout:  duration{2 * time.Minute},
			DeployTimeout:   duration{5 * time.Minute},
		},
		Streaming: StreamingConfig{
			Transport:           "stream",
			AutoStart:           true,
			SyncTimeout:         duration{300 * time.Second},
			PollInterval:        duration{10 * time.Second},
			ReconnectBase:       duration{5 * time.Second},
			ReconnectMax:        duration{5 * time.Minute},
			ReconnectJitter:     duration{time.Second},
			CircuitThreshold:    10,
			StaleEventAfter:     duration{5 * time.Minute},
			HistoryRetries:      3,
			HistoryRetryDelay:   duration{2 * time.Second},
			PendingRecheckDelay: duration{time.Second},
			SynthesizeSLTP:      true,
			DefaultSLPips:       50,
			RewardRatio:         2,
			SignalsEnabled:      true,
			TelegramEnabled:     true,
			ArchiveEnabled:      true,
			LogCleanupChance:    0.1,
		},
		Storage: StorageConfig{
			Driver: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "fxsignal:",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fxsignal-archive",
			ForcePathStyle: true,
		},
		Telegram: TelegramConfig{
			APIURL:          "https://api.telegram.org",
			UpdateMode:      "reply",
			Celebrate:       true,
			RateLimit:       20,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"circuit_open", "session_failed", "integrity_error"},
		},
		Maintenance: MaintenanceConfig{
			Enabled:          true,
			ArchiveLockSweep: "@every 1m",
			MappingSweep:     "@every 5m",
			LogTrim:          "@every 10m",
			LogExport:        "0 3 * * *",
			ArchiveLockTTL:   duration{5 * time.Minute},
			MappingLockTTL:   duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:   true,
			Port:      8000,
			RateLimit: 120,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"stream": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validUpdateModes = map[string]bool{
	"none":  true,
	"reply": true,
	"copy":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Missing broker credentials
// are not reported here; they fail the streaming start attempt instead.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: stream, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Terminal
	if c.Terminal.ProvisioningURL == "" {
		errs = append(errs, "terminal: provisioning_url must not be empty")
	}
	if c.Terminal.ClientURL == "" {
		errs = append(errs, "terminal: client_url must not be empty")
	}
	if c.Terminal.EncryptedTokenPath != "" && c.Terminal.TokenPassword == "" {
		errs = append(errs, "terminal: token_password is required when encrypted_token_path is set")
	}
	if c.Terminal.RequestsPerSec <= 0 {
		errs = append(errs, "terminal: requests_per_sec must be > 0")
	}

	// Streaming
	switch c.Streaming.Transport {
	case "stream":
		if c.Terminal.StreamURL == "" {
			errs = append(errs, "terminal: stream_url must not be empty for stream transport")
		}
	case "rest":
		if c.Streaming.PollInterval.Duration <= 0 {
			errs = append(errs, "streaming: poll_interval must be > 0 for rest transport")
		}
	default:
		errs = append(errs, fmt.Sprintf("streaming: unknown transport %q (valid: stream, rest)", c.Streaming.Transport))
	}
	if c.Streaming.SyncTimeout.Duration <= 0 {
		errs = append(errs, "streaming: sync_timeout must be > 0")
	}
	if c.Streaming.ReconnectBase.Duration <= 0 {
		errs = append(errs, "streaming: reconnect_base must be > 0")
	}
	if c.Streaming.ReconnectMax.Duration < c.Streaming.ReconnectBase.Duration {
		errs = append(errs, "streaming: reconnect_max must be >= reconnect_base")
	}
	if c.Streaming.CircuitThreshold < 1 {
		errs = append(errs, "streaming: circuit_threshold must be >= 1")
	}
	if c.Streaming.HistoryRetries < 1 {
		errs = append(errs, "streaming: history_retries must be >= 1")
	}
	if c.Streaming.SynthesizeSLTP {
		if c.Streaming.DefaultSLPips <= 0 {
			errs = append(errs, "streaming: default_sl_pips must be > 0 when synthesize_sl_tp is set")
		}
		if c.Streaming.RewardRatio <= 0 {
			errs = append(errs, "streaming: reward_ratio must be > 0 when synthesize_sl_tp is set")
		}
	}
	if c.Streaming.LogCleanupChance < 0 || c.Streaming.LogCleanupChance > 1 {
		errs = append(errs, "streaming: log_cleanup_chance must be within [0, 1]")
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Telegram
	if c.Streaming.TelegramEnabled && (c.Telegram.Token == "") != (c.Telegram.ChatID == "") {
		errs = append(errs, "telegram: token and chat_id must be set together")
	}
	if !validUpdateModes[c.Telegram.UpdateMode] {
		errs = append(errs, fmt.Sprintf("telegram: unknown update_mode %q (valid: none, reply, copy)", c.Telegram.UpdateMode))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
