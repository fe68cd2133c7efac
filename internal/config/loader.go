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
// built-in defaults, applies ORDERFLOW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known ORDERFLOW_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.WsHost, "ORDERFLOW_FEED_WS_HOST")
	setStringSlice(&cfg.Feed.Symbols, "ORDERFLOW_FEED_SYMBOLS")
	setDuration(&cfg.Feed.ReconnectMin, "ORDERFLOW_FEED_RECONNECT_MIN")
	setDuration(&cfg.Feed.ReconnectMax, "ORDERFLOW_FEED_RECONNECT_MAX")
	setDuration(&cfg.Feed.ReadTimeout, "ORDERFLOW_FEED_READ_TIMEOUT")
	setDuration(&cfg.Feed.PingInterval, "ORDERFLOW_FEED_PING_INTERVAL")
	setStr(&cfg.Feed.DepthSpeed, "ORDERFLOW_FEED_DEPTH_SPEED")
	setDuration(&cfg.Feed.UnhealthyTimeout, "ORDERFLOW_FEED_UNHEALTHY_TIMEOUT")

	// ── Book ──
	setInt(&cfg.Book.PriceScale, "ORDERFLOW_BOOK_PRICE_SCALE")
	setInt(&cfg.Book.QuantityScale, "ORDERFLOW_BOOK_QUANTITY_SCALE")

	// ── Detectors ──
	setBool(&cfg.Absorption.Enabled, "ORDERFLOW_ABSORPTION_ENABLED")
	setBool(&cfg.Exhaustion.Enabled, "ORDERFLOW_EXHAUSTION_ENABLED")
	setBool(&cfg.AccumDist.Enabled, "ORDERFLOW_ACCUMDIST_ENABLED")

	// ── Coordinator ──
	setFloat64(&cfg.Coordinator.MinConfidence, "ORDERFLOW_COORDINATOR_MIN_CONFIDENCE")
	setFloat64(&cfg.Coordinator.BypassConfidence, "ORDERFLOW_COORDINATOR_BYPASS_CONFIDENCE")
	setStr(&cfg.Coordinator.ConflictStrategy, "ORDERFLOW_COORDINATOR_CONFLICT_STRATEGY")
	setInt(&cfg.Coordinator.QueueCapacity, "ORDERFLOW_COORDINATOR_QUEUE_CAPACITY")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ORDERFLOW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORDERFLOW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORDERFLOW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORDERFLOW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORDERFLOW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORDERFLOW_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.StreamKey, "ORDERFLOW_REDIS_STREAM_KEY")
	setInt64(&cfg.Redis.StreamLen, "ORDERFLOW_REDIS_STREAM_LEN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ORDERFLOW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ORDERFLOW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORDERFLOW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORDERFLOW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORDERFLOW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORDERFLOW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORDERFLOW_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ORDERFLOW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORDERFLOW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORDERFLOW_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ORDERFLOW_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ORDERFLOW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORDERFLOW_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORDERFLOW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORDERFLOW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORDERFLOW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORDERFLOW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORDERFLOW_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "ORDERFLOW_S3_ARCHIVE_INTERVAL")
	setDuration(&cfg.S3.Retention, "ORDERFLOW_S3_RETENTION")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ORDERFLOW_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ORDERFLOW_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ORDERFLOW_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ORDERFLOW_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ORDERFLOW_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ORDERFLOW_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORDERFLOW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORDERFLOW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORDERFLOW_NOTIFY_DISCORD_WEBHOOK_URL")
	setFloat64(&cfg.Notify.MinConfidence, "ORDERFLOW_NOTIFY_MIN_CONFIDENCE")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORDERFLOW_MODE")
	setStr(&cfg.LogLevel, "ORDERFLOW_LOG_LEVEL")
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
