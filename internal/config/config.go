// Package config defines the top-level configuration for the order-flow
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ORDERFLOW_* environment
// variables.
type Config struct {
	Feed        FeedConfig        `toml:"feed"`
	Book        BookConfig        `toml:"book"`
	Zone        ZoneConfig        `toml:"zone"`
	Absorption  AbsorptionConfig  `toml:"absorption"`
	Exhaustion  ExhaustionConfig  `toml:"exhaustion"`
	AccumDist   AccumDistConfig   `toml:"accumdist"`
	Confirm     ConfirmConfig     `toml:"confirm"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// FeedConfig holds the market-data websocket parameters.
type FeedConfig struct {
	WsHost           string   `toml:"ws_host"`
	Symbols          []string `toml:"symbols"`
	ReconnectMin     duration `toml:"reconnect_min"`
	ReconnectMax     duration `toml:"reconnect_max"`
	ReadTimeout      duration `toml:"read_timeout"`
	PingInterval     duration `toml:"ping_interval"`
	DepthSpeed       string   `toml:"depth_speed"`
	UnhealthyTimeout duration `toml:"unhealthy_timeout"`
}

// BookConfig holds fixed-point scaling for prices and quantities.
type BookConfig struct {
	PriceScale    int `toml:"price_scale"`
	QuantityScale int `toml:"quantity_scale"`
}

// ZoneConfig holds zone-tracker parameters.
type ZoneConfig struct {
	BucketTicks        int64       `toml:"bucket_ticks"`
	MaxTickDistance    int64       `toml:"max_tick_distance"`
	HistoryLimit       int         `toml:"history_limit"`
	MaxHistoryAge      duration    `toml:"max_history_age"`
	VelocityWindow     duration    `toml:"velocity_window"`
	MinPeakVolume      int64       `toml:"min_peak_volume"`
	DepletionThreshold float64     `toml:"depletion_threshold"`
	GapDepletionRatio  float64     `toml:"gap_depletion_ratio"`
	GapMinTicks        int64       `toml:"gap_min_ticks"`
	MaxAffectedZones   int         `toml:"max_affected_zones"`
	Weights            ZoneWeights `toml:"weights"`
}

// ZoneWeights holds the exhaustion-confidence weighting terms.
type ZoneWeights struct {
	DepletionRatio float64 `toml:"depletion_ratio"`
	AffectedZones  float64 `toml:"affected_zones"`
	PeakDepletion  float64 `toml:"peak_depletion"`
	GapBonus       float64 `toml:"gap_bonus"`
}

// AbsorptionConfig holds absorption-detector parameters.
type AbsorptionConfig struct {
	Enabled             bool     `toml:"enabled"`
	ZoneTicks           int64    `toml:"zone_ticks"`
	Window              duration `toml:"window"`
	Cooldown            duration `toml:"cooldown"`
	MinAggressiveVolume int64    `toml:"min_aggressive_volume"`
	EfficiencyThreshold float64  `toml:"efficiency_threshold"`
	MinPassiveRatio     float64  `toml:"min_passive_ratio"`
	MinAbsorbedRatio    float64  `toml:"min_absorbed_ratio"`
	TickSize            int64    `toml:"tick_size"`
	ScalingFactor       float64  `toml:"scaling_factor"`
}

// ExhaustionConfig holds exhaustion-detector parameters.
type ExhaustionConfig struct {
	Enabled             bool     `toml:"enabled"`
	ZoneTicks           int64    `toml:"zone_ticks"`
	Window              duration `toml:"window"`
	Cooldown            duration `toml:"cooldown"`
	MinAggressiveVolume int64    `toml:"min_aggressive_volume"`
	MinConfidence       float64  `toml:"min_confidence"`
	MaxCancelRatio      float64  `toml:"max_cancel_ratio"`
}

// AccumDistConfig holds accumulation/distribution-detector parameters.
type AccumDistConfig struct {
	Enabled             bool     `toml:"enabled"`
	ZoneTicks           int64    `toml:"zone_ticks"`
	Window              duration `toml:"window"`
	Cooldown            duration `toml:"cooldown"`
	MinAggressiveVolume int64    `toml:"min_aggressive_volume"`
	RatioThreshold      float64  `toml:"ratio_threshold"`
	MinDuration         duration `toml:"min_duration"`
	MaxIdle             duration `toml:"max_idle"`

	PerSideTracking       bool `toml:"per_side_tracking"`
	RequireRecentActivity bool `toml:"require_recent_activity"`
}

// ConfirmConfig holds confirmation-machine parameters.
type ConfirmConfig struct {
	MinMoveTicks    int64    `toml:"min_move_ticks"`
	MaxRevisitTicks int64    `toml:"max_revisit_ticks"`
	Timeout         duration `toml:"timeout"`
}

// CoordinatorConfig holds signal-coordinator parameters.
type CoordinatorConfig struct {
	QueueCapacity         int                `toml:"queue_capacity"`
	MinBatchSize          int                `toml:"min_batch_size"`
	MaxBatchSize          int                `toml:"max_batch_size"`
	BackpressureThreshold float64            `toml:"backpressure_threshold"`
	MinConfidence         float64            `toml:"min_confidence"`
	BypassConfidence      float64            `toml:"bypass_confidence"`
	BreakerFailures       int                `toml:"breaker_failures"`
	BreakerWindow         duration           `toml:"breaker_window"`
	BreakerCooldown       duration           `toml:"breaker_cooldown"`
	CorrelationWindow     duration           `toml:"correlation_window"`
	CorrelationPriceTicks int64              `toml:"correlation_price_ticks"`
	ConflictStrategy      string             `toml:"conflict_strategy"`
	ConflictPenalty       float64            `toml:"conflict_penalty"`
	DedupTTL              duration           `toml:"dedup_ttl"`
	FlushInterval         duration           `toml:"flush_interval"`
	YieldPause            duration           `toml:"yield_pause"`
	BasePriority          map[string]float64 `toml:"base_priority"`
}

// PipelineConfig holds lane buffering and housekeeping parameters.
type PipelineConfig struct {
	TradeBuffer     int      `toml:"trade_buffer"`
	DepthBuffer     int      `toml:"depth_buffer"`
	ZoneRadiusTicks int64    `toml:"zone_radius_ticks"`
	PruneInterval   duration `toml:"prune_interval"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	StreamKey  string `toml:"stream_key"`
	StreamLen  int64  `toml:"stream_len"`
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

// S3Config holds S3-compatible object storage parameters for stats archival.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`

	// Retention is how long signals stay in the primary store before the
	// archival loop moves them to object storage.
	Retention duration `toml:"retention"`
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables
// authentication; a zero RateLimit disables per-client rate limiting.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials. Only signals at or
// above MinConfidence are pushed.
type NotifyConfig struct {
	TelegramToken     string  `toml:"telegram_token"`
	TelegramChatID    string  `toml:"telegram_chat_id"`
	DiscordWebhookURL string  `toml:"discord_webhook_url"`
	MinConfidence     float64 `toml:"min_confidence"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			WsHost:           "wss://stream.binance.com:9443",
			Symbols:          []string{"BTCUSDT"},
			ReconnectMin:     duration{time.Second},
			ReconnectMax:     duration{30 * time.Second},
			ReadTimeout:      duration{60 * time.Second},
			PingInterval:     duration{20 * time.Second},
			DepthSpeed:       "100ms",
			UnhealthyTimeout: duration{10 * time.Second},
		},
		Book: BookConfig{
			PriceScale:    8,
			QuantityScale: 8,
		},
		Zone: ZoneConfig{
			BucketTicks:        100,
			MaxTickDistance:    5000,
			HistoryLimit:       256,
			MaxHistoryAge:      duration{10 * time.Minute},
			VelocityWindow:     duration{30 * time.Second},
			MinPeakVolume:      100,
			DepletionThreshold: 0.5,
			GapDepletionRatio:  0.8,
			GapMinTicks:        300,
			MaxAffectedZones:   10,
			Weights: ZoneWeights{
				DepletionRatio: 0.4,
				AffectedZones:  0.2,
				PeakDepletion:  0.2,
				GapBonus:       0.2,
			},
		},
		Absorption: AbsorptionConfig{
			Enabled:             true,
			ZoneTicks:           100,
			Window:              duration{30 * time.Second},
			Cooldown:            duration{2 * time.Minute},
			MinAggressiveVolume: 1000,
			EfficiencyThreshold: 0.3,
			MinPassiveRatio:     2,
			MinAbsorbedRatio:    0.5,
			TickSize:            1,
			ScalingFactor:       100,
		},
		Exhaustion: ExhaustionConfig{
			Enabled:             true,
			ZoneTicks:           100,
			Window:              duration{30 * time.Second},
			Cooldown:            duration{2 * time.Minute},
			MinAggressiveVolume: 500,
			MinConfidence:       0.5,
			MaxCancelRatio:      0.7,
		},
		AccumDist: AccumDistConfig{
			Enabled:               true,
			ZoneTicks:             100,
			Window:                duration{5 * time.Minute},
			Cooldown:              duration{5 * time.Minute},
			MinAggressiveVolume:   500,
			RatioThreshold:        3,
			MinDuration:           duration{time.Minute},
			MaxIdle:               duration{30 * time.Second},
			PerSideTracking:       true,
			RequireRecentActivity: true,
		},
		Confirm: ConfirmConfig{
			MinMoveTicks:    50,
			MaxRevisitTicks: 200,
			Timeout:         duration{5 * time.Minute},
		},
		Coordinator: CoordinatorConfig{
			QueueCapacity:         256,
			MinBatchSize:          1,
			MaxBatchSize:          16,
			BackpressureThreshold: 0.75,
			MinConfidence:         0.4,
			BypassConfidence:      0.9,
			BreakerFailures:       5,
			BreakerWindow:         duration{time.Minute},
			BreakerCooldown:       duration{30 * time.Second},
			CorrelationWindow:     duration{time.Minute},
			CorrelationPriceTicks: 200,
			ConflictStrategy:      "confidence_weighted",
			ConflictPenalty:       0.3,
			DedupTTL:              duration{5 * time.Minute},
			FlushInterval:         duration{100 * time.Millisecond},
			YieldPause:            duration{5 * time.Millisecond},
			BasePriority: map[string]float64{
				"exhaustion":   2,
				"absorption":   1.5,
				"accumulation": 1,
				"distribution": 1,
			},
		},
		Pipeline: PipelineConfig{
			TradeBuffer:     4096,
			DepthBuffer:     1024,
			ZoneRadiusTicks: 500,
			PruneInterval:   duration{time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			StreamKey:  "orderflow:signals",
			StreamLen:  10_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "orderflow",
			User:          "orderflow",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "orderflow-data",
			UseSSL:          false,
			ForcePathStyle:  true,
			ArchiveInterval: duration{time.Hour},
			Retention:       duration{30 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			MinConfidence: 0.85,
		},
		Mode:     "detect",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"detect":  true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. Component-level thresholds
// are validated again by each component's own constructor.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.WsHost == "" {
		errs = append(errs, "feed: ws_host must not be empty")
	}
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: at least one symbol is required")
	}
	for _, s := range c.Feed.Symbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, "feed: symbols must not contain empty entries")
			break
		}
	}
	if c.Feed.ReconnectMin.Duration <= 0 || c.Feed.ReconnectMax.Duration < c.Feed.ReconnectMin.Duration {
		errs = append(errs, "feed: reconnect backoff must satisfy 0 < min <= max")
	}
	switch c.Feed.DepthSpeed {
	case "100ms", "1000ms":
	default:
		errs = append(errs, fmt.Sprintf("feed: depth_speed must be 100ms or 1000ms, got %q", c.Feed.DepthSpeed))
	}

	// Book
	if c.Book.PriceScale < 0 || c.Book.PriceScale > 18 {
		errs = append(errs, fmt.Sprintf("book: price_scale must be 0-18, got %d", c.Book.PriceScale))
	}
	if c.Book.QuantityScale < 0 || c.Book.QuantityScale > 18 {
		errs = append(errs, fmt.Sprintf("book: quantity_scale must be 0-18, got %d", c.Book.QuantityScale))
	}

	// At least one detector must be active in detect mode.
	if strings.ToLower(c.Mode) == "detect" &&
		!c.Absorption.Enabled && !c.Exhaustion.Enabled && !c.AccumDist.Enabled {
		errs = append(errs, "detect mode requires at least one enabled detector")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.StreamKey == "" {
		errs = append(errs, "redis: stream_key must not be empty")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be 0..pool_max_conns")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be positive when enabled")
		}
		if c.S3.Retention.Duration <= 0 {
			errs = append(errs, "s3: retention must be positive when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Notify
	if c.Notify.MinConfidence < 0 || c.Notify.MinConfidence > 1 {
		errs = append(errs, "notify: min_confidence must be within [0,1]")
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
