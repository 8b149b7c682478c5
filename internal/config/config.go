// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobgrid/scrape-service/internal/jobs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server		ServerConfig		`mapstructure:"server"`
	Logging		LoggingConfig		`mapstructure:"logging"`
	Auth		AuthConfig		`mapstructure:"auth"`
	DB		DBConfig		`mapstructure:"db"`
	Storage		StorageConfig		`mapstructure:"storage"`
	Redis		RedisConfig		`mapstructure:"redis"`
	PubSub		PubSubConfig		`mapstructure:"pubsub"`
	Scrape		ScrapeConfig		`mapstructure:"scrape"`
	Headless	HeadlessConfig		`mapstructure:"headless"`
	PDFCache	PDFCacheConfig		`mapstructure:"pdf_cache"`
	Sources		[]jobs.SourceConfig	`mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port		int	`mapstructure:"port"`
	TimeoutSeconds	int	`mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AuthConfig defines authentication for the cron endpoint.
type AuthConfig struct {
	CronSecret string `mapstructure:"cron_secret"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StorageConfig selects and configures the blob store backend.
type StorageConfig struct {
	// Provider is "gcs" or "memory".
	Provider	string	`mapstructure:"provider"`
	GCSBucket	string	`mapstructure:"gcs_bucket"`
}

// RedisConfig configures the optional lookaside cache.
type RedisConfig struct {
	Addr		string	`mapstructure:"addr"`
	Password	string	`mapstructure:"password"`
	DB		int	`mapstructure:"db"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScrapeConfig governs run behavior.
type ScrapeConfig struct {
	IntervalHours	int	`mapstructure:"interval_hours"`
	LookbackDays	int	`mapstructure:"lookback_days"`
	OnDuplicate	string	`mapstructure:"on_duplicate"`
	UserAgent	string	`mapstructure:"user_agent"`
	TimeoutSeconds	int	`mapstructure:"timeout_seconds"`
	Parallelism	int	`mapstructure:"parallelism"`
	ChunkSize	int	`mapstructure:"chunk_size"`
	RetryAttempts	int	`mapstructure:"retry_attempts"`
	RetryBackoffMs	int	`mapstructure:"retry_backoff_ms"`
	AutoEnabled	bool	`mapstructure:"auto_enabled"`
	// SchedulerTickMinutes controls the in-process cron interval; the
	// durable not-due gate keeps extra ticks from starting early runs.
	SchedulerTickMinutes int `mapstructure:"scheduler_tick_minutes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled		bool	`mapstructure:"enabled"`
	MaxParallel	int	`mapstructure:"max_parallel"`
	NavTimeoutSec	int	`mapstructure:"nav_timeout_seconds"`
	DomainQPS	float64	`mapstructure:"domain_qps"`
}

// PDFCacheConfig bounds the document mirror.
type PDFCacheConfig struct {
	Enabled		bool	`mapstructure:"enabled"`
	Prefix		string	`mapstructure:"prefix"`
	MaxBytes	int64	`mapstructure:"max_bytes"`
	TimeoutSeconds	int	`mapstructure:"timeout_seconds"`
	CacheTTLHours	int	`mapstructure:"cache_ttl_hours"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("scrape.interval_hours", 24)
	v.SetDefault("scrape.lookback_days", 30)
	v.SetDefault("scrape.on_duplicate", "skip")
	v.SetDefault("scrape.user_agent", "jobgrid-scraper/0.1")
	v.SetDefault("scrape.timeout_seconds", 30)
	v.SetDefault("scrape.parallelism", 2)
	v.SetDefault("scrape.chunk_size", 100)
	v.SetDefault("scrape.retry_attempts", 3)
	v.SetDefault("scrape.retry_backoff_ms", 200)
	v.SetDefault("scrape.auto_enabled", false)
	v.SetDefault("scrape.scheduler_tick_minutes", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.domain_qps", 1.0)
	v.SetDefault("pdf_cache.enabled", false)
	v.SetDefault("pdf_cache.prefix", "job-ads")
	v.SetDefault("pdf_cache.max_bytes", 10<<20)
	v.SetDefault("pdf_cache.timeout_seconds", 20)
	v.SetDefault("pdf_cache.cache_ttl_hours", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Storage.Provider != "gcs" && c.Storage.Provider != "memory" {
		return fmt.Errorf("storage.provider must be gcs or memory, got %q", c.Storage.Provider)
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
	}
	if c.Scrape.IntervalHours <= 0 {
		return fmt.Errorf("scrape.interval_hours must be positive")
	}
	if c.Scrape.OnDuplicate != "skip" && c.Scrape.OnDuplicate != "update" {
		return fmt.Errorf("scrape.on_duplicate must be skip or update, got %q", c.Scrape.OnDuplicate)
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if src.URL == "" {
			return fmt.Errorf("sources[%d].url is required", i)
		}
		if src.Selectors.Item == "" {
			return fmt.Errorf("sources[%d].selectors.item is required", i)
		}
		if src.Selectors.Link == "" {
			return fmt.Errorf("sources[%d].selectors.link is required", i)
		}
	}
	return nil
}

// Interval converts the configured run interval to a duration.
func (c ScrapeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// SchedulerTick converts the cron tick to a duration.
func (c ScrapeConfig) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickMinutes) * time.Minute
}

// RequestTimeout converts the scrape HTTP timeout to a duration.
func (c ScrapeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBackoff converts the retry backoff base to a duration.
func (c ScrapeConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}
