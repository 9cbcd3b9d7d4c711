// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Selection  SelectionConfig  `mapstructure:"selection"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	DB         DBConfig         `mapstructure:"db"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
	RequestTimeout  int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ProviderConfig configures the crawl-provider API client.
type ProviderConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RemoteConfig governs the shared provider cooldown and retry policy.
type RemoteConfig struct {
	MinIntervalSeconds int `mapstructure:"min_interval_seconds"`
	MaxAttempts        int `mapstructure:"max_attempts"`
	BaseDelaySeconds   int `mapstructure:"base_delay_seconds"`
	MaxDelaySeconds    int `mapstructure:"max_delay_seconds"`
}

// PipelineConfig tunes the analysis pipeline.
type PipelineConfig struct {
	MapLimit              int    `mapstructure:"map_limit"`
	ScrapeWaitMs          int    `mapstructure:"scrape_wait_ms"`
	ScreenshotConcurrency int    `mapstructure:"screenshot_concurrency"`
	EventTopic            string `mapstructure:"event_topic"`
	ExtractPrompt         string `mapstructure:"extract_prompt"`
}

// SelectionConfig caps the budgeted scrape plan.
type SelectionConfig struct {
	MaxNavigation int `mapstructure:"max_navigation"`
	MaxKeyPages   int `mapstructure:"max_key_pages"`
	ScrapeBudget  int `mapstructure:"scrape_budget"`
	MinPages      int `mapstructure:"min_pages"`
}

// ScreenshotConfig configures the headless capture subsystem.
type ScreenshotConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	SettleSeconds     int    `mapstructure:"settle_seconds"`
	MinPlausibleBytes int    `mapstructure:"min_plausible_bytes"`
}

// AuditConfig configures the performance-audit tool.
type AuditConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Binary         string `mapstructure:"binary"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// FetchConfig configures the direct-HTTP fallback fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	Table              string `mapstructure:"table"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	// Backend is one of "memory", "local", or "gcs".
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// RetentionConfig governs background cleanup of terminal analyses.
type RetentionConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	MaxAgeHours     int  `mapstructure:"max_age_hours"`
}

// Interval converts the configured sweep cadence into a duration.
func (r RetentionConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

// MaxAge converts the configured row lifetime into a duration.
func (r RetentionConfig) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeHours) * time.Hour
}

// PubSubConfig holds metadata for stage-event notifications. An empty
// project ID keeps events in-process.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("XRAY")
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

// setDefaults registers every key with Viper. Keys without a meaningful
// default still need an empty registration so environment overrides survive
// Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "https://api.firecrawl.dev")
	v.SetDefault("provider.timeout_seconds", 120)
	v.SetDefault("remote.min_interval_seconds", 6)
	v.SetDefault("remote.max_attempts", 3)
	v.SetDefault("remote.base_delay_seconds", 2)
	v.SetDefault("remote.max_delay_seconds", 8)
	v.SetDefault("pipeline.map_limit", 100)
	v.SetDefault("pipeline.scrape_wait_ms", 2000)
	v.SetDefault("pipeline.screenshot_concurrency", 3)
	v.SetDefault("pipeline.event_topic", "analysis-events")
	v.SetDefault("pipeline.extract_prompt", "")
	v.SetDefault("selection.max_navigation", 8)
	v.SetDefault("selection.max_key_pages", 6)
	v.SetDefault("selection.scrape_budget", 12)
	v.SetDefault("selection.min_pages", 6)
	v.SetDefault("screenshot.enabled", true)
	v.SetDefault("screenshot.max_parallel", 2)
	v.SetDefault("screenshot.nav_timeout_seconds", 60)
	v.SetDefault("screenshot.settle_seconds", 8)
	v.SetDefault("screenshot.min_plausible_bytes", 15000)
	v.SetDefault("screenshot.user_agent", "")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.binary", "lighthouse")
	v.SetDefault("audit.timeout_seconds", 180)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "website_analyses")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.interval_minutes", 60)
	v.SetDefault("retention.max_age_hours", 72)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if c.Remote.MinIntervalSeconds <= 0 {
		return fmt.Errorf("remote.min_interval_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Retention.Enabled {
		if c.Retention.IntervalMinutes <= 0 {
			return fmt.Errorf("retention.interval_minutes must be > 0 when retention is enabled")
		}
		if c.Retention.MaxAgeHours <= 0 {
			return fmt.Errorf("retention.max_age_hours must be > 0 when retention is enabled")
		}
	}
	return nil
}

// ShutdownTimeout converts the configured grace period into a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
