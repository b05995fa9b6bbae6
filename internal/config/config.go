// Package config loads and validates politefetch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// RunTimeout bounds a synchronous run triggered through the API.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// FetcherConfig configures the HTTP fetcher.
type FetcherConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	MaxConnections int           `mapstructure:"max_connections"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	ValidMimeTypes []string      `mapstructure:"valid_mime_types"`
}

// RobotsConfig tunes robots.txt handling.
type RobotsConfig struct {
	DefaultCrawlDelay time.Duration `mapstructure:"default_crawl_delay"`
}

// PolicyConfig governs batching and request spacing.
type PolicyConfig struct {
	MaxURLsPerBatch    int           `mapstructure:"max_urls_per_batch"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
	BucketCount        int           `mapstructure:"bucket_count"`
	// CrawlDuration caps a run; zero means no limit.
	CrawlDuration time.Duration `mapstructure:"crawl_duration"`
}

// ExecutorConfig controls fetch execution.
type ExecutorConfig struct {
	MaxThreads    int           `mapstructure:"max_threads"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// ScoringConfig selects how allowed URLs are prioritized.
type ScoringConfig struct {
	// Strategy is "fixed" or "staleness".
	Strategy     string        `mapstructure:"strategy"`
	DefaultScore float64       `mapstructure:"default_score"`
	RefreshAfter time.Duration `mapstructure:"refresh_after"`
}

// StorageConfig selects where statuses and content bodies go.
type StorageConfig struct {
	// StatusBackend is "memory" or "postgres".
	StatusBackend string `mapstructure:"status_backend"`
	// ContentBackend is "none", "memory", "local" or "gcs".
	ContentBackend string `mapstructure:"content_backend"`
	LocalDir       string `mapstructure:"local_dir"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	Prefix         string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// EnsureSchema creates the status table on startup.
	EnsureSchema bool `mapstructure:"ensure_schema"`
}

// PubSubConfig enables publishing status records to a Pub/Sub topic. Both
// fields empty disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether status publishing is configured.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.Topic != ""
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POLITEFETCH")
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
	v.SetDefault("server.run_timeout", "10m")
	v.SetDefault("fetcher.user_agent", "politefetch/1.0 (+https://github.com/JakeFAU/politefetch)")
	v.SetDefault("fetcher.max_connections", 32)
	v.SetDefault("fetcher.request_timeout", "15s")
	v.SetDefault("fetcher.max_body_bytes", 10*1024*1024)
	v.SetDefault("fetcher.valid_mime_types", []string{})
	v.SetDefault("robots.default_crawl_delay", "30s")
	v.SetDefault("policy.max_urls_per_batch", 100)
	v.SetDefault("policy.min_request_interval", "0s")
	v.SetDefault("policy.bucket_count", 4)
	v.SetDefault("policy.crawl_duration", "0s")
	v.SetDefault("executor.max_threads", 0)
	v.SetDefault("executor.shutdown_grace", "5s")
	v.SetDefault("scoring.strategy", "fixed")
	v.SetDefault("scoring.default_score", 1.0)
	v.SetDefault("scoring.refresh_after", "24h")
	v.SetDefault("storage.status_backend", "memory")
	v.SetDefault("storage.content_backend", "none")
	v.SetDefault("storage.local_dir", "./data")
	v.SetDefault("storage.prefix", "bodies")
	v.SetDefault("db.table", "url_statuses")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.ensure_schema", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetcher.MaxConnections <= 0 {
		return fmt.Errorf("fetcher.max_connections must be > 0")
	}
	if c.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be > 0")
	}
	if strings.TrimSpace(c.Fetcher.UserAgent) == "" {
		return fmt.Errorf("fetcher.user_agent must be set")
	}
	if c.Policy.MaxURLsPerBatch <= 0 {
		return fmt.Errorf("policy.max_urls_per_batch must be > 0")
	}
	if c.Policy.BucketCount <= 0 {
		return fmt.Errorf("policy.bucket_count must be > 0")
	}
	if c.Policy.MinRequestInterval < 0 || c.Policy.CrawlDuration < 0 {
		return fmt.Errorf("policy durations must be >= 0")
	}
	if c.Executor.MaxThreads < 0 {
		return fmt.Errorf("executor.max_threads must be >= 0")
	}
	switch c.Scoring.Strategy {
	case "fixed", "staleness":
	default:
		return fmt.Errorf("scoring.strategy must be fixed or staleness, got %q", c.Scoring.Strategy)
	}
	switch c.Storage.StatusBackend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.status_backend is postgres")
		}
	default:
		return fmt.Errorf("unknown storage.status_backend %q", c.Storage.StatusBackend)
	}
	switch c.Storage.ContentBackend {
	case "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.content_backend is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.content_backend is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.content_backend %q", c.Storage.ContentBackend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}
