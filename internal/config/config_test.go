package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  run_timeout: 2m
fetcher:
  user_agent: test-bot/2.0
  max_connections: 8
  request_timeout: 7s
  max_body_bytes: 1024
  valid_mime_types: ["text/html", "application/xhtml+xml"]
robots:
  default_crawl_delay: 10s
policy:
  max_urls_per_batch: 25
  min_request_interval: 2s
  bucket_count: 3
  crawl_duration: 1h
executor:
  max_threads: 6
  shutdown_grace: 3s
scoring:
  strategy: staleness
  default_score: 2.5
  refresh_after: 12h
storage:
  status_backend: postgres
  content_backend: local
  local_dir: /var/lib/politefetch
  prefix: pages
db:
  dsn: postgres://localhost/politefetch
  table: statuses
  max_conns: 10
  ensure_schema: true
pubsub:
  project_id: my-project
  topic: url-statuses
logging:
  development: true
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.RunTimeout != 2*time.Minute {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Fetcher.UserAgent != "test-bot/2.0" || cfg.Fetcher.MaxConnections != 8 {
		t.Fatalf("expected fetcher overrides, got %+v", cfg.Fetcher)
	}
	if cfg.Fetcher.RequestTimeout != 7*time.Second || cfg.Fetcher.MaxBodyBytes != 1024 {
		t.Fatalf("expected fetcher limits, got %+v", cfg.Fetcher)
	}
	if len(cfg.Fetcher.ValidMimeTypes) != 2 || cfg.Fetcher.ValidMimeTypes[1] != "application/xhtml+xml" {
		t.Fatalf("expected mime types, got %v", cfg.Fetcher.ValidMimeTypes)
	}
	if cfg.Robots.DefaultCrawlDelay != 10*time.Second {
		t.Fatalf("expected crawl delay 10s, got %v", cfg.Robots.DefaultCrawlDelay)
	}
	if cfg.Policy.MaxURLsPerBatch != 25 || cfg.Policy.MinRequestInterval != 2*time.Second ||
		cfg.Policy.BucketCount != 3 || cfg.Policy.CrawlDuration != time.Hour {
		t.Fatalf("expected policy overrides, got %+v", cfg.Policy)
	}
	if cfg.Executor.MaxThreads != 6 || cfg.Executor.ShutdownGrace != 3*time.Second {
		t.Fatalf("expected executor overrides, got %+v", cfg.Executor)
	}
	if cfg.Scoring.Strategy != "staleness" || cfg.Scoring.DefaultScore != 2.5 || cfg.Scoring.RefreshAfter != 12*time.Hour {
		t.Fatalf("expected scoring overrides, got %+v", cfg.Scoring)
	}
	if cfg.Storage.StatusBackend != "postgres" || cfg.Storage.ContentBackend != "local" || cfg.Storage.Prefix != "pages" {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if cfg.DB.Table != "statuses" || cfg.DB.MaxConns != 10 || !cfg.DB.EnsureSchema {
		t.Fatalf("expected db overrides, got %+v", cfg.DB)
	}
	if !cfg.PubSub.Enabled() || cfg.PubSub.Topic != "url-statuses" {
		t.Fatalf("expected pubsub overrides, got %+v", cfg.PubSub)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Robots.DefaultCrawlDelay != 30*time.Second {
		t.Fatalf("expected default crawl delay 30s, got %v", cfg.Robots.DefaultCrawlDelay)
	}
	if cfg.Executor.ShutdownGrace != 5*time.Second {
		t.Fatalf("expected default grace 5s, got %v", cfg.Executor.ShutdownGrace)
	}
	if cfg.Policy.MaxURLsPerBatch != 100 || cfg.Policy.CrawlDuration != 0 {
		t.Fatalf("unexpected policy defaults %+v", cfg.Policy)
	}
	if cfg.Storage.StatusBackend != "memory" || cfg.Storage.ContentBackend != "none" {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POLITEFETCH_FETCHER_USER_AGENT", "env-bot/1.0")
	t.Setenv("POLITEFETCH_POLICY_CRAWL_DURATION", "45m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetcher.UserAgent != "env-bot/1.0" {
		t.Fatalf("expected env user agent, got %q", cfg.Fetcher.UserAgent)
	}
	if cfg.Policy.CrawlDuration != 45*time.Minute {
		t.Fatalf("expected env crawl duration, got %v", cfg.Policy.CrawlDuration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Fetcher:  FetcherConfig{UserAgent: "bot", MaxConnections: 1, RequestTimeout: time.Second},
		Policy:   PolicyConfig{MaxURLsPerBatch: 10, BucketCount: 1},
		Scoring:  ScoringConfig{Strategy: "fixed"},
		Storage:  StorageConfig{StatusBackend: "memory", ContentBackend: "none"},
		Executor: ExecutorConfig{},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no connections", func(c *Config) { c.Fetcher.MaxConnections = 0 }, "fetcher.max_connections"},
		{"no timeout", func(c *Config) { c.Fetcher.RequestTimeout = 0 }, "fetcher.request_timeout"},
		{"blank agent", func(c *Config) { c.Fetcher.UserAgent = " " }, "fetcher.user_agent"},
		{"zero batch", func(c *Config) { c.Policy.MaxURLsPerBatch = 0 }, "policy.max_urls_per_batch"},
		{"zero buckets", func(c *Config) { c.Policy.BucketCount = 0 }, "policy.bucket_count"},
		{"negative duration", func(c *Config) { c.Policy.CrawlDuration = -time.Second }, "policy durations"},
		{"negative threads", func(c *Config) { c.Executor.MaxThreads = -1 }, "executor.max_threads"},
		{"bad strategy", func(c *Config) { c.Scoring.Strategy = "random" }, "scoring.strategy"},
		{"postgres without dsn", func(c *Config) { c.Storage.StatusBackend = "postgres" }, "db.dsn"},
		{"unknown status backend", func(c *Config) { c.Storage.StatusBackend = "redis" }, "storage.status_backend"},
		{"local without dir", func(c *Config) { c.Storage.ContentBackend = "local" }, "storage.local_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.ContentBackend = "gcs" }, "storage.gcs_bucket"},
		{"unknown content backend", func(c *Config) { c.Storage.ContentBackend = "s3" }, "storage.content_backend"},
		{"topic without project", func(c *Config) { c.PubSub.Topic = "statuses" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
