package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Source   SourceConfig   `yaml:"source"`
	Sync     SyncConfig     `yaml:"sync"`
	Classify ClassifyConfig `yaml:"classify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the listen host, honoring container environments.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the record store connection.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the optional Redis connection for counts caching and
// the cross-host sync lock. Disabled means both fall back gracefully
// (direct computation, PG advisory lock).
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SourceConfig identifies the external spreadsheet.
type SourceConfig struct {
	SheetID         string `yaml:"sheet_id"`
	Range           string `yaml:"range"`
	CredentialsFile string `yaml:"credentials_file"`
}

// SyncConfig tunes the sync schedule and the deletion guard policy.
type SyncConfig struct {
	IntervalMinutes    int      `yaml:"interval_minutes"`
	Workers            int      `yaml:"workers"`
	RetryMaxAttempts   int      `yaml:"retry_max_attempts"`
	RetryBackoffBaseMS int      `yaml:"retry_backoff_base_ms"`
	RecentWindowDays   int      `yaml:"recent_activity_window_days"`
	DeletedBy          string   `yaml:"deleted_by"`
	ActiveStatuses     []string `yaml:"active_statuses"`
	Timezone           string   `yaml:"timezone"`
}

// Interval returns the sync interval as a duration.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// RecentWindow returns the recent-activity window as a duration.
func (c SyncConfig) RecentWindow() time.Duration {
	return time.Duration(c.RecentWindowDays) * 24 * time.Hour
}

// BackoffBase returns the retry backoff base as a duration.
func (c SyncConfig) BackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseMS) * time.Millisecond
}

// Location resolves the reference timezone used for every "today"
// comparison: date normalization, classification, aggregation.
func (c SyncConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ClassifyConfig carries the classification policy knobs.
type ClassifyConfig struct {
	FollowUpMarkers  []string `yaml:"follow_up_markers"`
	RemovedSentinels []string `yaml:"removed_sentinels"`
	CountsTTLSeconds int      `yaml:"counts_cache_ttl_seconds"`
}

// CountsTTL returns the counts cache TTL as a duration.
func (c ClassifyConfig) CountsTTL() time.Duration {
	return time.Duration(c.CountsTTLSeconds) * time.Second
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Source.Range == "" {
		cfg.Source.Range = "A1:Z"
	}
	if cfg.Sync.IntervalMinutes == 0 {
		cfg.Sync.IntervalMinutes = 5
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.RetryMaxAttempts == 0 {
		cfg.Sync.RetryMaxAttempts = 3
	}
	if cfg.Sync.RetryBackoffBaseMS == 0 {
		cfg.Sync.RetryBackoffBaseMS = 2000
	}
	if cfg.Sync.RecentWindowDays == 0 {
		cfg.Sync.RecentWindowDays = 7
	}
	if cfg.Sync.DeletedBy == "" {
		cfg.Sync.DeletedBy = "record-sync"
	}
	if len(cfg.Sync.ActiveStatuses) == 0 {
		cfg.Sync.ActiveStatuses = []string{"exclusive", "under_contract"}
	}
	if cfg.Sync.Timezone == "" {
		cfg.Sync.Timezone = "Asia/Tokyo"
	}
	if len(cfg.Classify.FollowUpMarkers) == 0 {
		cfg.Classify.FollowUpMarkers = []string{"following"}
	}
	if len(cfg.Classify.RemovedSentinels) == 0 {
		cfg.Classify.RemovedSentinels = []string{"removed"}
	}
	if cfg.Classify.CountsTTLSeconds == 0 {
		cfg.Classify.CountsTTLSeconds = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is read first, so secrets can live in .env
// locally and in real env vars on a container host.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SHEET_ID"); v != "" {
		cfg.Source.SheetID = v
	}
	if v := os.Getenv("SHEET_RANGE"); v != "" {
		cfg.Source.Range = v
	}
	if v := os.Getenv("GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.Source.CredentialsFile = v
	}
	if v := os.Getenv("SYNC_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.IntervalMinutes = n
		}
	}
	if v := os.Getenv("SYNC_TIMEZONE"); v != "" {
		cfg.Sync.Timezone = v
	}

	return cfg, nil
}
