package config

import (
	"path/filepath"
	"time"

	"harvester/internal/logger"
)

// Config is the full harvester configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Crawler  CrawlerConfig  `yaml:"crawler"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Paths    PathsConfig    `yaml:"paths"`
	Sources  []SourceConfig `yaml:"sources"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Logging  logger.Config  `yaml:"logging"`
}

// APIConfig holds the remote catalog credential and endpoints.
type APIConfig struct {
	Key          string `yaml:"key"`
	BaseURL      string `yaml:"base_url"`
	ImageBaseURL string `yaml:"image_base_url"`
	Language     string `yaml:"language"`
}

// CrawlerConfig holds request pacing and run sizing.
type CrawlerConfig struct {
	RequestDelay      time.Duration `yaml:"request_delay"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	BackoffBase       float64       `yaml:"backoff_base"`
	ResumeBackoff     float64       `yaml:"resume_backoff"`
	PageDelay         time.Duration `yaml:"page_delay"`
	MaxPagesPerSource int           `yaml:"max_pages_per_source"`
	MaxItems          int           `yaml:"max_items"`
	BatchSize         int           `yaml:"batch_size"`
	Workers           int           `yaml:"workers"`
}

// CacheConfig selects and sizes the response cache.
type CacheConfig struct {
	Enabled *bool         `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	// Backend is "file" or "redis".
	Backend string `yaml:"backend"`
}

// IsEnabled reports whether caching is on. Unset means enabled.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RedisConfig is used when Cache.Backend is "redis".
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PathsConfig locates the data directories. RawDir and CacheDir are relative to DataRoot.
type PathsConfig struct {
	DataRoot string `yaml:"data_root"`
	RawDir   string `yaml:"raw_dir"`
	CacheDir string `yaml:"cache_dir"`
}

// RawPath returns the directory for summaries, batches and datasets.
func (p PathsConfig) RawPath() string {
	return filepath.Join(p.DataRoot, p.RawDir)
}

// CachePath returns the cache root directory.
func (p PathsConfig) CachePath() string {
	return filepath.Join(p.DataRoot, p.CacheDir)
}

// SourceConfig is one discovery list.
type SourceConfig struct {
	ID      string `yaml:"id"`
	Enabled *bool  `yaml:"enabled"`
	Pages   int    `yaml:"pages"`
}

// IsEnabled reports whether the source takes part in discovery. Unset means enabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DatabaseConfig enables the Postgres run ledger when DSN is set.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	InternalSecret string `yaml:"internal_secret"`
}

// ScheduleConfig configures the periodic trigger.
type ScheduleConfig struct {
	HarvestCron    string        `yaml:"harvest_cron"`
	EvictOlderThan time.Duration `yaml:"evict_older_than"`
}

// EnabledSources returns the ids of enabled sources in configured order.
func (c *Config) EnabledSources() []string {
	ids := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.IsEnabled() {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// SourcePages returns the configured page count for id, or MaxPagesPerSource
// when the source has none.
func (c *Config) SourcePages(id string) int {
	for _, s := range c.Sources {
		if s.ID == id && s.Pages > 0 {
			return s.Pages
		}
	}
	return c.Crawler.MaxPagesPerSource
}
