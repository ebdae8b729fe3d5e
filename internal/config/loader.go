// Package config loads harvester configuration from an optional YAML file,
// .env files and environment variables. Environment always wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned when no catalog credential is configured.
var ErrMissingAPIKey = errors.New("api key is required (set TMDB_API_KEY)")

const (
	defaultBaseURL        = "https://api.themoviedb.org/3"
	defaultImageBaseURL   = "https://image.tmdb.org/t/p/"
	defaultLanguage       = "vi-VN"
	defaultRequestDelay   = 300 * time.Millisecond
	defaultMaxRetries     = 3
	defaultRequestTimeout = 30 * time.Second
	defaultBackoffBase    = 2.0
	defaultResumeBackoff  = 1.5
	defaultPageDelay      = 250 * time.Millisecond
	defaultPagesPerSource = 5
	defaultMaxItems       = 100
	defaultBatchSize      = 25
	defaultWorkers        = 5
	defaultCacheTTL       = 24 * time.Hour
	defaultCacheBackend   = "file"
	defaultRedisPrefix    = "harvester:cache:"
	defaultDataRoot       = "data"
	defaultRawDir         = "raw"
	defaultCacheDir       = "cache"
	defaultServerAddr     = ":8080"
	defaultHarvestCron    = "0 1 * * *"
	defaultEvictOlderThan = 7 * 24 * time.Hour
)

// DefaultSources mirrors the catalog lists harvested out of the box.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{ID: "netflix", Pages: 5},
		{ID: "popular", Pages: 5},
		{ID: "trending_day", Pages: 2},
		{ID: "trending_week", Pages: 2},
		{ID: "top_rated", Pages: 3},
	}
}

// loadEnvFiles loads .env and .env.local without overriding variables the
// runtime already provides.
func loadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// Load builds a Config. path may be empty, in which case only defaults and
// environment are used. Values present in the file, including explicit
// zeros, replace the defaults. The result is validated.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL:      defaultBaseURL,
			ImageBaseURL: defaultImageBaseURL,
			Language:     defaultLanguage,
		},
		Crawler: CrawlerConfig{
			RequestDelay:      defaultRequestDelay,
			MaxRetries:        defaultMaxRetries,
			RequestTimeout:    defaultRequestTimeout,
			BackoffBase:       defaultBackoffBase,
			ResumeBackoff:     defaultResumeBackoff,
			PageDelay:         defaultPageDelay,
			MaxPagesPerSource: defaultPagesPerSource,
			MaxItems:          defaultMaxItems,
			BatchSize:         defaultBatchSize,
			Workers:           defaultWorkers,
		},
		Cache: CacheConfig{
			TTL:     defaultCacheTTL,
			Backend: defaultCacheBackend,
		},
		Redis: RedisConfig{Prefix: defaultRedisPrefix},
		Paths: PathsConfig{
			DataRoot: defaultDataRoot,
			RawDir:   defaultRawDir,
			CacheDir: defaultCacheDir,
		},
		Sources: DefaultSources(),
		Server:  ServerConfig{Addr: defaultServerAddr},
		Schedule: ScheduleConfig{
			HarvestCron:    defaultHarvestCron,
			EvictOlderThan: defaultEvictOlderThan,
		},
	}
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *Config) error {
	setString(&cfg.API.Key, "TMDB_API_KEY")
	setString(&cfg.API.BaseURL, "TMDB_BASE_URL")
	setString(&cfg.API.ImageBaseURL, "TMDB_IMAGE_BASE_URL")
	setString(&cfg.API.Language, "DEFAULT_LANGUAGE")
	setString(&cfg.Paths.DataRoot, "DATA_ROOT_DIR")
	setString(&cfg.Paths.RawDir, "RAW_DATA_DIR")
	setString(&cfg.Paths.CacheDir, "CACHE_DIR")
	setString(&cfg.Cache.Backend, "CACHE_BACKEND")
	setString(&cfg.Redis.Address, "REDIS_ADDRESS")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Database.DSN, "DB_DSN")
	setString(&cfg.Server.Addr, "APP_ADDR")
	setString(&cfg.Server.InternalSecret, "INTERNAL_SECRET")
	setString(&cfg.Schedule.HarvestCron, "HARVEST_CRON")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	ints := []struct {
		dst *int
		key string
	}{
		{&cfg.Crawler.MaxRetries, "CRAWLER_MAX_RETRIES"},
		{&cfg.Crawler.MaxPagesPerSource, "MAX_PAGES_PER_SOURCE"},
		{&cfg.Crawler.MaxItems, "MAX_MOVIES_PER_DAY"},
		{&cfg.Crawler.BatchSize, "BATCH_SIZE"},
		{&cfg.Crawler.Workers, "MAX_WORKERS"},
	}
	for _, e := range ints {
		if err := setInt(e.dst, e.key); err != nil {
			return err
		}
	}

	if err := setSeconds(&cfg.Crawler.RequestDelay, "CRAWLER_DELAY"); err != nil {
		return err
	}
	if err := setSeconds(&cfg.Crawler.RequestTimeout, "CRAWLER_TIMEOUT"); err != nil {
		return err
	}
	if err := setSeconds(&cfg.Cache.TTL, "CACHE_TTL"); err != nil {
		return err
	}
	if err := setSeconds(&cfg.Crawler.PageDelay, "RATE_LIMIT_WAIT"); err != nil {
		return err
	}

	if v := os.Getenv("USE_CACHE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid USE_CACHE %q: %w", v, err)
		}
		cfg.Cache.Enabled = &enabled
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

// setSeconds reads a (possibly fractional) number of seconds.
func setSeconds(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = time.Duration(f * float64(time.Second))
	return nil
}
