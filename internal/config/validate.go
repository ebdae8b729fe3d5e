package config

import (
	"fmt"
)

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.API.Key == "" {
		return ErrMissingAPIKey
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Crawler.MaxItems < 0 {
		return fmt.Errorf("max items must be non-negative")
	}
	if c.Crawler.BackoffBase < 1 || c.Crawler.ResumeBackoff < 1 {
		return fmt.Errorf("backoff base must be at least 1")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must be non-negative")
	}
	switch c.Cache.Backend {
	case "file":
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("source at index %d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate source %q", s.ID)
		}
		if s.Pages < 0 {
			return fmt.Errorf("source %q: pages must be non-negative", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
