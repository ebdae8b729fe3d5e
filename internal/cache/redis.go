package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"harvester/internal/logger"
)

const scanBatch = 200

// RedisStore keeps one redis string per key. Redis expires entries after the
// TTL on its own; the envelope timestamp still drives Lookup and Evict.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logger.Logger
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, log: log, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) Lookup(ctx context.Context, endpoint string, params Params) (json.RawMessage, bool) {
	b, err := s.client.Get(ctx, s.prefix+Key(endpoint, params)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("cache read failed", logger.String("endpoint", endpoint), logger.Error(err))
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		s.log.Warn("cache entry corrupt", logger.String("endpoint", endpoint), logger.Error(err))
		return nil, false
	}
	if expired(entry.StoredAt, s.now(), s.ttl) {
		return nil, false
	}
	return entry.Payload, true
}

func (s *RedisStore) Store(ctx context.Context, endpoint string, params Params, payload json.RawMessage) error {
	key := Key(endpoint, params)
	b, err := json.Marshal(Entry{Key: key, Endpoint: endpoint, StoredAt: s.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Evict(ctx context.Context, olderThan *time.Duration) (int, error) {
	now := s.now()
	deleted := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if olderThan != nil {
			b, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var entry Entry
			if json.Unmarshal(b, &entry) == nil && !expired(entry.StoredAt, now, *olderThan) {
				continue
			}
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			s.log.Warn("cache evict failed", logger.String("key", key), logger.Error(err))
			continue
		}
		deleted += int(n)
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	s.log.Info("cache evicted", logger.Int("deleted", deleted))
	return deleted, nil
}
