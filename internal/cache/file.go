package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"harvester/internal/logger"
)

const fileExt = ".json"

// FileStore keeps one JSON file per key under dir.
type FileStore struct {
	dir string
	ttl time.Duration
	log logger.Logger
	now func() time.Time
}

// NewFileStore creates dir if needed and returns a store over it.
func NewFileStore(dir string, ttl time.Duration, log logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	log.Debug("cache ready", logger.String("dir", dir), logger.Duration("ttl", ttl))
	return &FileStore{dir: dir, ttl: ttl, log: log, now: time.Now}, nil
}

// WithClock replaces the time source. Intended for tests.
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.now = now
	return s
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func (s *FileStore) Lookup(_ context.Context, endpoint string, params Params) (json.RawMessage, bool) {
	entry, err := s.read(s.path(Key(endpoint, params)))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("cache read failed", logger.String("endpoint", endpoint), logger.Error(err))
		}
		return nil, false
	}
	if expired(entry.StoredAt, s.now(), s.ttl) {
		return nil, false
	}
	s.log.Debug("cache hit", logger.String("endpoint", endpoint))
	return entry.Payload, true
}

func (s *FileStore) Store(_ context.Context, endpoint string, params Params, payload json.RawMessage) error {
	key := Key(endpoint, params)
	b, err := json.Marshal(Entry{Key: key, Endpoint: endpoint, StoredAt: s.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	// Write to a unique temp file then rename, so readers never see a partial
	// entry and concurrent writers to one key resolve to the last rename.
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}
	s.log.Debug("cache set", logger.String("endpoint", endpoint))
	return nil
}

func (s *FileStore) Evict(_ context.Context, olderThan *time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list cache dir: %w", err)
	}

	now := s.now()
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		if olderThan != nil && !expired(s.storedAt(p), now, *olderThan) {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("cache evict failed", logger.String("file", e.Name()), logger.Error(err))
			continue
		}
		deleted++
	}
	s.log.Info("cache evicted", logger.Int("deleted", deleted))
	return deleted, nil
}

// storedAt prefers the entry timestamp and falls back to the file mtime for
// unreadable entries.
func (s *FileStore) storedAt(path string) time.Time {
	if entry, err := s.read(path); err == nil {
		return entry.StoredAt
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

func (s *FileStore) read(path string) (*Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, nil
}
