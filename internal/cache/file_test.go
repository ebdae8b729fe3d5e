package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/internal/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFileStore(t *testing.T, ttl time.Duration) (*FileStore, *fakeClock, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "responses")
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	s, err := NewFileStore(dir, ttl, logger.NewNop())
	require.NoError(t, err)
	return s.WithClock(clock.Now), clock, dir
}

func TestFileStore_StoreThenLookup(t *testing.T) {
	s, _, dir := newFileStore(t, time.Hour)
	ctx := context.Background()
	params := Params{"page": "1"}

	_, ok := s.Lookup(ctx, "movie/popular", params)
	assert.False(t, ok)

	require.NoError(t, s.Store(ctx, "movie/popular", params, json.RawMessage(`{"results":[1]}`)))
	require.NoError(t, s.Store(ctx, "movie/popular", params, json.RawMessage(`{"results":[2]}`)))

	got, ok := s.Lookup(ctx, "movie/popular", params)
	require.True(t, ok)
	assert.Equal(t, `{"results":[2]}`, string(got))

	_, err := os.Stat(filepath.Join(dir, Key("movie/popular", params)+".json"))
	assert.NoError(t, err)
}

func TestFileStore_ExpiresWithoutEvict(t *testing.T) {
	s, clock, _ := newFileStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "movie/7", nil, json.RawMessage(`{"id":7}`)))

	clock.Advance(time.Hour)
	_, ok := s.Lookup(ctx, "movie/7", nil)
	assert.True(t, ok, "entry at exactly ttl is still valid")

	clock.Advance(time.Second)
	_, ok = s.Lookup(ctx, "movie/7", nil)
	assert.False(t, ok)
}

func TestFileStore_EvictAll(t *testing.T) {
	s, _, _ := newFileStore(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Store(ctx, fmt.Sprintf("movie/%d", i), nil, json.RawMessage(`{}`)))
	}

	n, err := s.Evict(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for i := 0; i < 3; i++ {
		_, ok := s.Lookup(ctx, fmt.Sprintf("movie/%d", i), nil)
		assert.False(t, ok)
	}
}

func TestFileStore_EvictOlderThan(t *testing.T) {
	s, clock, _ := newFileStore(t, 30*24*time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "movie/old", nil, json.RawMessage(`{}`)))
	clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, s.Store(ctx, "movie/new", nil, json.RawMessage(`{}`)))

	week := 7 * 24 * time.Hour
	n, err := s.Evict(ctx, &week)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := s.Lookup(ctx, "movie/old", nil)
	assert.False(t, ok)
	_, ok = s.Lookup(ctx, "movie/new", nil)
	assert.True(t, ok)
}

func TestFileStore_EvictMissingDir(t *testing.T) {
	s, _, dir := newFileStore(t, time.Hour)
	require.NoError(t, os.RemoveAll(dir))

	n, err := s.Evict(context.Background(), nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestFileStore_CorruptEntryIsMiss(t *testing.T) {
	s, _, dir := newFileStore(t, time.Hour)
	key := Key("movie/9", nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+".json"), []byte("not json"), 0o644))

	_, ok := s.Lookup(context.Background(), "movie/9", nil)
	assert.False(t, ok)
}

func TestFileStore_ConcurrentWriters(t *testing.T) {
	s, _, _ := newFileStore(t, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
			assert.NoError(t, s.Store(ctx, fmt.Sprintf("movie/%d", i%5), nil, payload))
			assert.NoError(t, s.Store(ctx, "movie/shared", nil, payload))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		_, ok := s.Lookup(ctx, fmt.Sprintf("movie/%d", i), nil)
		assert.True(t, ok)
	}
	got, ok := s.Lookup(ctx, "movie/shared", nil)
	require.True(t, ok)
	var decoded struct{ N int }
	assert.NoError(t, json.Unmarshal(got, &decoded))
}

func TestFileStore_LookupReturnsStoredBytes(t *testing.T) {
	s, _, _ := newFileStore(t, time.Hour)
	ctx := context.Background()

	payloads := []string{
		`{"title":"Tom & Jerry <1940>"}`,
		"{\n  \"id\": 7,\n  \"genres\": [ \"drama\" ]\n}",
		`{"overview":"Phim hay","rating":7.50}`,
	}
	for i, p := range payloads {
		params := Params{"id": fmt.Sprint(i)}
		require.NoError(t, s.Store(ctx, "movie", params, json.RawMessage(p)))

		got, ok := s.Lookup(ctx, "movie", params)
		require.True(t, ok)
		assert.Equal(t, p, string(got))
	}
}
