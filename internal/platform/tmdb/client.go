// Package tmdb is a cached, rate-limited, retrying client for the remote
// movie catalog API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"harvester/internal/cache"
	"harvester/internal/logger"
	"harvester/internal/metrics"
)

// maxResponseBodyBytes caps a single response.
const maxResponseBodyBytes = 10 * 1024 * 1024

var (
	// ErrMissingAPIKey is returned by NewClient without a credential.
	ErrMissingAPIKey = errors.New("tmdb: api key is required")
	// ErrNonRetryable marks client-side rejections (4xx other than 429).
	ErrNonRetryable = errors.New("non-retryable response")
)

// StatusError is an unexpected HTTP status from the API.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config holds the client tunables.
type Config struct {
	APIKey   string
	BaseURL  string
	Language string
	// RequestDelay is the minimum spacing between outbound calls across all callers.
	RequestDelay time.Duration
	MaxRetries   int
	Timeout      time.Duration
	// BackoffBase b gives a wait of b^attempt seconds before retry attempt.
	BackoffBase float64
}

// Client issues catalog requests. It is safe for concurrent use; every
// goroutine shares one rate gate.
type Client struct {
	httpClient Doer
	cfg        Config
	limiter    *rate.Limiter
	cache      cache.Store
	log        logger.Logger
	metrics    *metrics.Metrics
	sleep      Sleeper
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.httpClient = d }
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a client. store may be cache.Disabled{}.
func NewClient(cfg Config, store cache.Store, log logger.Logger, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BackoffBase < 1 {
		cfg.BackoffBase = 2
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		cache:      store,
		log:        log,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}

	log.Info("catalog client initialized",
		logger.String("base_url", cfg.BaseURL),
		logger.Duration("request_delay", cfg.RequestDelay),
		logger.Int("max_retries", cfg.MaxRetries),
	)
	return c, nil
}

// WithBackoffBase returns a client sharing this client's rate gate, cache and
// transport but backing off with base b.
func (c *Client) WithBackoffBase(b float64) *Client {
	cp := *c
	if b >= 1 {
		cp.cfg.BackoffBase = b
	}
	return &cp
}

// Request returns the payload for endpoint and params, from cache or the API.
// ok is false when the item is unavailable this run: a non-retryable
// rejection, exhausted retries, or cancellation.
func (c *Client) Request(ctx context.Context, endpoint string, params cache.Params) (json.RawMessage, bool) {
	if payload, ok := c.cache.Lookup(ctx, endpoint, params); ok {
		c.metrics.CacheHit()
		return payload, true
	}
	c.metrics.CacheMissed()

	reqURL := c.buildURL(endpoint, params)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt)
			c.log.Warn("retrying request",
				logger.String("endpoint", endpoint),
				logger.Int("attempt", attempt+1),
				logger.Duration("wait", wait),
				logger.Error(lastErr),
			)
			c.metrics.Retry()
			if err := c.sleep(ctx, wait); err != nil {
				return nil, false
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			c.log.Warn("rate gate aborted", logger.String("endpoint", endpoint), logger.Error(err))
			return nil, false
		}

		c.log.Debug("api request",
			logger.String("endpoint", endpoint),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", c.cfg.MaxRetries+1),
		)
		body, err := c.get(ctx, reqURL)
		if err == nil {
			if storeErr := c.cache.Store(ctx, endpoint, params, body); storeErr != nil {
				c.log.Warn("cache write failed", logger.String("endpoint", endpoint), logger.Error(storeErr))
			}
			return body, true
		}

		lastErr = err
		if errors.Is(err, ErrNonRetryable) {
			c.log.Error("request rejected", logger.String("endpoint", endpoint), logger.Error(err))
			return nil, false
		}
		if ctx.Err() != nil {
			return nil, false
		}
	}

	c.metrics.GaveUp()
	c.log.Error("request failed after retries",
		logger.String("endpoint", endpoint),
		logger.Int("attempts", c.cfg.MaxRetries+1),
		logger.Error(lastErr),
	)
	return nil, false
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(c.cfg.BackoffBase, float64(attempt)) * float64(time.Second))
}

// buildURL adds the credential and locale. They are not part of the cache key.
func (c *Client) buildURL(endpoint string, params cache.Params) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("api_key", c.cfg.APIKey)
	if c.cfg.Language != "" {
		q.Set("language", c.cfg.Language)
	}
	return c.cfg.BaseURL + "/" + strings.TrimPrefix(endpoint, "/") + "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, reqURL string) (json.RawMessage, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrNonRetryable, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest("network_error", time.Since(start))
		return nil, fmt.Errorf("http fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		c.metrics.ObserveRequest("network_error", time.Since(start))
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.metrics.ObserveRequest("ok", time.Since(start))
		if !json.Valid(body) {
			return nil, errors.New("response body is not valid JSON")
		}
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.metrics.ObserveRequest("server_error", time.Since(start))
		return nil, &StatusError{Code: resp.StatusCode}
	default:
		c.metrics.ObserveRequest("client_error", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrNonRetryable, &StatusError{Code: resp.StatusCode})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
