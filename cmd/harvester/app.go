package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"harvester/internal/cache"
	"harvester/internal/config"
	"harvester/internal/harvest"
	"harvester/internal/logger"
	"harvester/internal/metrics"
	"harvester/internal/platform/tmdb"
)

// app holds the wired components shared by the subcommands. newApp sets up
// configuration, logging and caches; initHarvest adds the rest.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	metrics   *metrics.Metrics
	responses cache.Store
	items     cache.Store
	client    *tmdb.Client
	svc       *harvest.Service
	db        *pgxpool.Pool
	closers   []func() error
	// runs counts harvests started outside cron, which Close must not cut short.
	runs sync.WaitGroup
}

func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.debug {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	a.closers = append(a.closers, func() error {
		_ = log.Sync()
		return nil
	})

	if err := a.openCaches(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// initHarvest wires the client, the run ledger and the harvest service.
func (a *app) initHarvest(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	var err error
	a.client, err = tmdb.NewClient(tmdb.Config{
		APIKey:       cfg.API.Key,
		BaseURL:      cfg.API.BaseURL,
		Language:     cfg.API.Language,
		RequestDelay: cfg.Crawler.RequestDelay,
		MaxRetries:   cfg.Crawler.MaxRetries,
		Timeout:      cfg.Crawler.RequestTimeout,
		BackoffBase:  cfg.Crawler.BackoffBase,
	}, a.responses, log.With(logger.String("component", "client")), tmdb.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	runs, err := a.openLedger(ctx)
	if err != nil {
		return err
	}

	sources := cfg.EnabledSources()
	pages := make(map[string]int, len(cfg.Sources))
	for _, s := range cfg.Sources {
		pages[s.ID] = cfg.SourcePages(s.ID)
	}

	hcfg := harvest.Config{
		Sources:      sources,
		Pages:        pages,
		DefaultPages: cfg.Crawler.MaxPagesPerSource,
		MaxItems:     cfg.Crawler.MaxItems,
		BatchSize:    cfg.Crawler.BatchSize,
		Workers:      cfg.Crawler.Workers,
		PageDelay:    cfg.Crawler.PageDelay,
	}
	a.svc, err = harvest.NewService(
		hcfg,
		a.client,
		harvest.NewCatalogRegistry(a.client),
		a.items,
		cfg.Paths.RawPath(),
		log.With(logger.String("component", "harvest")),
		harvest.WithRunRepository(runs),
		harvest.WithResumeCatalog(a.client.WithBackoffBase(cfg.Crawler.ResumeBackoff)),
		harvest.WithMetrics(a.metrics),
	)
	return err
}

// openCaches selects the cache backend. Responses and enriched items live in
// separate namespaces.
func (a *app) openCaches(ctx context.Context) error {
	cfg := a.cfg
	if !cfg.Cache.IsEnabled() {
		a.responses, a.items = cache.Disabled{}, cache.Disabled{}
		a.log.Info("cache disabled")
		return nil
	}

	cacheLog := a.log.With(logger.String("component", "cache"))
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
		}
		a.closers = append(a.closers, client.Close)
		a.responses = cache.NewRedisStore(client, cfg.Redis.Prefix+"responses:", cfg.Cache.TTL, cacheLog)
		a.items = cache.NewRedisStore(client, cfg.Redis.Prefix+"items:", cfg.Cache.TTL, cacheLog)
	default:
		root := cfg.Paths.CachePath()
		responses, err := cache.NewFileStore(filepath.Join(root, "responses"), cfg.Cache.TTL, cacheLog)
		if err != nil {
			return err
		}
		items, err := cache.NewFileStore(filepath.Join(root, "items"), cfg.Cache.TTL, cacheLog)
		if err != nil {
			return err
		}
		a.responses, a.items = responses, items
	}

	a.log.Info("cache ready", logger.String("backend", cfg.Cache.Backend), logger.Duration("ttl", cfg.Cache.TTL))
	return nil
}

// openLedger connects to Postgres when a DSN is configured.
func (a *app) openLedger(ctx context.Context) (harvest.RunRepository, error) {
	dsn := a.cfg.Database.DSN
	if dsn == "" {
		return harvest.NopRepo{}, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database (%s): %w", redactDSN(dsn), err)
	}
	a.db = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	a.log.Info("run ledger connected", logger.String("dsn", redactDSN(dsn)))
	return harvest.NewPostgresRepo(pool), nil
}

// trackRuns counts requests served by h as in-progress harvests.
func (a *app) trackRuns(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.runs.Add(1)
		defer a.runs.Done()
		h.ServeHTTP(w, r)
	})
}

// waitRuns blocks until every tracked harvest has written its output.
func (a *app) waitRuns() {
	a.log.Info("waiting for in-progress harvests")
	a.runs.Wait()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func redactDSN(dsn string) string {
	const marker = "://"
	start := strings.Index(dsn, marker)
	if start < 0 {
		return dsn
	}
	start += len(marker)
	end := strings.Index(dsn[start:], "@")
	if end < 0 {
		return dsn
	}
	return dsn[:start] + "***" + dsn[start+end:]
}
