package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"harvester/internal/cache"
	"harvester/internal/logger"
	"harvester/internal/metrics"
	"harvester/internal/rawstore"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("harvest already running")

// Catalog fetches the per-item resources. *tmdb.Client satisfies it.
type Catalog interface {
	MovieDetails(ctx context.Context, id int64) (json.RawMessage, bool)
	Credits(ctx context.Context, id int64) (json.RawMessage, bool)
	Keywords(ctx context.Context, id int64) (json.RawMessage, bool)
	Videos(ctx context.Context, id int64) (json.RawMessage, bool)
	Reviews(ctx context.Context, id int64, page int) (json.RawMessage, bool)
	Similar(ctx context.Context, id int64, page int) (json.RawMessage, bool)
}

type Service struct {
	catalog  Catalog
	resume   Catalog
	registry Registry
	items    cache.Store
	rawDir   string
	runs     RunRepository
	cfg      Config
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	running  atomic.Bool
}

// Option customizes a Service.
type Option func(*Service)

// WithRunRepository records each run in a ledger.
func WithRunRepository(r RunRepository) Option {
	return func(s *Service) { s.runs = r }
}

// WithResumeCatalog uses c instead of the main catalog for resume runs.
func WithResumeCatalog(c Catalog) Option {
	return func(s *Service) { s.resume = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService validates cfg.Sources against registry. items caches enriched
// records by id across runs and may be cache.Disabled{}.
func NewService(cfg Config, catalog Catalog, registry Registry, items cache.Store, rawDir string, log logger.Logger, opts ...Option) (*Service, error) {
	if err := registry.Validate(cfg.Sources); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if items == nil {
		items = cache.Disabled{}
	}

	s := &Service{
		catalog:  catalog,
		registry: registry,
		items:    items,
		rawDir:   rawDir,
		runs:     NopRepo{},
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes one harvest. Discovery runs unless opts.ResumeFrom names a
// failure file, in which case its ids are enriched directly. The returned
// dataset is also written to the raw directory.
func (s *Service) Run(ctx context.Context, opts Options) (ds *Dataset, err error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	sources := s.cfg.Sources
	if len(opts.Sources) > 0 {
		if err := s.registry.Validate(opts.Sources); err != nil {
			return nil, err
		}
		sources = opts.Sources
	}

	store, err := rawstore.New(s.rawDir)
	if err != nil {
		return nil, err
	}

	mode := ModeDiscovery
	if opts.ResumeFrom != "" {
		mode = ModeResume
	}
	started := s.now()
	ts := store.Stamp(started)
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: started,
		Status:    StatusRunning,
		Mode:      mode,
	}
	log := s.log.With(logger.String("run_id", run.ID), logger.String("mode", mode))

	if lerr := s.runs.CreateRun(ctx, run); lerr != nil {
		log.Warn("run ledger insert failed", logger.Error(lerr))
	}
	defer func() {
		now := s.now()
		run.FinishedAt = &now
		if ds != nil {
			run.Attempted = ds.Summary.Attempted
			run.Succeeded = ds.Summary.Successful
			run.Failed = ds.Summary.Failed
		}
		if err != nil {
			run.Status = StatusFailed
			run.Error = err.Error()
		} else {
			run.Status = StatusCompleted
		}
		if lerr := s.runs.FinishRun(context.WithoutCancel(ctx), run); lerr != nil {
			log.Warn("run ledger update failed", logger.Error(lerr))
		}
	}()

	summary := Summary{
		CrawlDate:      started.Format(time.RFC3339),
		CrawlTimestamp: ts,
		FailedIDs:      []ItemID{},
	}
	run.DatasetPath, err = store.SaveJSON(rawstore.DatasetName(ts), &Dataset{Summary: summary, Movies: []ItemRecord{}})
	if err != nil {
		return nil, err
	}

	var ids []ItemID
	var sourcesFor func(ItemID) []string
	cat := s.catalog
	if mode == ModeResume {
		ids, err = loadFailureFile(s.resumePath(opts.ResumeFrom))
		if err != nil {
			return nil, err
		}
		sourcesFor = func(ItemID) []string { return []string{ResumeSource} }
		if s.resume != nil {
			cat = s.resume
		}
		log.Info("resuming from failure file", logger.String("path", opts.ResumeFrom), logger.Int("items", len(ids)))
	} else {
		ids, sourcesFor, err = s.discoveryPhase(ctx, log, store, ts, started, sources, opts)
		if err != nil {
			return nil, err
		}
	}

	log.Info("enrichment started", logger.Int("items", len(ids)), logger.Int("workers", min(s.cfg.Workers, len(ids))))
	res := s.enrich(ctx, log, cat, ids, sourcesFor, store, ts)

	summary.Attempted = len(ids)
	summary.Successful = len(res.records)
	summary.Failed = len(res.failed)
	summary.FailedIDs = res.failed
	ds = &Dataset{Summary: summary, Movies: res.records}
	s.metrics.RunFinished(summary.Attempted, summary.Successful, summary.Failed)

	if _, err := store.SaveJSON(rawstore.DatasetName(ts), ds); err != nil {
		return ds, fmt.Errorf("save dataset: %w", err)
	}
	if len(res.failed) > 0 {
		path, err := store.SaveJSON(rawstore.FailedName(ts), FailureFile{FailedIDs: res.failed})
		if err != nil {
			return ds, fmt.Errorf("save failure file: %w", err)
		}
		log.Info("failure file saved", logger.String("path", path), logger.Int("failed", len(res.failed)))
	}

	log.Info("harvest completed",
		logger.Int("attempted", summary.Attempted),
		logger.Int("succeeded", summary.Successful),
		logger.Int("failed", summary.Failed),
		logger.Int("batches", res.batches),
		logger.String("dataset", run.DatasetPath),
	)
	return ds, nil
}

func (s *Service) discoveryPhase(ctx context.Context, log logger.Logger, store *rawstore.Store, ts string, started time.Time, sources []string, opts Options) ([]ItemID, func(ItemID) []string, error) {
	pages := make(map[string]int, len(sources))
	for _, src := range sources {
		pages[src] = s.cfg.pagesFor(src)
		if opts.PagesPerSource != nil {
			pages[src] = *opts.PagesPerSource
		}
	}
	limit := s.cfg.MaxItems
	if opts.MaxItems != nil {
		limit = *opts.MaxItems
	}

	log.Info("discovery started", logger.Strings("sources", sources), logger.Int("max_items", limit))
	attr := s.discover(ctx, log, sources, pages)
	ids := attr.candidates(limit)

	summary := DiscoverySummary{
		CrawlDate:      started.Format(time.RFC3339),
		TotalUnique:    attr.len(),
		Sources:        sources,
		PagesPerSource: pages,
		MovieSources:   attr.sources,
		Selected:       ids,
	}
	path, err := store.SaveJSON(rawstore.SummaryName(ts), summary)
	if err != nil {
		return nil, nil, fmt.Errorf("save discovery summary: %w", err)
	}
	log.Info("discovery completed",
		logger.Int("unique", attr.len()),
		logger.Int("selected", len(ids)),
		logger.String("summary", path),
	)

	return ids, func(id ItemID) []string { return attr.sources[id] }, nil
}

// Latest loads the newest dataset in the raw directory and returns its path.
func (s *Service) Latest() (string, *Dataset, error) {
	store, err := rawstore.New(s.rawDir)
	if err != nil {
		return "", nil, err
	}
	path, err := store.Latest(rawstore.DatasetPrefix)
	if err != nil {
		return "", nil, err
	}
	var ds Dataset
	if err := rawstore.LoadJSON(path, &ds); err != nil {
		return "", nil, err
	}
	return path, &ds, nil
}

// resumePath resolves a bare file name under the raw directory; paths are
// used as given.
func (s *Service) resumePath(p string) string {
	if filepath.Base(p) == p {
		return filepath.Join(s.rawDir, p)
	}
	return p
}

// loadFailureFile returns the ids of a failure file, deduplicated in order.
func loadFailureFile(path string) ([]ItemID, error) {
	var ff FailureFile
	if err := rawstore.LoadJSON(path, &ff); err != nil {
		return nil, fmt.Errorf("load resume file: %w", err)
	}
	seen := make(map[ItemID]struct{}, len(ff.FailedIDs))
	ids := make([]ItemID, 0, len(ff.FailedIDs))
	for _, id := range ff.FailedIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
