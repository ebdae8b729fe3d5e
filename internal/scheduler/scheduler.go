// Package scheduler triggers harvests on a cron schedule and evicts stale
// cache entries after each one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"harvester/internal/harvest"
	"harvester/internal/logger"
)

// Harvester runs one harvest. *harvest.Service satisfies it.
type Harvester interface {
	Run(ctx context.Context, opts harvest.Options) (*harvest.Dataset, error)
}

// Evictor removes cache entries older than a threshold. cache.Store satisfies it.
type Evictor interface {
	Evict(ctx context.Context, olderThan *time.Duration) (int, error)
}

type Config struct {
	HarvestCron    string
	EvictOlderThan time.Duration
}

type Scheduler struct {
	cron      *cron.Cron
	parser    cron.Parser
	harvester Harvester
	evictors  []Evictor
	cfg       Config
	log       logger.Logger
	cancel    context.CancelFunc
}

// New validates the cron expression. Standard five-field expressions and
// descriptors such as @daily are accepted.
func New(cfg Config, h Harvester, log logger.Logger, evictors ...Evictor) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.HarvestCron); err != nil {
		return nil, fmt.Errorf("parse harvest schedule %q: %w", cfg.HarvestCron, err)
	}

	cl := cronLogger{log: log}
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		parser:    parser,
		harvester: h,
		evictors:  evictors,
		cfg:       cfg,
		log:       log,
	}, nil
}

// Start schedules the harvest job. Jobs run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.cfg.HarvestCron, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("scheduled harvest failed", logger.Error(err))
		}
	}); err != nil {
		s.cancel()
		return fmt.Errorf("schedule harvest: %w", err)
	}

	s.cron.Start()

	schedule, _ := s.parser.Parse(s.cfg.HarvestCron)
	s.log.Info("scheduler started",
		logger.String("schedule", s.cfg.HarvestCron),
		logger.Time("next_run", schedule.Next(time.Now())),
	)
	return nil
}

// Stop cancels running jobs and returns a context that is done once they
// have returned.
func (s *Scheduler) Stop() context.Context {
	if s.cancel != nil {
		s.cancel()
	}
	return s.cron.Stop()
}

// RunOnce harvests and then evicts. Eviction runs even when the harvest
// failed; the harvest error is returned.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	s.log.Info("scheduled harvest triggered")

	ds, runErr := s.harvester.Run(ctx, harvest.Options{})
	if ds != nil {
		s.log.Info("scheduled harvest finished",
			logger.Int("attempted", ds.Summary.Attempted),
			logger.Int("succeeded", ds.Summary.Successful),
			logger.Int("failed", ds.Summary.Failed),
			logger.Duration("took", time.Since(start)),
		)
	}

	var evictErr error
	if s.cfg.EvictOlderThan > 0 {
		older := s.cfg.EvictOlderThan
		for _, e := range s.evictors {
			n, err := e.Evict(ctx, &older)
			if err != nil {
				evictErr = errors.Join(evictErr, err)
				continue
			}
			s.log.Info("cache evicted", logger.Int("removed", n), logger.Duration("older_than", older))
		}
	}

	if runErr != nil {
		return errors.Join(runErr, evictErr)
	}
	if evictErr != nil {
		return fmt.Errorf("evict cache: %w", evictErr)
	}
	return nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(kv []any) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, logger.Any(key, kv[i+1]))
	}
	return out
}
