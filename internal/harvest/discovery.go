package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"harvester/internal/logger"
	"harvester/internal/platform/tmdb"
)

// ErrUnknownSource is returned for a source id with no registered discovery function.
var ErrUnknownSource = errors.New("unknown list source")

// DiscoverFunc fetches one page of a list source.
type DiscoverFunc func(ctx context.Context, page int) (json.RawMessage, bool)

// Registry maps a source id to its discovery function.
type Registry map[string]DiscoverFunc

// Validate checks that every id has a discovery function.
func (r Registry) Validate(ids []string) error {
	for _, id := range ids {
		if _, ok := r[id]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSource, id)
		}
	}
	return nil
}

// IDs returns the registered source ids, sorted.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NewCatalogRegistry binds the catalog list endpoints to source ids.
func NewCatalogRegistry(c *tmdb.Client) Registry {
	return Registry{
		"popular":       c.Popular,
		"top_rated":     c.TopRated,
		"now_playing":   c.NowPlaying,
		"netflix":       c.Netflix,
		"trending_day":  c.TrendingDay,
		"trending_week": c.TrendingWeek,
	}
}

// attribution is an insertion-ordered set of ids, each with the sources that
// reported it.
type attribution struct {
	order   []ItemID
	sources map[ItemID][]string
}

func newAttribution() *attribution {
	return &attribution{sources: make(map[ItemID][]string)}
}

func (a *attribution) add(id ItemID, source string) {
	srcs, seen := a.sources[id]
	if !seen {
		a.order = append(a.order, id)
	}
	if slices.Contains(srcs, source) {
		return
	}
	a.sources[id] = append(srcs, source)
}

func (a *attribution) len() int {
	return len(a.order)
}

// candidates returns up to limit ids in discovery order; limit <= 0 returns all.
func (a *attribution) candidates(limit int) []ItemID {
	if limit <= 0 || limit >= len(a.order) {
		return slices.Clone(a.order)
	}
	return slices.Clone(a.order[:limit])
}

// discover pages through each source in turn. A failed page is logged and
// skipped; it never aborts the phase.
func (s *Service) discover(ctx context.Context, log logger.Logger, sources []string, pages map[string]int) *attribution {
	attr := newAttribution()
	first := true

	for _, src := range sources {
		fn := s.registry[src]
		found := 0

		for page := 1; page <= pages[src]; page++ {
			if !first {
				if err := sleepCtx(ctx, s.cfg.PageDelay); err != nil {
					log.Warn("discovery interrupted", logger.String("source", src), logger.Error(err))
					return attr
				}
			}
			first = false

			raw, ok := fn(ctx, page)
			if !ok {
				log.Warn("list page unavailable", logger.String("source", src), logger.Int("page", page))
				continue
			}
			lp, err := tmdb.ParseListPage(raw)
			if err != nil {
				log.Warn("list page skipped", logger.String("source", src), logger.Int("page", page), logger.Error(err))
				continue
			}

			for _, item := range lp.Results {
				attr.add(ItemID(item.ID), src)
			}
			found += len(lp.Results)

			if lp.TotalPages > 0 && page >= lp.TotalPages {
				break
			}
		}

		log.Info("source discovered", logger.String("source", src), logger.Int("items", found))
	}

	return attr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
