package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"harvester/internal/cache"
	"harvester/internal/logger"
	"harvester/internal/rawstore"
)

// itemEndpoint namespaces enriched records in the item cache.
const itemEndpoint = "item"

func itemParams(id ItemID) cache.Params {
	return cache.Params{"id": strconv.FormatInt(int64(id), 10)}
}

type outcome struct {
	id     ItemID
	record ItemRecord
	ok     bool
}

type enrichResult struct {
	records []ItemRecord
	failed  []ItemID
	batches int
}

// enrich fans ids out to the worker pool and consumes outcomes in completion
// order, flushing a batch file every BatchSize successes and once at the end.
// Ids not dispatched before ctx is done are counted as failed; dispatched ids
// run to completion.
func (s *Service) enrich(ctx context.Context, log logger.Logger, cat Catalog, ids []ItemID, sourcesFor func(ItemID) []string, store *rawstore.Store, ts string) enrichResult {
	res := enrichResult{records: []ItemRecord{}, failed: []ItemID{}}
	if len(ids) == 0 {
		return res
	}
	workers := min(s.cfg.Workers, len(ids))

	jobs := make(chan ItemID)
	outcomes := make(chan outcome, workers)
	dispatched := make(chan struct{})
	var undispatched []ItemID

	go func() {
		defer close(dispatched)
		defer close(jobs)
		for i, id := range ids {
			if ctx.Err() != nil {
				undispatched = ids[i:]
				return
			}
			select {
			case jobs <- id:
			case <-ctx.Done():
				undispatched = ids[i:]
				return
			}
		}
	}()

	// Dispatch stops when ctx is done, but a dispatched item is always
	// finished; each remote call is still bounded by the request timeout.
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				rec, ok := s.enrichItem(work, log, cat, id, sourcesFor(id))
				outcomes <- outcome{id: id, record: rec, ok: ok}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	seenFailed := make(map[ItemID]struct{})
	fail := func(id ItemID) {
		if _, dup := seenFailed[id]; dup {
			return
		}
		seenFailed[id] = struct{}{}
		res.failed = append(res.failed, id)
		s.metrics.ItemFailed()
	}

	var buffer []ItemRecord
	flush := func() {
		if len(buffer) == 0 {
			return
		}
		res.batches++
		path, err := store.SaveJSON(rawstore.BatchName(res.batches, ts), buffer)
		if err != nil {
			log.Error("batch write failed", logger.Int("batch", res.batches), logger.Int("size", len(buffer)), logger.Error(err))
		} else {
			s.metrics.BatchFlushed()
			log.Info("batch saved",
				logger.String("path", path),
				logger.Int("size", len(buffer)),
				logger.Int("succeeded_so_far", len(res.records)),
			)
		}
		buffer = nil
	}

	for o := range outcomes {
		if !o.ok {
			fail(o.id)
			continue
		}
		res.records = append(res.records, o.record)
		buffer = append(buffer, o.record)
		s.metrics.ItemSucceeded()
		if len(buffer) >= s.cfg.BatchSize {
			flush()
		}
	}

	<-dispatched
	if len(undispatched) > 0 {
		log.Warn("enrichment cancelled", logger.Int("undispatched", len(undispatched)), logger.Error(ctx.Err()))
	}
	for _, id := range undispatched {
		fail(id)
	}
	flush()

	return res
}

type subFetch struct {
	name  string
	dst   *json.RawMessage
	fetch func() (json.RawMessage, bool)
}

// enrichItem builds the record for id. It fails only when base details are
// unavailable; missing sub-resources are left null.
func (s *Service) enrichItem(ctx context.Context, log logger.Logger, cat Catalog, id ItemID, sources []string) (ItemRecord, bool) {
	log = log.With(logger.Int64("movie_id", int64(id)))

	if raw, ok := s.items.Lookup(ctx, itemEndpoint, itemParams(id)); ok {
		var rec ItemRecord
		if err := json.Unmarshal(raw, &rec); err == nil && hasData(rec.Details) {
			rec.Sources = sources
			log.Debug("item cache hit")
			return rec, true
		}
		log.Warn("item cache entry unusable")
	}

	movieID := int64(id)
	details, ok := cat.MovieDetails(ctx, movieID)
	if !ok || !hasData(details) {
		log.Warn("item details unavailable")
		return ItemRecord{}, false
	}

	rec := ItemRecord{
		MovieID:        id,
		CrawlTimestamp: s.now(),
		Details:        details,
		Sources:        sources,
	}
	subs := []subFetch{
		{"credits", &rec.Credits, func() (json.RawMessage, bool) { return cat.Credits(ctx, movieID) }},
		{"keywords", &rec.Keywords, func() (json.RawMessage, bool) { return cat.Keywords(ctx, movieID) }},
		{"videos", &rec.Videos, func() (json.RawMessage, bool) { return cat.Videos(ctx, movieID) }},
		{"reviews", &rec.Reviews, func() (json.RawMessage, bool) { return cat.Reviews(ctx, movieID, 1) }},
		{"similar", &rec.Similar, func() (json.RawMessage, bool) { return cat.Similar(ctx, movieID, 1) }},
	}
	complete := true
	for _, sub := range subs {
		r := fetchSub(sub.fetch)
		if !r.OK() {
			log.Warn("sub-resource missing", logger.String("resource", sub.name), logger.String("reason", r.Reason))
			s.metrics.SubResourceMissing(sub.name)
			if r.Reason == reasonUnavailable {
				complete = false
			}
		}
		*sub.dst = r.Data
	}

	// Records with unfetched sub-resources are not cached, so a later run
	// retries them.
	if complete {
		s.cacheItem(ctx, log, id, rec)
	}

	log.Debug("item enriched")
	return rec, true
}

func (s *Service) cacheItem(ctx context.Context, log logger.Logger, id ItemID, rec ItemRecord) {
	payload, err := json.Marshal(rec)
	if err == nil {
		err = s.items.Store(ctx, itemEndpoint, itemParams(id), payload)
	}
	if err != nil {
		log.Warn("item cache write failed", logger.Error(err))
	}
}

// Sub-resource miss reasons.
const (
	reasonUnavailable = "unavailable"
	reasonEmpty       = "empty payload"
)

func fetchSub(fetch func() (json.RawMessage, bool)) SubResult {
	data, ok := fetch()
	if !ok {
		return SubResult{Reason: reasonUnavailable}
	}
	if !hasData(data) {
		return SubResult{Reason: reasonEmpty}
	}
	return SubResult{Data: data}
}

// hasData reports whether raw holds something other than null or an empty object.
func hasData(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && !bytes.Equal(b, []byte("null")) && !bytes.Equal(b, []byte("{}"))
}
