// Package harvest discovers catalog items from list sources, enriches each
// with its sub-resources on a bounded worker pool, and persists the results
// in resumable batches.
package harvest

import (
	"encoding/json"
	"time"
)

// ResumeSource is the attribution recorded for items loaded from a failure file.
const ResumeSource = "resume"

// ItemID identifies a catalog item.
type ItemID int64

// ItemRecord is one enriched item. Sub-resources that could not be fetched
// are written as null.
type ItemRecord struct {
	MovieID        ItemID          `json:"movie_id"`
	CrawlTimestamp time.Time       `json:"crawl_timestamp"`
	Details        json.RawMessage `json:"details"`
	Credits        json.RawMessage `json:"credits"`
	Keywords       json.RawMessage `json:"keywords"`
	Videos         json.RawMessage `json:"videos"`
	Reviews        json.RawMessage `json:"reviews"`
	Similar        json.RawMessage `json:"similar"`
	Sources        []string        `json:"sources"`
}

// Summary holds the counts of a run. Successful + Failed == Attempted.
type Summary struct {
	CrawlDate      string   `json:"crawl_date"`
	CrawlTimestamp string   `json:"crawl_timestamp"`
	Attempted      int      `json:"total_movies_attempted"`
	Successful     int      `json:"successful_crawls"`
	Failed         int      `json:"failed_crawls"`
	FailedIDs      []ItemID `json:"failed_movie_ids"`
}

// Dataset is the consolidated output of a run.
type Dataset struct {
	Summary Summary      `json:"crawl_summary"`
	Movies  []ItemRecord `json:"movies"`
}

// DiscoverySummary records the intended scope of a run before enrichment.
type DiscoverySummary struct {
	CrawlDate      string              `json:"crawl_date"`
	TotalUnique    int                 `json:"total_unique_movies"`
	Sources        []string            `json:"sources"`
	PagesPerSource map[string]int      `json:"pages_per_source"`
	MovieSources   map[ItemID][]string `json:"movie_sources"`
	Selected       []ItemID            `json:"selected_movie_ids"`
}

// FailureFile lists the ids that failed; it is the input of a resume run.
type FailureFile struct {
	FailedIDs []ItemID `json:"failed_movie_ids"`
}

// Options override configuration for a single run. Nil and empty fields
// fall back to the service configuration.
type Options struct {
	PagesPerSource *int     `json:"pages_per_source,omitempty"`
	MaxItems       *int     `json:"max_items,omitempty"`
	Sources        []string `json:"sources,omitempty"`
	ResumeFrom     string   `json:"resume_from,omitempty"`
}

// SubResult is the outcome of one sub-resource fetch. Reason is set when
// Data is missing.
type SubResult struct {
	Data   json.RawMessage
	Reason string
}

// OK reports whether the fetch produced data.
func (r SubResult) OK() bool {
	return r.Reason == ""
}

// Config is the orchestrator configuration.
type Config struct {
	// Sources are discovered in this order.
	Sources      []string
	Pages        map[string]int
	DefaultPages int
	// MaxItems caps the discovered candidate set; 0 disables the cap.
	MaxItems  int
	BatchSize int
	Workers   int
	PageDelay time.Duration
}

func (c Config) pagesFor(source string) int {
	if p, ok := c.Pages[source]; ok {
		return p
	}
	return c.DefaultPages
}
