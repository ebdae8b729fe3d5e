package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"harvester/internal/cache"
)

const (
	netflixProviderID = "8"
	netflixRegion     = "US"
)

// ListItem is the part of a list entry the harvester relies on.
type ListItem struct {
	ID int64 `json:"id"`
}

// ListPage is one page of a list endpoint.
type ListPage struct {
	Page       int        `json:"page"`
	TotalPages int        `json:"total_pages"`
	Results    []ListItem `json:"results"`
}

// ParseListPage decodes a list payload. A payload without a results array is an error.
func ParseListPage(raw json.RawMessage) (*ListPage, error) {
	var probe struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode list page: %w", err)
	}
	if len(probe.Results) == 0 || string(probe.Results) == "null" {
		return nil, fmt.Errorf("list page has no results")
	}
	var page ListPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode list page: %w", err)
	}
	return &page, nil
}

func pageParams(page int) cache.Params {
	return cache.Params{"page": strconv.Itoa(page)}
}

// Popular returns a page of movie/popular.
func (c *Client) Popular(ctx context.Context, page int) (json.RawMessage, bool) {
	return c.Request(ctx, "movie/popular", pageParams(page))
}

// TopRated returns a page of movie/top_rated.
func (c *Client) TopRated(ctx context.Context, page int) (json.RawMessage, bool) {
	return c.Request(ctx, "movie/top_rated", pageParams(page))
}

// NowPlaying returns a page of movie/now_playing.
func (c *Client) NowPlaying(ctx context.Context, page int) (json.RawMessage, bool) {
	return c.Request(ctx, "movie/now_playing", pageParams(page))
}

// Netflix discovers movies streamed by the Netflix provider in the US region.
func (c *Client) Netflix(ctx context.Context, page int) (json.RawMessage, bool) {
	params := pageParams(page)
	params["with_watch_providers"] = netflixProviderID
	params["watch_region"] = netflixRegion
	return c.Request(ctx, "discover/movie", params)
}

// Trending returns a page of trending movies for window "day" or "week".
func (c *Client) Trending(ctx context.Context, window string, page int) (json.RawMessage, bool) {
	return c.Request(ctx, "trending/movie/"+window, pageParams(page))
}

// TrendingDay is Trending over the last day.
func (c *Client) TrendingDay(ctx context.Context, page int) (json.RawMessage, bool) {
	return c.Trending(ctx, "day", page)
}

// TrendingWeek is Trending over the last week.
func (c *Client) TrendingWeek(ctx context.Context, page int) (json.RawMessage, bool) {
	return c.Trending(ctx, "week", page)
}

func movieEndpoint(id int64, sub string) string {
	e := "movie/" + strconv.FormatInt(id, 10)
	if sub != "" {
		e += "/" + sub
	}
	return e
}

// MovieDetails returns the base record for id.
func (c *Client) MovieDetails(ctx context.Context, id int64) (json.RawMessage, bool) {
	return c.Request(ctx, movieEndpoint(id, ""), nil)
}

// Credits returns cast and crew.
func (c *Client) Credits(ctx context.Context, id int64) (json.RawMessage, bool) {
	return c.Request(ctx, movieEndpoint(id, "credits"), nil)
}

// Keywords returns keyword tags.
func (c *Client) Keywords(ctx context.Context, id int64) (json.RawMessage, bool) {
	return c.Request(ctx, movieEndpoint(id, "keywords"), nil)
}

// Videos returns trailers and teasers.
func (c *Client) Videos(ctx context.Context, id int64) (json.RawMessage, bool) {
	return c.Request(ctx, movieEndpoint(id, "videos"), nil)
}

// Reviews returns a page of reviews.
func (c *Client) Reviews(ctx context.Context, id int64, page int) (json.RawMessage, bool) {
	return c.Request(ctx, movieEndpoint(id, "reviews"), pageParams(page))
}

// Similar returns a page of similar movies.
func (c *Client) Similar(ctx context.Context, id int64, page int) (json.RawMessage, bool) {
	return c.Request(ctx, movieEndpoint(id, "similar"), pageParams(page))
}

// MovieSummary is the part of a details payload shown in listings.
type MovieSummary struct {
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
	PosterPath  string `json:"poster_path"`
}

// ParseMovieSummary decodes the listing fields of a details payload.
func ParseMovieSummary(raw json.RawMessage) (MovieSummary, error) {
	var m MovieSummary
	if err := json.Unmarshal(raw, &m); err != nil {
		return MovieSummary{}, fmt.Errorf("decode movie details: %w", err)
	}
	return m, nil
}

// PosterURL builds an image URL for a poster path, or "" when path is empty.
// Sizes: w92, w154, w185, w342, w500, w780, original.
func PosterURL(imageBaseURL, path, size string) string {
	if path == "" {
		return ""
	}
	if size == "" {
		size = "w500"
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(imageBaseURL, "/"), size, strings.TrimPrefix(path, "/"))
}
