package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"harvester/internal/harvest"
	"harvester/internal/platform/tmdb"
	"harvester/internal/rawstore"
)

func newLatestCmd(root *rootFlags) *cobra.Command {
	var movies int

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the summary of the newest dataset",
		Example: `  harvester latest
  harvester latest --movies 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := rawstore.New(a.cfg.Paths.RawPath())
			if err != nil {
				return err
			}
			path, err := store.Latest(rawstore.DatasetPrefix)
			if err != nil {
				return fmt.Errorf("find latest dataset in %s: %w", store.Dir(), err)
			}
			var ds harvest.Dataset
			if err := rawstore.LoadJSON(path, &ds); err != nil {
				return err
			}

			renderSummary(cmd.OutOrStdout(), path, ds.Summary)
			if movies > 0 {
				renderMovies(cmd.OutOrStdout(), a.cfg.API.ImageBaseURL, ds.Movies, movies)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&movies, "movies", 0, "also list the first N movies with their poster URLs")
	return cmd
}

// renderSummary prints s as a two-column table.
func renderSummary(w io.Writer, location string, s harvest.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Location", location},
		{"Crawl date", s.CrawlDate},
		{"Timestamp", s.CrawlTimestamp},
		{"Attempted", s.Attempted},
		{"Succeeded", s.Successful},
		{"Failed", s.Failed},
		{"Failed IDs", joinIDs(s.FailedIDs)},
	})
	t.Render()
}

// renderMovies lists up to limit records with title, release date and poster.
func renderMovies(w io.Writer, imageBaseURL string, movies []harvest.ItemRecord, limit int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"ID", "Title", "Released", "Sources", "Poster"})
	for _, m := range movies[:min(limit, len(movies))] {
		info, err := tmdb.ParseMovieSummary(m.Details)
		if err != nil {
			t.AppendRow(table.Row{m.MovieID, "-", "-", strings.Join(m.Sources, ","), "-"})
			continue
		}
		t.AppendRow(table.Row{
			m.MovieID,
			info.Title,
			info.ReleaseDate,
			strings.Join(m.Sources, ","),
			tmdb.PosterURL(imageBaseURL, info.PosterPath, "w342"),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(movies)})
	t.Render()
}

func joinIDs(ids []harvest.ItemID) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	return strings.Join(parts, ", ")
}
