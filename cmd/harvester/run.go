package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"harvester/internal/harvest"
)

type runFlags struct {
	pages      int
	maxItems   int
	sources    []string
	resumeFrom string
}

// options converts the flags the user actually set into run overrides.
func (f *runFlags) options(changed func(name string) bool) harvest.Options {
	var opts harvest.Options
	if changed("pages") {
		pages := f.pages
		opts.PagesPerSource = &pages
	}
	if changed("max-items") {
		maxItems := f.maxItems
		opts.MaxItems = &maxItems
	}
	opts.Sources = f.sources
	opts.ResumeFrom = f.resumeFrom
	return opts
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one harvest",
		Long: `Run discovery over the enabled lists and enrich the selected movies.
With --resume-from, enrich the ids of an earlier failure file instead.`,
		Example: `  harvester run --max-items 50
  harvester run --sources netflix,popular --pages 2
  harvester run --resume-from data/raw/failed_ids_20260101_010000.000.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.initHarvest(ctx); err != nil {
				return err
			}

			ds, err := a.svc.Run(ctx, flags.options(cmd.Flags().Changed))
			if ds != nil {
				renderSummary(cmd.OutOrStdout(), a.cfg.Paths.RawPath(), ds.Summary)
			}
			return err
		},
	}

	cmd.Flags().IntVar(&flags.pages, "pages", 0, "pages per source, overriding per-source configuration")
	cmd.Flags().IntVar(&flags.maxItems, "max-items", 0, "maximum movies to enrich (0 = no limit)")
	cmd.Flags().StringSliceVar(&flags.sources, "sources", nil, "comma-separated list sources to use instead of the enabled ones")
	cmd.Flags().StringVar(&flags.resumeFrom, "resume-from", "", "failure file whose ids should be retried")
	return cmd
}
