package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "harvester",
		Short:         "Harvest and enrich movie catalog records",
		Long:          `Discovers movies from catalog lists, enriches each with credits, keywords, videos, reviews and similar titles, and writes resumable JSON batches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file (environment variables override it)")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newRunCmd(flags),
		newScheduleCmd(flags),
		newServeCmd(flags),
		newCacheCmd(flags),
		newLatestCmd(flags),
	)
	return cmd
}
