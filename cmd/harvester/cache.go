package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"harvester/internal/cache"
	"harvester/internal/logger"
)

func newCacheCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response and item caches",
	}
	cmd.AddCommand(newCacheEvictCmd(root))
	return cmd
}

func newCacheEvictCmd(root *rootFlags) *cobra.Command {
	var (
		olderThan time.Duration
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Remove cache entries older than a threshold",
		Example: `  harvester cache evict --older-than 168h
  harvester cache evict --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && olderThan <= 0 {
				return errors.New("either --older-than or --all is required")
			}

			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			var threshold *time.Duration
			if !all {
				threshold = &olderThan
			}

			stores := []struct {
				name  string
				store cache.Store
			}{
				{"responses", a.responses},
				{"items", a.items},
			}
			for _, s := range stores {
				n, err := s.store.Evict(cmd.Context(), threshold)
				if err != nil {
					return fmt.Errorf("evict %s cache: %w", s.name, err)
				}
				a.log.Info("cache evicted", logger.String("cache", s.name), logger.Int("removed", n))
				fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d entries\n", s.name, n)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "remove entries stored longer ago than this (e.g. 168h)")
	cmd.Flags().BoolVar(&all, "all", false, "remove every entry")
	return cmd
}
