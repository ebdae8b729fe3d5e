package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"harvester/internal/logger"
	"harvester/internal/scheduler"
)

func newScheduleCmd(root *rootFlags) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Harvest on the configured cron schedule until interrupted",
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

			s, err := a.startScheduler(ctx, runNow)
			if err != nil {
				return err
			}

			<-ctx.Done()
			a.log.Info("shutting down scheduler")
			<-s.Stop().Done()
			a.waitRuns()
			return nil
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "run one harvest immediately before waiting for the schedule")
	return cmd
}

// startScheduler starts the cron trigger. With runNow, one harvest runs in
// the background right away; it is tracked in a.runs and stops dispatching
// when ctx is done.
func (a *app) startScheduler(ctx context.Context, runNow bool) (*scheduler.Scheduler, error) {
	s, err := scheduler.New(scheduler.Config{
		HarvestCron:    a.cfg.Schedule.HarvestCron,
		EvictOlderThan: a.cfg.Schedule.EvictOlderThan,
	}, a.svc, a.log.With(logger.String("component", "scheduler")), a.responses, a.items)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	if runNow {
		a.runs.Go(func() {
			if err := s.RunOnce(ctx); err != nil {
				a.log.Error("initial harvest failed", logger.Error(err))
			}
		})
	}
	return s, nil
}
