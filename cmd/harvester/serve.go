package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"harvester/internal/harvest"
	"harvester/internal/httpx"
	"harvester/internal/logger"
)

const (
	shutdownTimeout = 10 * time.Second
	maxTriggerBody  = 64 * 1024
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var withSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the harvest trigger, health and metrics endpoints",
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

			if withSchedule {
				s, err := a.startScheduler(ctx, false)
				if err != nil {
					return err
				}
				defer func() { <-s.Stop().Done() }()
			}

			if a.cfg.Server.InternalSecret == "" {
				a.log.Warn("internal secret not set, job endpoints are unauthenticated")
			}

			// Harvest requests hold the connection for the whole run, so
			// there is no write timeout. Request contexts derive from ctx so a
			// signal cancels running harvests cooperatively.
			srv := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           newRouter(ctx, a),
				BaseContext:       func(net.Listener) context.Context { return ctx },
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("http server listening", logger.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			err = srv.Shutdown(shutdownCtx)
			a.waitRuns()
			return err
		},
	}

	cmd.Flags().BoolVar(&withSchedule, "with-schedule", false, "also run the cron trigger in this process")
	return cmd
}

func newRouter(ctx context.Context, a *app) http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.db != nil {
			pingCtx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
			defer cancel()
			if err := a.db.Ping(pingCtx); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	router.Handle("GET /metrics", a.metrics.Handler())

	jobs := http.NewServeMux()
	harvest.NewHTTPHandler(a.svc).Routes(jobs)
	limiter := httpx.NewRateLimitMiddleware(ctx, 1, 3)
	router.Handle("/internal/jobs/", httpx.Chain(a.trackRuns(jobs),
		httpx.InternalSecretMiddleware(a.cfg.Server.InternalSecret),
		limiter.Middleware,
		httpx.RequestSizeLimitMiddleware(maxTriggerBody),
	))

	return httpx.Chain(router,
		httpx.RequestIDMiddleware,
		httpx.AccessLogMiddleware(a.log.With(logger.String("component", "http"))),
		httpx.RecoveryMiddleware(a.log),
	)
}
