// ABOUTME: CLI command for running the HTTP API with the nightly scheduler.
// ABOUTME: Shuts both down on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harperreed/coach/internal/api"
	"github.com/harperreed/coach/internal/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveAddr        string
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and scheduler",
	Long: `Start the HTTP API, Prometheus metrics, and the nightly scheduler.

ENDPOINTS:

  GET  /health                                   Liveness
  GET  /metrics                                  Prometheus metrics
  POST /v1/activities                            Ingest activities
  POST /v1/activities/{id}/rpe                   Set RPE
  PUT  /v1/athletes/{user}                       Create or update athlete
  GET  /v1/athletes/{user}                       Get athlete
  POST /v1/users/{user}/observations             Log observation (autopsy)
  POST /v1/users/{user}/recommendations          Get or create recommendation
  GET  /v1/users/{user}/recommendations/latest   Latest recommendation
  GET  /v1/users/{user}/risk?date=YYYY-MM-DD     Risk assessment
  POST /v1/admin/prune                           Prune recommendations
  POST /v1/admin/retention                       Run retention policies

The scheduler requests tomorrow's recommendation for every athlete at the
configured hour (default 04:00 local) and then applies retention. Ingesting
an activity for a new user creates a moderate-profile athlete for them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := settings.ListenAddr
		if serveAddr != "" {
			addr = serveAddr
		}
		serverCfg := api.DefaultServerConfig()
		serverCfg.Addr = addr
		serverCfg.WriteTimeout = settings.Ledger.WaitTimeout + 10*time.Second

		server := api.NewServer(serverCfg, api.Deps{
			Ledger:   coach,
			Pipeline: pipeline,
			Athletes: db,
			Sweeper:  sweeper,
			Metrics:  registry,
			Log:      logger,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(server.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		if !serveNoScheduler {
			s := scheduler.New(coach, db, sweeper, settings.Scheduler, logger)
			g.Go(func() error {
				if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, 127.0.0.1:8080)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "serve the API without the nightly scheduler")
	rootCmd.AddCommand(serveCmd)
}
