// ABOUTME: Root Cobra command for coach CLI.
// ABOUTME: Wires config, logging, storage, and the engine via PersistentPre/PostRunE.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/harperreed/coach/internal/config"
	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/logging"
	"github.com/harperreed/coach/internal/metrics"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/normalize"
	"github.com/harperreed/coach/internal/retention"
	"github.com/harperreed/coach/internal/risk"
	"github.com/harperreed/coach/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logPretty bool

	cfg      *config.Config
	settings config.Settings
	logger   zerolog.Logger
	db       *storage.DB
	registry *metrics.Registry
	coach    *ledger.Ledger
	pipeline *ingest.Pipeline
	sweeper  *retention.Sweeper
	closeGen func() error
)

var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "Training-load normalization and risk analytics",
	Long: `Coach normalizes running, cycling, swimming, and strength sessions into a
single run-equivalent load, tracks acute and chronic load, flags injury risk,
and keeps one coaching recommendation per athlete per day.

QUICK START:

  $ coach athlete set alice --profile conservative --max-hr 185
  $ coach activity add alice run --distance 10 --elevation 150
  $ coach activity add alice strength --duration 45 --rpe 7
  $ coach observe alice "legs heavy on the climbs" --effort 8
  $ coach risk alice                      # ACWR, divergence, and flags
  $ coach recommend alice                 # Tomorrow's recommendation

IMPORTING:

  $ coach activity import-fit alice ride.fit     # Garmin/Wahoo FIT files
  $ coach sync alice ~/fit --since 2026-10-01    # Every .fit in a folder

SERVING:

  $ coach serve            # HTTP API, metrics, and the nightly scheduler
  $ coach mcp              # MCP server for AI assistants

CONFIGURATION:

  Settings live in ~/.config/coach/config.json. The default backend is SQLite
  at ~/.local/share/coach/coach.db; set "backend": "postgres" with
  COACH_POSTGRES_DSN to use PostgreSQL. Set "generator": "gemini" and
  GEMINI_API_KEY to generate recommendations with Gemini.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip engine init for commands that don't need it
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		return openEngine(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeEngine()
	},
}

// openEngine loads config and builds every component the commands use.
func openEngine(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_ = closeEngine()

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	settings, err = cfg.Settings()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := settings.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger = logging.New(level, logPretty, os.Stderr)

	db, err = cfg.OpenStorage()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	gen, closer, err := cfg.OpenGenerator(ctx, logger)
	if err != nil {
		_ = db.Close()
		db = nil
		return fmt.Errorf("failed to create generator: %w", err)
	}
	closeGen = closer

	registry = metrics.NewRegistry()
	coach = ledger.New(db, gen, risk.New(settings.Profiles), settings.Ledger, logger, registry)
	pipeline = ingest.New(db, normalize.New(settings.Factors), coach, logger, registry)
	sweeper = retention.New(db, settings.Retention, logger, registry)
	return nil
}

func closeEngine() error {
	if closeGen != nil {
		_ = closeGen()
		closeGen = nil
	}
	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}

// parseDay parses an optional YYYY-MM-DD flag; empty yields the zero Day.
func parseDay(s string) (models.Day, error) {
	if s == "" {
		return models.Day{}, nil
	}
	d, err := models.ParseDay(s)
	if err != nil {
		return models.Day{}, fmt.Errorf("invalid date: %s (use YYYY-MM-DD)", s)
	}
	return d, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "human-readable log output")
}
