// ABOUTME: CLI commands for retention, re-normalization, FIT sync, and scheduled passes.
// ABOUTME: Wraps the retention sweeper, pipeline backfill, syncer, and scheduler.
package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/scheduler"
	"github.com/spf13/cobra"
)

var (
	pruneDays    int
	backfillFrom string
	backfillTo   string
	syncSince    string
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old recommendations",
	Long: `Delete recommendations whose target date is older than the retention window
(default 14 days).

EXAMPLES:

  coach prune             # Keep the last 14 days
  coach prune --days 30   # Keep the last 30 days`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := coach.Prune(cmd.Context(), pruneDays)
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		color.Green("✓ Deleted %d recommendations", n)
		return nil
	},
}

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Run every retention policy",
	Long: `Apply every retention policy: recommendations (14 days) and the
generation log (90 days) by default. A failing policy does not stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, r := range sweeper.Sweep(cmd.Context()) {
			if r.Err != nil {
				failed++
				color.Red("✗ %s: %v", r.Policy, r.Err)
				continue
			}
			color.Green("✓ %s: deleted %d before %s", r.Policy, r.Deleted, r.Cutoff)
		}
		if failed > 0 {
			return fmt.Errorf("%d retention policies failed", failed)
		}
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill <user>",
	Short: "Re-normalize stored activities with the current factors",
	Long: `Conversion-factor changes apply to new activities only. Backfill
re-normalizes stored activities in a date range and rebuilds the affected days.

EXAMPLES:

  coach backfill alice --from 2026-09-01 --to 2026-10-15`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseDay(backfillFrom)
		if err != nil {
			return err
		}
		to, err := parseDay(backfillTo)
		if err != nil {
			return err
		}
		if to.IsZero() {
			to = coach.Today()
		}
		if from.IsZero() {
			from = to.AddDays(-27)
		}

		sum, err := pipeline.Backfill(cmd.Context(), args[0], from, to)
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}
		printSummary(sum)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <user> <dir>",
	Short: "Ingest every FIT file in a directory",
	Long: `Read every .fit file in a directory and ingest it for the user. File names
become activity IDs, so syncing the same folder again replaces rather than
duplicates.

EXAMPLES:

  coach sync alice ~/Garmin/Activities
  coach sync alice ./fit --since 2026-10-01`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseDay(syncSince)
		if err != nil {
			return err
		}

		syncer := ingest.NewSyncer(ingest.FITDir{Dir: args[1]}, pipeline, settings.Sync, logger)
		sum, err := syncer.Sync(cmd.Context(), args[0], since)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		printSummary(sum)
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run one scheduled pass now",
	Long: `Request tomorrow's recommendation for every athlete, then apply retention.
This is the pass 'coach serve' runs nightly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := scheduler.New(coach, db, sweeper, settings.Scheduler, logger)
		rep, err := s.RunOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("scheduled pass failed: %w", err)
		}
		color.Green("✓ %d athletes: %d created, %d skipped, %d failed",
			rep.Athletes, rep.Created, rep.Skipped, rep.Failed)
		return nil
	},
}

func init() {
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "days to keep (default 14)")
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "first day (YYYY-MM-DD, default 28 days before --to)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "last day (YYYY-MM-DD, default today)")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "skip files before this day (YYYY-MM-DD)")

	rootCmd.AddCommand(pruneCmd, retentionCmd, backfillCmd, syncCmd, scheduleCmd)
}
