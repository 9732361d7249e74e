// ABOUTME: CLI commands for logging and importing training sessions.
// ABOUTME: Handles manual entry, FIT import, RPE edits, and daily load listing.
package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/models"
	"github.com/spf13/cobra"
)

var (
	activityID        string
	activityAt        string
	activityDistance  float64
	activityDuration  float64
	activityElevation float64
	activitySpeed     float64
	activityHR        string
	activityRPE       float64
	activityDays      int
)

var activityCmd = &cobra.Command{
	Use:     "activity",
	Aliases: []string{"act"},
	Short:   "Log and import training sessions",
	Long: `Log training sessions. Each session is converted to run-equivalent load and
the day's aggregate is recomputed.

UNITS:

  --distance    km (swimming too)
  --duration    minutes
  --elevation   metres of climbing
  --speed       km/h (cycling; derived from distance and duration if omitted)
  --hr          comma-separated bpm samples, used for TRIMP

EXAMPLES:

  coach activity add alice run --distance 10 --elevation 120
  coach activity add alice ride --distance 60 --duration 120
  coach activity add alice swim --distance 2.5
  coach activity add alice strength --duration 45 --rpe 8
  coach activity import-fit alice morning.fit
  coach activity rpe <activity-id> 6
  coach activity days alice --days 14`,
}

var activityAddCmd = &cobra.Command{
	Use:   "add <user> <sport>",
	Short: "Log a training session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		startedAt := time.Now()
		if activityAt != "" {
			t, err := parseTime(activityAt)
			if err != nil {
				return fmt.Errorf("invalid timestamp: %s", activityAt)
			}
			startedAt = t
		}

		hr, err := parseSeries(activityHR)
		if err != nil {
			return err
		}

		a := models.NewActivity(args[0], models.ParseSportKind(args[1]), startedAt).
			WithDistance(activityDistance).
			WithDuration(time.Duration(activityDuration * float64(time.Minute))).
			WithElevation(activityElevation).
			WithHeartRate(hr)
		if activityID != "" {
			a.WithID(activityID)
		}
		if activitySpeed > 0 {
			a.WithAverageSpeed(activitySpeed)
		}
		if activityRPE > 0 {
			a.WithRPE(activityRPE)
		}

		sum, err := pipeline.Ingest(cmd.Context(), []models.Activity{*a})
		if err != nil {
			return fmt.Errorf("failed to log activity: %w", err)
		}
		if len(sum.Failed) > 0 {
			return sum.Failed[0].Err
		}

		color.Green("✓ Logged %s", a.Sport)
		fmt.Printf("  %s %s\n", color.New(color.Faint).Sprint(a.ID), a.Date)
		printDay(sum.Days[0])
		return nil
	},
}

var activityImportCmd = &cobra.Command{
	Use:   "import-fit <user> <file>...",
	Short: "Import FIT files",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var activities []models.Activity
		for _, path := range args[1:] {
			a, err := ingest.ReadFITFile(path, args[0])
			if err != nil {
				return err
			}
			activities = append(activities, *a)
		}

		sum, err := pipeline.Ingest(cmd.Context(), activities)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		printSummary(sum)
		return nil
	},
}

var activityRPECmd = &cobra.Command{
	Use:   "rpe <activity-id> <rpe>",
	Short: "Set perceived exertion (1-10) on an activity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rpe, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid rpe: %s", args[1])
		}

		day, err := pipeline.SetRPE(cmd.Context(), args[0], rpe)
		if err != nil {
			return fmt.Errorf("failed to set rpe: %w", err)
		}

		color.Green("✓ RPE %.0f recorded", rpe)
		printDay(day)
		return nil
	},
}

var activityDaysCmd = &cobra.Command{
	Use:   "days <user>",
	Short: "Show daily load aggregates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to := coach.Today()
		from := to.AddDays(-(activityDays - 1))
		days, err := db.ListDailyAggregates(cmd.Context(), args[0], from, to)
		if err != nil {
			return fmt.Errorf("failed to list days: %w", err)
		}
		if len(days) == 0 {
			fmt.Println("No training logged.")
			return nil
		}
		for _, d := range days {
			printDay(d)
		}
		return nil
	},
}

func printDay(d models.DailyAggregate) {
	faint := color.New(color.Faint)
	fmt.Printf("  %s  %s  %s  %s\n",
		d.Date,
		padRight(fmt.Sprintf("%.2f", d.TotalLoad), 7),
		padRight(string(d.DayKind), 12),
		faint.Sprintf("run %.2f  bike %.2f  swim %.2f  strength %.2f  trimp %.0f",
			d.Running, d.Cycling, d.Swimming, d.Strength, d.TRIMP))
}

func printSummary(sum ingest.Summary) {
	color.Green("✓ Ingested %d activities", sum.Ingested)
	for _, f := range sum.Failed {
		color.Red("✗ %s: %s", f.ActivityID, f.Message)
	}
	for _, d := range sum.Days {
		printDay(d)
	}
}

func parseSeries(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid heart-rate sample: %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"2006-01-02",
		time.RFC3339,
	}
	for _, f := range formats {
		if t, err := time.ParseInLocation(f, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format")
}

func init() {
	activityAddCmd.Flags().StringVar(&activityID, "id", "", "provider activity ID (generated when empty)")
	activityAddCmd.Flags().StringVar(&activityAt, "at", "", "start time (YYYY-MM-DD HH:MM)")
	activityAddCmd.Flags().Float64Var(&activityDistance, "distance", 0, "distance in km")
	activityAddCmd.Flags().Float64Var(&activityDuration, "duration", 0, "duration in minutes")
	activityAddCmd.Flags().Float64Var(&activityElevation, "elevation", 0, "elevation gain in metres")
	activityAddCmd.Flags().Float64Var(&activitySpeed, "speed", 0, "average speed in km/h")
	activityAddCmd.Flags().StringVar(&activityHR, "hr", "", "heart-rate samples in bpm, comma separated")
	activityAddCmd.Flags().Float64Var(&activityRPE, "rpe", 0, "perceived exertion 1-10")

	activityDaysCmd.Flags().IntVarP(&activityDays, "days", "n", 7, "number of days to show")

	activityCmd.AddCommand(activityAddCmd, activityImportCmd, activityRPECmd, activityDaysCmd)
	rootCmd.AddCommand(activityCmd)
}
