// ABOUTME: CLI commands for recommendations, observations, and risk.
// ABOUTME: Covers the manual and autopsy trigger paths plus the generation log.
package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/storage"
	"github.com/spf13/cobra"
)

var (
	recommendDate   string
	riskDate        string
	observeDate     string
	observeActivity string
	observeEffort   float64
	logLimit        int
)

var recommendCmd = &cobra.Command{
	Use:     "recommend <user>",
	Aliases: []string{"rec"},
	Short:   "Get or create a recommendation",
	Long: `Get the recommendation for a target date, generating it if none exists.

At most one recommendation exists per athlete per day. Asking again returns the
stored one without calling the generator.

EXAMPLES:

  coach recommend alice                    # Tomorrow
  coach recommend alice --date 2026-10-20  # A specific day`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseDay(recommendDate)
		if err != nil {
			return err
		}

		res, err := coach.Manual(cmd.Context(), args[0], target)
		if err != nil {
			return fmt.Errorf("failed to get recommendation: %w", err)
		}

		if res.Created {
			color.Green("✓ Generated recommendation")
		} else {
			color.Yellow("Existing recommendation")
		}
		printRecommendation(res.Recommendation)
		return nil
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest <user>",
	Short: "Show the most recent recommendation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := coach.GetLatest(cmd.Context(), args[0])
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Println("No recommendations found.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get recommendation: %w", err)
		}
		printRecommendation(rec)
		return nil
	},
}

var observeCmd = &cobra.Command{
	Use:   "observe <user> <notes>",
	Short: "Record how a session felt",
	Long: `Record a post-workout observation. This triggers tomorrow's recommendation
so it can account for the notes. The observation is kept even if generation fails.

EXAMPLES:

  coach observe alice "left knee ached on descents" --effort 8
  coach observe alice "felt fresh" --activity run-42`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDay(observeDate)
		if err != nil {
			return err
		}
		if date.IsZero() {
			date = coach.Today()
		}

		o := models.NewObservation(args[0], date, strings.Join(args[1:], " "))
		if observeActivity != "" {
			o.WithActivity(observeActivity)
		}
		if observeEffort > 0 {
			o.WithEffort(observeEffort)
		}

		res, err := pipeline.LogObservation(cmd.Context(), o)
		if err != nil && !errors.Is(err, ingest.ErrNotGenerated) {
			return fmt.Errorf("failed to log observation: %w", err)
		}

		color.Green("✓ Logged observation")
		if err != nil {
			color.Yellow("%v", err)
			return nil
		}
		if res != nil {
			fmt.Printf("  %s\n", resultLabel(*res))
			printRecommendation(res.Recommendation)
		}
		return nil
	},
}

var riskCmd = &cobra.Command{
	Use:   "risk <user>",
	Short: "Show ACWR, divergence, and risk flags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDay(riskDate)
		if err != nil {
			return err
		}

		a, err := coach.GetRiskAssessment(cmd.Context(), args[0], date)
		if err != nil {
			return fmt.Errorf("failed to assess risk: %w", err)
		}
		printAssessment(a)
		return nil
	},
}

var genLogCmd = &cobra.Command{
	Use:   "log <user>",
	Short: "Show recent generation attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := db.ListGenerationLog(cmd.Context(), args[0], logLimit)
		if err != nil {
			return fmt.Errorf("failed to list generation log: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No generation attempts.")
			return nil
		}
		faint := color.New(color.Faint)
		for _, e := range entries {
			line := fmt.Sprintf("%s  %s  %s  %s",
				faint.Sprint(e.CreatedAt.Local().Format("2006-01-02 15:04")),
				e.TargetDate,
				padRight(string(e.SourcePath), 16),
				e.Outcome)
			if e.Error != nil {
				line += "  " + faint.Sprint(*e.Error)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func printRecommendation(rec *models.Recommendation) {
	if rec == nil {
		return
	}
	faint := color.New(color.Faint)
	fmt.Printf("  %s %s  %s %s\n",
		faint.Sprint("for"), rec.TargetDate,
		faint.Sprint("via"), rec.SourcePath)
	fmt.Printf("  %s %s..%s\n", faint.Sprint("data"), rec.DataWindowStart, rec.DataWindowEnd)
	fmt.Println()
	fmt.Println(rec.Content)
}

func printAssessment(a models.RiskAssessment) {
	faint := color.New(color.Faint)
	fmt.Printf("%s  %s  %s\n", a.UserID, a.Date, faint.Sprint(a.Profile))
	fmt.Printf("  %s %.2f  %s %.2f\n",
		faint.Sprint("acute"), a.Window.AcuteLoad,
		faint.Sprint("chronic"), a.Window.ChronicLoad)
	fmt.Printf("  %s %s (%s)\n", faint.Sprint("acwr"), optional(a.ACWR), a.ACWRLabel)
	fmt.Printf("  %s %s\n", faint.Sprint("divergence"), optional(a.Divergence))
	fmt.Printf("  %s %d\n", faint.Sprint("streak"), a.ConsecutiveTrainingDays)
	if len(a.Flags) == 0 {
		color.Green("  no risk flags")
		return
	}
	for _, f := range a.Flags {
		color.Red("  ⚠ %s", f)
	}
}

func optional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

// resultLabel summarizes a ledger result for one-line output.
func resultLabel(res ledger.Result) string {
	if res.Recommendation == nil {
		return string(res.Outcome)
	}
	return fmt.Sprintf("%s %s", res.Outcome, res.Recommendation.TargetDate)
}

func init() {
	recommendCmd.Flags().StringVar(&recommendDate, "date", "", "target date (YYYY-MM-DD, default tomorrow)")
	riskCmd.Flags().StringVar(&riskDate, "date", "", "assessment date (YYYY-MM-DD, default today)")
	observeCmd.Flags().StringVar(&observeDate, "date", "", "date of the session (YYYY-MM-DD, default today)")
	observeCmd.Flags().StringVar(&observeActivity, "activity", "", "related activity ID")
	observeCmd.Flags().Float64Var(&observeEffort, "effort", 0, "perceived effort 1-10")
	genLogCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "number of entries")

	rootCmd.AddCommand(recommendCmd, latestCmd, observeCmd, riskCmd, genLogCmd)
}
