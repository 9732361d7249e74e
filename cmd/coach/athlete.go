// ABOUTME: CLI commands for athlete profiles.
// ABOUTME: Sets risk profile, heart-rate zones, and coaching style.
package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/storage"
	"github.com/spf13/cobra"
)

var (
	athleteProfile   string
	athleteRestingHR float64
	athleteMaxHR     float64
	athleteStyle     string
)

var athleteCmd = &cobra.Command{
	Use:   "athlete",
	Short: "Manage athlete profiles",
	Long: `Manage per-athlete settings used by the risk engine and load aggregation.

RISK PROFILES:

  conservative   ACWR 1.5, 6 consecutive days, divergence 0.25
  moderate       ACWR 1.6, 7 consecutive days, divergence 0.30 (default)
  aggressive     ACWR 1.7, 8 consecutive days, divergence 0.35

EXAMPLES:

  coach athlete set alice --profile conservative
  coach athlete set alice --resting-hr 48 --max-hr 186
  coach athlete show alice
  coach athlete list`,
}

var athleteSetCmd = &cobra.Command{
	Use:   "set <user>",
	Short: "Create or update an athlete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := db.GetAthlete(ctx, args[0])
		if errors.Is(err, storage.ErrNotFound) {
			a = models.NewAthlete(args[0])
		} else if err != nil {
			return fmt.Errorf("failed to load athlete: %w", err)
		}

		if athleteProfile != "" {
			p, err := models.ParseRiskProfile(athleteProfile)
			if err != nil {
				return err
			}
			a.WithProfile(p)
		}
		if athleteRestingHR > 0 {
			a.RestingHR = athleteRestingHR
		}
		if athleteMaxHR > 0 {
			a.MaxHR = athleteMaxHR
		}
		if athleteStyle != "" {
			a.Style = athleteStyle
		}

		if err := db.UpsertAthlete(ctx, a); err != nil {
			return fmt.Errorf("failed to save athlete: %w", err)
		}

		color.Green("✓ Saved athlete %s", a.UserID)
		printAthlete(a)
		return nil
	},
}

var athleteShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show an athlete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := db.GetAthlete(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("athlete not found: %s", args[0])
		}
		printAthlete(a)
		return nil
	},
}

var athleteListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List athletes",
	RunE: func(cmd *cobra.Command, args []string) error {
		athletes, err := db.ListAthletes(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list athletes: %w", err)
		}
		if len(athletes) == 0 {
			fmt.Println("No athletes found.")
			return nil
		}
		for _, a := range athletes {
			fmt.Printf("%s  %s\n", padRight(a.UserID, 16), a.RiskProfile)
		}
		return nil
	},
}

func printAthlete(a *models.Athlete) {
	faint := color.New(color.Faint)
	fmt.Printf("  %s %s\n", faint.Sprint("profile"), a.RiskProfile)
	fmt.Printf("  %s %.0f-%.0f bpm\n", faint.Sprint("hr     "), a.RestingHR, a.MaxHR)
	fmt.Printf("  %s %s\n", faint.Sprint("style  "), a.Style)
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + fmt.Sprintf("%*s", length-len(s), "")
}

func init() {
	athleteSetCmd.Flags().StringVar(&athleteProfile, "profile", "", "risk profile (conservative, moderate, aggressive)")
	athleteSetCmd.Flags().Float64Var(&athleteRestingHR, "resting-hr", 0, "resting heart rate")
	athleteSetCmd.Flags().Float64Var(&athleteMaxHR, "max-hr", 0, "maximum heart rate")
	athleteSetCmd.Flags().StringVar(&athleteStyle, "style", "", "coaching style")

	athleteCmd.AddCommand(athleteSetCmd, athleteShowCmd, athleteListCmd)
	rootCmd.AddCommand(athleteCmd)
}
