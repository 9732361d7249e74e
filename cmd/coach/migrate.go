// ABOUTME: CLI command for migrating data between storage backends.
// ABOUTME: Copies the local SQLite database into PostgreSQL.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/harperreed/coach/internal/config"
	"github.com/harperreed/coach/internal/storage"
	"github.com/spf13/cobra"
)

var (
	migrateDSN    string
	migrateDryRun bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy the SQLite database into PostgreSQL",
	Long: `Copy every athlete, activity, load, aggregate, recommendation, and
observation from the current backend into a PostgreSQL database.

Rows are upserted, so running the migration again converges rather than
duplicating. Run with --dry-run first to see what would be copied.

USAGE:

  coach migrate --dsn postgres://coach@localhost/coach --dry-run
  COACH_POSTGRES_DSN=postgres://... coach migrate

AFTER MIGRATION:

  Set "backend": "postgres" in ~/.config/coach/config.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if migrateDryRun {
			color.Yellow("Dry run mode - no changes will be made")
			fmt.Println()

			data, err := db.GetAllData(ctx)
			if err != nil {
				return fmt.Errorf("failed to read source: %w", err)
			}
			fmt.Printf("  athletes         %d\n", len(data.Athletes))
			fmt.Printf("  activities       %d\n", len(data.Activities))
			fmt.Printf("  daily aggregates %d\n", len(data.Aggregates))
			fmt.Printf("  recommendations  %d\n", len(data.Recommendations))
			fmt.Printf("  observations     %d\n", len(data.Observations))
			return nil
		}

		dsn := migrateDSN
		if dsn == "" {
			dsn = os.Getenv(config.EnvPostgresDSN)
		}
		if dsn == "" {
			return fmt.Errorf("destination needs --dsn or %s", config.EnvPostgresDSN)
		}
		if db.Driver() == storage.DriverPostgres {
			return fmt.Errorf("current backend is already postgres")
		}

		dst, err := storage.OpenPostgres(dsn, storage.DefaultPoolConfig())
		if err != nil {
			return fmt.Errorf("failed to open destination: %w", err)
		}
		defer dst.Close()

		sum, err := storage.MigrateData(ctx, db, dst)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		color.Green("✓ Migrated to PostgreSQL")
		fmt.Printf("  athletes         %d\n", sum.Athletes)
		fmt.Printf("  activities       %d\n", sum.Activities)
		fmt.Printf("  daily aggregates %d\n", sum.Aggregates)
		fmt.Printf("  recommendations  %d\n", sum.Recommendations)
		fmt.Printf("  observations     %d\n", sum.Observations)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDSN, "dsn", "", "PostgreSQL DSN (default $COACH_POSTGRES_DSN)")
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "preview migration without making changes")
	rootCmd.AddCommand(migrateCmd)
}
