// ABOUTME: CLI commands for exporting and importing coach data.
// ABOUTME: Supports JSON, YAML, and Parquet export formats.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/harperreed/coach/internal/storage"
	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <format>",
	Short: "Export coach data",
	Long: `Export coach data in various formats.

FORMATS:

  json       Full JSON export (suitable for backup/restore)
  yaml       Daily aggregates and recommendations (human-readable)
  parquet    Daily aggregates as a Parquet file (for analysis tools)

OPTIONS:

  --output, -o   Write to file instead of stdout (required for parquet)

EXAMPLES:

  coach export json                        # Export all data as JSON
  coach export json -o backup.json         # Save to file
  coach export yaml                        # Export as YAML
  coach export parquet -o loads.parquet    # Daily loads for pandas/duckdb`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"json", "yaml", "parquet"},
	RunE: func(cmd *cobra.Command, args []string) error {
		format := args[0]
		ctx := cmd.Context()

		var data []byte
		var err error

		switch format {
		case "json":
			data, err = db.ExportJSON(ctx)
		case "yaml":
			data, err = db.ExportYAML(ctx)
		case "parquet":
			if exportOutput == "" {
				return fmt.Errorf("parquet export needs --output")
			}
			data, err = db.ExportParquet(ctx)
		default:
			return fmt.Errorf("unknown format: %s (use json, yaml, or parquet)", format)
		}

		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		if exportOutput != "" {
			if err := os.WriteFile(exportOutput, data, 0600); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
			color.Green("✓ Exported to %s", exportOutput)
		} else {
			fmt.Println(string(data))
		}

		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import coach data from JSON",
	Long: `Import coach data from a JSON backup file.

Athletes, activities, loads, and aggregates are upserted. Recommendations that
already exist for their day are kept. Duplicate observations (same ID) cause an error.

EXAMPLES:

  coach import backup.json               # Import from file`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := args[0]

		raw, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var data storage.ExportData
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("invalid backup: %w", err)
		}
		if err := db.ImportData(cmd.Context(), &data); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		color.Green("✓ Imported from %s", filename)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: stdout)")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
