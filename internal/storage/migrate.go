// ABOUTME: Data migration between coach storage backends.
// ABOUTME: Copies every table from source to destination, e.g. SQLite to PostgreSQL.
package storage

import (
	"context"
	"fmt"
)

// MigrateSummary holds counts of migrated entities.
type MigrateSummary struct {
	Athletes        int
	Activities      int
	Aggregates      int
	Recommendations int
	Observations    int
}

// MigrateData copies all data from src to dst storage. Rows are upserted, so
// re-running a migration converges rather than duplicating.
func MigrateData(ctx context.Context, src, dst Repository) (*MigrateSummary, error) {
	data, err := src.GetAllData(ctx)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	// Observations are append-only; drop those the destination already has.
	existing, err := dst.ListObservations(ctx, "", 0)
	if err != nil {
		return nil, fmt.Errorf("list destination observations: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, o := range existing {
		have[o.ID.String()] = true
	}
	fresh := data.Observations[:0]
	for _, o := range data.Observations {
		if !have[o.ID.String()] {
			fresh = append(fresh, o)
		}
	}
	data.Observations = fresh

	if err := dst.ImportData(ctx, data); err != nil {
		return nil, fmt.Errorf("write destination: %w", err)
	}

	return &MigrateSummary{
		Athletes:        len(data.Athletes),
		Activities:      len(data.Activities),
		Aggregates:      len(data.Aggregates),
		Recommendations: len(data.Recommendations),
		Observations:    len(data.Observations),
	}, nil
}
