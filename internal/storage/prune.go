// ABOUTME: Date-cutoff deletes for retention policies.
// ABOUTME: Only whitelisted table/column pairs can be pruned.
package storage

import (
	"context"
	"fmt"

	"github.com/harperreed/coach/internal/models"
)

// PruneTarget names a prunable table and the date column compared to the cutoff.
type PruneTarget string

const (
	PruneRecommendations PruneTarget = "recommendations"
	PruneGenerationLog   PruneTarget = "generation_log"
)

var pruneColumns = map[PruneTarget]string{
	PruneRecommendations: "target_date",
	PruneGenerationLog:   "created_at",
}

// PruneBefore deletes rows of target whose date column is before cutoff and
// returns how many were removed. Rows dated on cutoff are kept.
func (d *DB) PruneBefore(ctx context.Context, target PruneTarget, cutoff models.Day) (int64, error) {
	column, ok := pruneColumns[target]
	if !ok {
		return 0, fmt.Errorf("prune: unknown target %q", target)
	}

	// Instants sort after their own date prefix, so "< cutoff" keeps the whole cutoff day.
	query := d.q(fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, target, column))
	res, err := d.db.ExecContext(ctx, query, cutoff.String())
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", target, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", target, err)
	}
	return n, nil
}
