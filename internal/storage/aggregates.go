// ABOUTME: DailyAggregate persistence keyed by (user_id, date).
// ABOUTME: Re-aggregating a day replaces its row rather than adding a second one.
package storage

import (
	"context"
	"fmt"

	"github.com/harperreed/coach/internal/models"
)

type aggregateRow struct {
	UserID        string  `db:"user_id"`
	Date          string  `db:"agg_date"`
	Running       float64 `db:"running"`
	Cycling       float64 `db:"cycling"`
	Swimming      float64 `db:"swimming"`
	Strength      float64 `db:"strength"`
	TotalLoad     float64 `db:"total_load"`
	DayKind       string  `db:"day_kind"`
	TRIMP         float64 `db:"trimp"`
	ActivityCount int     `db:"activity_count"`
	UpdatedAt     string  `db:"updated_at"`
}

func (r aggregateRow) model() (models.DailyAggregate, error) {
	date, err := models.ParseDay(r.Date)
	if err != nil {
		return models.DailyAggregate{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return models.DailyAggregate{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return models.DailyAggregate{
		UserID:        r.UserID,
		Date:          date,
		Running:       r.Running,
		Cycling:       r.Cycling,
		Swimming:      r.Swimming,
		Strength:      r.Strength,
		TotalLoad:     r.TotalLoad,
		DayKind:       models.DayKind(r.DayKind),
		TRIMP:         r.TRIMP,
		ActivityCount: r.ActivityCount,
		UpdatedAt:     updated,
	}, nil
}

// UpsertDailyAggregate writes the aggregate for (agg.UserID, agg.Date).
func (d *DB) UpsertDailyAggregate(ctx context.Context, agg models.DailyAggregate) error {
	query := d.q(`
		INSERT INTO daily_aggregates (user_id, agg_date, running, cycling, swimming, strength,
			total_load, day_kind, trimp, activity_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, agg_date) DO UPDATE SET
			running = excluded.running,
			cycling = excluded.cycling,
			swimming = excluded.swimming,
			strength = excluded.strength,
			total_load = excluded.total_load,
			day_kind = excluded.day_kind,
			trimp = excluded.trimp,
			activity_count = excluded.activity_count,
			updated_at = excluded.updated_at
	`)
	_, err := d.db.ExecContext(ctx, query,
		agg.UserID, agg.Date.String(), agg.Running, agg.Cycling, agg.Swimming, agg.Strength,
		agg.TotalLoad, string(agg.DayKind), agg.TRIMP, agg.ActivityCount, formatTime(agg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert daily aggregate: %w", err)
	}
	return nil
}

// ListDailyAggregates returns stored aggregates within [from, to], oldest first.
// Days without a row are simply absent.
func (d *DB) ListDailyAggregates(ctx context.Context, userID string, from, to models.Day) ([]models.DailyAggregate, error) {
	query := d.q(`
		SELECT user_id, agg_date, running, cycling, swimming, strength, total_load,
			day_kind, trimp, activity_count, updated_at
		FROM daily_aggregates
		WHERE user_id = ? AND agg_date >= ? AND agg_date <= ?
		ORDER BY agg_date
	`)
	var rows []aggregateRow
	if err := d.db.SelectContext(ctx, &rows, query, userID, from.String(), to.String()); err != nil {
		return nil, fmt.Errorf("list daily aggregates: %w", err)
	}

	out := make([]models.DailyAggregate, 0, len(rows))
	for _, r := range rows {
		agg, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}
