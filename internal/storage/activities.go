// ABOUTME: Activity and NormalizedLoad persistence.
// ABOUTME: An activity and its load are written together so edits never leave them out of step.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/coach/internal/models"
	"github.com/jmoiron/sqlx"
)

type activityRow struct {
	ID              string          `db:"id"`
	UserID          string          `db:"user_id"`
	Sport           string          `db:"sport"`
	Date            string          `db:"activity_date"`
	Distance        float64         `db:"distance"`
	DurationSeconds float64         `db:"duration_seconds"`
	ElevationGain   float64         `db:"elevation_gain"`
	AverageSpeed    sql.NullFloat64 `db:"average_speed"`
	HeartRateSeries sql.NullString  `db:"heart_rate_series"`
	ManualRPE       sql.NullFloat64 `db:"manual_rpe"`
	StartedAt       string          `db:"started_at"`
	CreatedAt       string          `db:"created_at"`
}

const activityColumns = `id, user_id, sport, activity_date, distance, duration_seconds, elevation_gain,
	average_speed, heart_rate_series, manual_rpe, started_at, created_at`

func (r activityRow) model() (*models.Activity, error) {
	date, err := models.ParseDay(r.Date)
	if err != nil {
		return nil, err
	}
	started, err := parseTime(r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	a := &models.Activity{
		ID:            r.ID,
		UserID:        r.UserID,
		Sport:         models.SportKind(r.Sport),
		Date:          date,
		Distance:      r.Distance,
		Duration:      time.Duration(r.DurationSeconds * float64(time.Second)),
		ElevationGain: r.ElevationGain,
		StartedAt:     started,
		CreatedAt:     created,
	}
	if r.AverageSpeed.Valid {
		v := r.AverageSpeed.Float64
		a.AverageSpeed = &v
	}
	if r.ManualRPE.Valid {
		v := r.ManualRPE.Float64
		a.ManualRPE = &v
	}
	if r.HeartRateSeries.Valid && r.HeartRateSeries.String != "" {
		if err := json.Unmarshal([]byte(r.HeartRateSeries.String), &a.HeartRateSeries); err != nil {
			return nil, fmt.Errorf("decode heart rate series: %w", err)
		}
	}
	return a, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func activityArgs(a *models.Activity) ([]any, error) {
	var hr sql.NullString
	if len(a.HeartRateSeries) > 0 {
		b, err := json.Marshal(a.HeartRateSeries)
		if err != nil {
			return nil, fmt.Errorf("encode heart rate series: %w", err)
		}
		hr = sql.NullString{String: string(b), Valid: true}
	}
	return []any{
		a.ID, a.UserID, string(a.Sport), a.Date.String(), a.Distance, a.Duration.Seconds(), a.ElevationGain,
		nullFloat(a.AverageSpeed), hr, nullFloat(a.ManualRPE), formatTime(a.StartedAt), formatTime(a.CreatedAt),
	}, nil
}

const upsertActivity = `
	INSERT INTO activities (` + activityColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		sport = excluded.sport,
		activity_date = excluded.activity_date,
		distance = excluded.distance,
		duration_seconds = excluded.duration_seconds,
		elevation_gain = excluded.elevation_gain,
		average_speed = excluded.average_speed,
		heart_rate_series = excluded.heart_rate_series,
		manual_rpe = COALESCE(excluded.manual_rpe, activities.manual_rpe),
		started_at = excluded.started_at
`

const upsertLoad = `
	INSERT INTO normalized_loads (activity_id, user_id, load_date, sport, equivalent_distance,
		elevation_load, total_load, conversion_factor, rpe_used, factor_version)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (activity_id) DO UPDATE SET
		load_date = excluded.load_date,
		sport = excluded.sport,
		equivalent_distance = excluded.equivalent_distance,
		elevation_load = excluded.elevation_load,
		total_load = excluded.total_load,
		conversion_factor = excluded.conversion_factor,
		rpe_used = excluded.rpe_used,
		factor_version = excluded.factor_version
`

// UpsertActivity stores an activity, replacing a previous sync of the same ID.
func (d *DB) UpsertActivity(ctx context.Context, a *models.Activity) error {
	args, err := activityArgs(a)
	if err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, d.q(upsertActivity), args...); err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}
	return nil
}

// SaveActivityLoad writes an activity and its normalized load in one transaction.
func (d *DB) SaveActivityLoad(ctx context.Context, a *models.Activity, load models.NormalizedLoad) error {
	args, err := activityArgs(a)
	if err != nil {
		return err
	}

	return d.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, d.q(upsertActivity), args...); err != nil {
			return fmt.Errorf("upsert activity: %w", err)
		}
		_, err := tx.ExecContext(ctx, d.q(upsertLoad),
			load.ActivityID, load.UserID, load.Date.String(), string(load.Sport), load.EquivalentDistance,
			load.ElevationLoad, load.TotalLoad, load.ConversionFactorUsed, nullFloat(load.RPEUsed), load.FactorVersion)
		if err != nil {
			return fmt.Errorf("upsert normalized load: %w", err)
		}
		return nil
	})
}

// GetActivity returns the activity with id or ErrNotFound.
func (d *DB) GetActivity(ctx context.Context, id string) (*models.Activity, error) {
	var row activityRow
	err := d.db.GetContext(ctx, &row, d.q(`SELECT `+activityColumns+` FROM activities WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("activity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return row.model()
}

// ListActivities returns a user's activities dated within [from, to], oldest first.
func (d *DB) ListActivities(ctx context.Context, userID string, from, to models.Day) ([]*models.Activity, error) {
	query := d.q(`
		SELECT ` + activityColumns + `
		FROM activities
		WHERE user_id = ? AND activity_date >= ? AND activity_date <= ?
		ORDER BY activity_date, started_at
	`)
	var rows []activityRow
	if err := d.db.SelectContext(ctx, &rows, query, userID, from.String(), to.String()); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	out := make([]*models.Activity, 0, len(rows))
	for _, r := range rows {
		a, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type loadRow struct {
	ActivityID         string          `db:"activity_id"`
	UserID             string          `db:"user_id"`
	Date               string          `db:"load_date"`
	Sport              string          `db:"sport"`
	EquivalentDistance float64         `db:"equivalent_distance"`
	ElevationLoad      float64         `db:"elevation_load"`
	TotalLoad          float64         `db:"total_load"`
	ConversionFactor   float64         `db:"conversion_factor"`
	RPEUsed            sql.NullFloat64 `db:"rpe_used"`
	FactorVersion      string          `db:"factor_version"`
}

// ListNormalizedLoads returns a user's loads dated within [from, to].
func (d *DB) ListNormalizedLoads(ctx context.Context, userID string, from, to models.Day) ([]models.NormalizedLoad, error) {
	query := d.q(`
		SELECT activity_id, user_id, load_date, sport, equivalent_distance, elevation_load,
			total_load, conversion_factor, rpe_used, factor_version
		FROM normalized_loads
		WHERE user_id = ? AND load_date >= ? AND load_date <= ?
		ORDER BY load_date, activity_id
	`)
	var rows []loadRow
	if err := d.db.SelectContext(ctx, &rows, query, userID, from.String(), to.String()); err != nil {
		return nil, fmt.Errorf("list normalized loads: %w", err)
	}

	out := make([]models.NormalizedLoad, 0, len(rows))
	for _, r := range rows {
		date, err := models.ParseDay(r.Date)
		if err != nil {
			return nil, err
		}
		l := models.NormalizedLoad{
			ActivityID:           r.ActivityID,
			UserID:               r.UserID,
			Date:                 date,
			Sport:                models.SportKind(r.Sport),
			EquivalentDistance:   r.EquivalentDistance,
			ElevationLoad:        r.ElevationLoad,
			TotalLoad:            r.TotalLoad,
			ConversionFactorUsed: r.ConversionFactor,
			FactorVersion:        r.FactorVersion,
		}
		if r.RPEUsed.Valid {
			v := r.RPEUsed.Float64
			l.RPEUsed = &v
		}
		out = append(out, l)
	}
	return out, nil
}

func (d *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
