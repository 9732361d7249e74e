// ABOUTME: Observation (post-workout note) persistence.
// ABOUTME: Observations are append-only inputs to the reactive autopsy path.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/harperreed/coach/internal/models"
)

type observationRow struct {
	ID              string          `db:"id"`
	UserID          string          `db:"user_id"`
	ActivityID      sql.NullString  `db:"activity_id"`
	Date            string          `db:"obs_date"`
	Notes           string          `db:"notes"`
	PerceivedEffort sql.NullFloat64 `db:"perceived_effort"`
	CreatedAt       string          `db:"created_at"`
}

// CreateObservation stores a new observation.
func (d *DB) CreateObservation(ctx context.Context, o *models.Observation) error {
	var activityID sql.NullString
	if o.ActivityID != nil {
		activityID = sql.NullString{String: *o.ActivityID, Valid: true}
	}
	query := d.q(`
		INSERT INTO observations (id, user_id, activity_id, obs_date, notes, perceived_effort, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := d.db.ExecContext(ctx, query,
		o.ID.String(), o.UserID, activityID, o.Date.String(), o.Notes, nullFloat(o.PerceivedEffort), formatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("create observation: %w", err)
	}
	return nil
}

// ListObservations returns a user's observations, newest first.
// An empty userID lists every user.
func (d *DB) ListObservations(ctx context.Context, userID string, limit int) ([]*models.Observation, error) {
	query := `SELECT id, user_id, activity_id, obs_date, notes, perceived_effort, created_at FROM observations`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY obs_date DESC, created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []observationRow
	if err := d.db.SelectContext(ctx, &rows, d.q(query), args...); err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}

	out := make([]*models.Observation, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("parse observation id: %w", err)
		}
		date, err := models.ParseDay(r.Date)
		if err != nil {
			return nil, err
		}
		created, err := parseTime(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		o := &models.Observation{
			ID:        id,
			UserID:    r.UserID,
			Date:      date,
			Notes:     r.Notes,
			CreatedAt: created,
		}
		if r.ActivityID.Valid {
			v := r.ActivityID.String
			o.ActivityID = &v
		}
		if r.PerceivedEffort.Valid {
			v := r.PerceivedEffort.Float64
			o.PerceivedEffort = &v
		}
		out = append(out, o)
	}
	return out, nil
}
