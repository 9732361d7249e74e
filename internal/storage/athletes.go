// ABOUTME: Athlete profile CRUD operations.
// ABOUTME: Also holds the text encodings for dates and instants shared by all tables.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/coach/internal/models"
)

// timeLayout is fixed width so stored instants sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

type athleteRow struct {
	UserID           string  `db:"user_id"`
	RiskProfile      string  `db:"risk_profile"`
	RestingHR        float64 `db:"resting_hr"`
	MaxHR            float64 `db:"max_hr"`
	TRIMPCoefficient float64 `db:"trimp_coefficient"`
	Style            string  `db:"style"`
	CreatedAt        string  `db:"created_at"`
}

func (r athleteRow) model() (*models.Athlete, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &models.Athlete{
		UserID:           r.UserID,
		RiskProfile:      models.RiskProfile(r.RiskProfile),
		RestingHR:        r.RestingHR,
		MaxHR:            r.MaxHR,
		TRIMPCoefficient: r.TRIMPCoefficient,
		Style:            r.Style,
		CreatedAt:        created,
	}, nil
}

const athleteColumns = `user_id, risk_profile, resting_hr, max_hr, trimp_coefficient, style, created_at`

// UpsertAthlete creates or replaces an athlete profile.
func (d *DB) UpsertAthlete(ctx context.Context, a *models.Athlete) error {
	if err := a.Validate(); err != nil {
		return err
	}
	query := d.q(`
		INSERT INTO athletes (` + athleteColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			risk_profile = excluded.risk_profile,
			resting_hr = excluded.resting_hr,
			max_hr = excluded.max_hr,
			trimp_coefficient = excluded.trimp_coefficient,
			style = excluded.style
	`)
	_, err := d.db.ExecContext(ctx, query,
		a.UserID, string(a.RiskProfile), a.RestingHR, a.MaxHR, a.TRIMPCoefficient, a.Style, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert athlete: %w", err)
	}
	return nil
}

// EnsureAthlete stores a only when userID has no profile yet. It reports
// whether a row was created; an existing profile is never touched.
func (d *DB) EnsureAthlete(ctx context.Context, a *models.Athlete) (bool, error) {
	if err := a.Validate(); err != nil {
		return false, err
	}
	query := d.q(`
		INSERT INTO athletes (` + athleteColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`)
	res, err := d.db.ExecContext(ctx, query,
		a.UserID, string(a.RiskProfile), a.RestingHR, a.MaxHR, a.TRIMPCoefficient, a.Style, formatTime(a.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("ensure athlete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure athlete: %w", err)
	}
	return n > 0, nil
}

// GetAthlete returns the profile for userID or ErrNotFound.
func (d *DB) GetAthlete(ctx context.Context, userID string) (*models.Athlete, error) {
	var row athleteRow
	err := d.db.GetContext(ctx, &row, d.q(`SELECT `+athleteColumns+` FROM athletes WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("athlete %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get athlete: %w", err)
	}
	return row.model()
}

// ListAthletes returns every athlete ordered by user ID.
func (d *DB) ListAthletes(ctx context.Context) ([]*models.Athlete, error) {
	var rows []athleteRow
	if err := d.db.SelectContext(ctx, &rows, `SELECT `+athleteColumns+` FROM athletes ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("list athletes: %w", err)
	}

	out := make([]*models.Athlete, 0, len(rows))
	for _, r := range rows {
		a, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
