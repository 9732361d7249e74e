// ABOUTME: Recommendation rows, generation claims, and the generation log.
// ABOUTME: Claims and the unique (user_id, target_date) index serialize concurrent generation.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/coach/internal/models"
	"github.com/jmoiron/sqlx"
)

type recommendationRow struct {
	ID              string `db:"id"`
	UserID          string `db:"user_id"`
	GenerationDate  string `db:"generation_date"`
	TargetDate      string `db:"target_date"`
	DataWindowStart string `db:"data_window_start"`
	DataWindowEnd   string `db:"data_window_end"`
	MetricsSnapshot string `db:"metrics_snapshot"`
	Content         string `db:"content"`
	SourcePath      string `db:"source_path"`
	CreatedAt       string `db:"created_at"`
}

const recommendationColumns = `id, user_id, generation_date, target_date, data_window_start,
	data_window_end, metrics_snapshot, content, source_path, created_at`

func (r recommendationRow) model() (*models.Recommendation, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse recommendation id: %w", err)
	}
	days := make([]models.Day, 4)
	for i, s := range []string{r.GenerationDate, r.TargetDate, r.DataWindowStart, r.DataWindowEnd} {
		if days[i], err = models.ParseDay(s); err != nil {
			return nil, err
		}
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	rec := &models.Recommendation{
		ID:              id,
		UserID:          r.UserID,
		GenerationDate:  days[0],
		TargetDate:      days[1],
		DataWindowStart: days[2],
		DataWindowEnd:   days[3],
		Content:         r.Content,
		SourcePath:      models.SourcePath(r.SourcePath),
		CreatedAt:       created,
	}
	if err := json.Unmarshal([]byte(r.MetricsSnapshot), &rec.MetricsSnapshot); err != nil {
		return nil, fmt.Errorf("decode metrics snapshot: %w", err)
	}
	return rec, nil
}

func (d *DB) scanRecommendations(ctx context.Context, query string, args ...any) ([]*models.Recommendation, error) {
	var rows []recommendationRow
	if err := d.db.SelectContext(ctx, &rows, d.q(query), args...); err != nil {
		return nil, err
	}
	out := make([]*models.Recommendation, 0, len(rows))
	for _, r := range rows {
		rec, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetRecommendation returns the recommendation for (userID, target) or ErrNotFound.
func (d *DB) GetRecommendation(ctx context.Context, userID string, target models.Day) (*models.Recommendation, error) {
	var row recommendationRow
	query := d.q(`SELECT ` + recommendationColumns + ` FROM recommendations WHERE user_id = ? AND target_date = ?`)
	err := d.db.GetContext(ctx, &row, query, userID, target.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recommendation %s/%s: %w", userID, target, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get recommendation: %w", err)
	}
	return row.model()
}

// LatestRecommendation returns the user's recommendation with the greatest
// target date, or ErrNotFound.
func (d *DB) LatestRecommendation(ctx context.Context, userID string) (*models.Recommendation, error) {
	recs, err := d.ListRecommendations(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("latest recommendation for %s: %w", userID, ErrNotFound)
	}
	return recs[0], nil
}

// ListRecommendations returns a user's recommendations, newest target first.
// An empty userID lists every user.
func (d *DB) ListRecommendations(ctx context.Context, userID string, limit int) ([]*models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY target_date DESC, user_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	recs, err := d.scanRecommendations(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	return recs, nil
}

// ClaimGeneration inserts a claim for (userID, target), or takes over one
// claimed before staleBefore. Exactly one concurrent caller sees true.
func (d *DB) ClaimGeneration(ctx context.Context, userID string, target models.Day, token string, source models.SourcePath, now, staleBefore time.Time) (bool, error) {
	query := d.q(`
		INSERT INTO recommendation_claims (user_id, target_date, token, source_path, claimed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, target_date) DO UPDATE SET
			token = excluded.token,
			source_path = excluded.source_path,
			claimed_at = excluded.claimed_at
		WHERE recommendation_claims.claimed_at < ?
	`)
	res, err := d.db.ExecContext(ctx, query,
		userID, target.String(), token, string(source), formatTime(now), formatTime(staleBefore))
	if err != nil {
		return false, fmt.Errorf("claim generation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim generation: %w", err)
	}
	return n == 1, nil
}

// ClaimActive reports whether any claim is held for (userID, target).
func (d *DB) ClaimActive(ctx context.Context, userID string, target models.Day) (bool, error) {
	var n int
	query := d.q(`SELECT COUNT(*) FROM recommendation_claims WHERE user_id = ? AND target_date = ?`)
	if err := d.db.GetContext(ctx, &n, query, userID, target.String()); err != nil {
		return false, fmt.Errorf("check claim: %w", err)
	}
	return n > 0, nil
}

// ReleaseClaim drops token's claim. A claim taken over by another token is left alone.
func (d *DB) ReleaseClaim(ctx context.Context, userID string, target models.Day, token string) error {
	query := d.q(`DELETE FROM recommendation_claims WHERE user_id = ? AND target_date = ? AND token = ?`)
	if _, err := d.db.ExecContext(ctx, query, userID, target.String(), token); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// CommitRecommendation inserts rec if its key is free and drops token's claim.
func (d *DB) CommitRecommendation(ctx context.Context, rec *models.Recommendation, token string) (bool, error) {
	snapshot, err := json.Marshal(rec.MetricsSnapshot)
	if err != nil {
		return false, fmt.Errorf("encode metrics snapshot: %w", err)
	}

	var inserted bool
	err = d.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, d.q(`
			INSERT INTO recommendations (`+recommendationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, target_date) DO NOTHING
		`),
			rec.ID.String(), rec.UserID, rec.GenerationDate.String(), rec.TargetDate.String(),
			rec.DataWindowStart.String(), rec.DataWindowEnd.String(), string(snapshot),
			rec.Content, string(rec.SourcePath), formatTime(rec.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert recommendation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert recommendation: %w", err)
		}
		inserted = n == 1

		_, err = tx.ExecContext(ctx, d.q(`DELETE FROM recommendation_claims WHERE user_id = ? AND target_date = ? AND token = ?`),
			rec.UserID, rec.TargetDate.String(), token)
		if err != nil {
			return fmt.Errorf("release claim: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

type generationLogRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	TargetDate string         `db:"target_date"`
	SourcePath string         `db:"source_path"`
	Outcome    string         `db:"outcome"`
	Error      sql.NullString `db:"error"`
	CreatedAt  string         `db:"created_at"`
}

// LogGeneration appends one attempt to the generation log.
func (d *DB) LogGeneration(ctx context.Context, e *models.GenerationLogEntry) error {
	var msg sql.NullString
	if e.Error != nil {
		msg = sql.NullString{String: *e.Error, Valid: true}
	}
	query := d.q(`
		INSERT INTO generation_log (id, user_id, target_date, source_path, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := d.db.ExecContext(ctx, query,
		e.ID.String(), e.UserID, e.TargetDate.String(), string(e.SourcePath), string(e.Outcome), msg, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("log generation: %w", err)
	}
	return nil
}

// ListGenerationLog returns the most recent attempts, newest first.
// An empty userID lists every user.
func (d *DB) ListGenerationLog(ctx context.Context, userID string, limit int) ([]*models.GenerationLogEntry, error) {
	query := `SELECT id, user_id, target_date, source_path, outcome, error, created_at FROM generation_log`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []generationLogRow
	if err := d.db.SelectContext(ctx, &rows, d.q(query), args...); err != nil {
		return nil, fmt.Errorf("list generation log: %w", err)
	}

	out := make([]*models.GenerationLogEntry, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("parse log id: %w", err)
		}
		target, err := models.ParseDay(r.TargetDate)
		if err != nil {
			return nil, err
		}
		created, err := parseTime(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		e := &models.GenerationLogEntry{
			ID:         id,
			UserID:     r.UserID,
			TargetDate: target,
			SourcePath: models.SourcePath(r.SourcePath),
			Outcome:    models.GenerationOutcome(r.Outcome),
			CreatedAt:  created,
		}
		if r.Error.Valid {
			msg := r.Error.String
			e.Error = &msg
		}
		out = append(out, e)
	}
	return out, nil
}
