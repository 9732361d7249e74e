// ABOUTME: Pulls activities from a sync provider and feeds them through the pipeline.
// ABOUTME: Each fetch is paced by a token bucket and bounded by a timeout.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/coach/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrSyncTimeout is returned when a provider fetch exceeds the sync timeout.
var ErrSyncTimeout = errors.New("activity sync timed out")

// Source is an activity sync provider.
type Source interface {
	Fetch(ctx context.Context, userID string, since models.Day) ([]models.Activity, error)
}

// SyncConfig bounds calls to a Source.
type SyncConfig struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// DefaultSyncConfig returns a 30 second timeout and one fetch per second.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Timeout:       30 * time.Second,
		RatePerSecond: 1,
		Burst:         2,
	}
}

// Syncer fetches from a Source into a Pipeline.
type Syncer struct {
	source   Source
	pipeline *Pipeline
	limiter  *rate.Limiter
	timeout  time.Duration
	log      zerolog.Logger
}

// NewSyncer returns a Syncer. Zero config fields take the defaults.
func NewSyncer(src Source, p *Pipeline, cfg SyncConfig, log zerolog.Logger) *Syncer {
	d := DefaultSyncConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = d.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	return &Syncer{
		source:   src,
		pipeline: p,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		timeout:  cfg.Timeout,
		log:      log.With().Str("component", "sync").Logger(),
	}
}

// Sync fetches userID's activities since the given day and ingests them.
// Activities the provider returns for other users are dropped.
func (s *Syncer) Sync(ctx context.Context, userID string, since models.Day) (Summary, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Summary{}, fmt.Errorf("wait for sync slot: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	fetched, err := s.source.Fetch(fetchCtx, userID, since)
	if err != nil {
		if ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return Summary{}, fmt.Errorf("%w after %s", ErrSyncTimeout, s.timeout)
		}
		return Summary{}, fmt.Errorf("fetch activities: %w", err)
	}

	activities := fetched[:0]
	for _, a := range fetched {
		if a.UserID == "" {
			a.UserID = userID
		}
		if a.UserID != userID {
			s.log.Warn().Str("activity_id", a.ID).Str("user_id", a.UserID).Msg("dropping activity for another user")
			continue
		}
		activities = append(activities, a)
	}

	s.log.Debug().Str("user_id", userID).Int("activities", len(activities)).Dur("elapsed", time.Since(started)).Msg("fetched")
	return s.pipeline.Ingest(ctx, activities)
}
