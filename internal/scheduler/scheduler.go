// ABOUTME: Daily scheduled trigger: requests tomorrow's recommendation for every athlete.
// ABOUTME: Runs the retention sweep after each pass.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/retention"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Trigger is the scheduled generation path.
type Trigger interface {
	Scheduled(ctx context.Context, userID string) (ledger.Result, error)
}

// Athletes lists the users to schedule.
type Athletes interface {
	ListAthletes(ctx context.Context) ([]*models.Athlete, error)
}

// Sweeper runs retention.
type Sweeper interface {
	Sweep(ctx context.Context) []retention.Result
}

// Config controls when and how wide a pass runs.
type Config struct {
	// Hour is the local hour of day (0-23) the daily pass starts.
	Hour        int
	Concurrency int
}

// Report summarizes one pass.
type Report struct {
	Athletes  int                `json:"athletes"`
	Created   int                `json:"created"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
	Retention []retention.Result `json:"retention,omitempty"`
}

// Scheduler drives the scheduled trigger path.
type Scheduler struct {
	trigger  Trigger
	athletes Athletes
	sweeper  Sweeper
	cfg      Config
	clock    func() time.Time
	log      zerolog.Logger
}

// New returns a Scheduler. sweeper may be nil.
func New(trigger Trigger, athletes Athletes, sweeper Sweeper, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Hour < 0 || cfg.Hour > 23 {
		cfg.Hour = 4
	}
	return &Scheduler{
		trigger:  trigger,
		athletes: athletes,
		sweeper:  sweeper,
		cfg:      cfg,
		clock:    time.Now,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// RunOnce requests tomorrow's recommendation for every athlete, then sweeps.
// A failure for one athlete is counted and does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	athletes, err := s.athletes.ListAthletes(ctx)
	if err != nil {
		return Report{}, err
	}

	var (
		mu  sync.Mutex
		rep = Report{Athletes: len(athletes)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, a := range athletes {
		userID := a.UserID
		g.Go(func() error {
			res, err := s.trigger.Scheduled(gctx, userID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Failed++
				s.log.Warn().Err(err).Str("user_id", userID).Msg("scheduled generation failed")
			case res.Created:
				rep.Created++
			default:
				rep.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	if s.sweeper != nil {
		rep.Retention = s.sweeper.Sweep(ctx)
	}

	s.log.Info().Int("athletes", rep.Athletes).Int("created", rep.Created).
		Int("skipped", rep.Skipped).Int("failed", rep.Failed).Msg("scheduled pass complete")
	return rep, nil
}

// NextRun returns the first instant at the configured hour strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.Hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run executes a pass at the configured hour every day until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.NextRun(s.clock())
		s.log.Info().Time("next_run", next).Msg("waiting for scheduled pass")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduled pass failed")
		}
	}
}
