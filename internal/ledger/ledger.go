// ABOUTME: Recommendation ledger: at most one recommendation per (user, target date).
// ABOUTME: Concurrent triggers are serialized by a database claim; losers never call the generator.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/coach/internal/metrics"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/risk"
	"github.com/harperreed/coach/internal/storage"
	"github.com/harperreed/coach/internal/textgen"
	"github.com/rs/zerolog"
)

var (
	// ErrUpstreamTimeout means the generator did not answer within GenerationTimeout.
	ErrUpstreamTimeout = errors.New("text generation timed out")

	// ErrGenerationInFlight means another caller holds the claim and did not
	// produce a row before this caller stopped waiting. Retry on a later trigger.
	ErrGenerationInFlight = errors.New("recommendation generation in flight")
)

// Store is the persistence the ledger needs.
type Store interface {
	storage.LedgerStore
	storage.Pruner
	ListObservations(ctx context.Context, userID string, limit int) ([]*models.Observation, error)
}

// Options are fixed at construction.
type Options struct {
	GenerationTimeout time.Duration
	// ClaimLease is how old a claim must be before another caller may take it
	// over. It must exceed GenerationTimeout.
	ClaimLease time.Duration
	// WaitTimeout bounds how long a losing caller waits for the winner's row.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	// RetentionDays is the default horizon for Prune.
	RetentionDays int
	// Clock returns the current time; nil means time.Now.
	Clock func() time.Time
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		GenerationTimeout: 30 * time.Second,
		ClaimLease:        2 * time.Minute,
		WaitTimeout:       35 * time.Second,
		PollInterval:      200 * time.Millisecond,
		RetentionDays:     14,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = d.GenerationTimeout
	}
	if o.ClaimLease <= o.GenerationTimeout {
		o.ClaimLease = o.GenerationTimeout + time.Minute
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = o.GenerationTimeout + 5*time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.RetentionDays <= 0 {
		o.RetentionDays = d.RetentionDays
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Result describes a RequestGeneration call. Created is false when an
// existing recommendation was returned.
type Result struct {
	Recommendation *models.Recommendation   `json:"recommendation,omitempty"`
	Created        bool                     `json:"created"`
	Outcome        models.GenerationOutcome `json:"outcome"`
}

// Ledger coordinates recommendation generation.
type Ledger struct {
	store   Store
	gen     textgen.Generator
	engine  *risk.Engine
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Registry
}

// New returns a Ledger. A nil engine uses the default risk profiles and a nil
// metrics registry disables instrumentation.
func New(store Store, gen textgen.Generator, engine *risk.Engine, opts Options, log zerolog.Logger, m *metrics.Registry) *Ledger {
	if engine == nil {
		engine = risk.New(nil)
	}
	return &Ledger{
		store:   store,
		gen:     gen,
		engine:  engine,
		opts:    opts.withDefaults(),
		log:     log.With().Str("component", "ledger").Logger(),
		metrics: m,
	}
}

// Today returns the ledger's current calendar day.
func (l *Ledger) Today() models.Day {
	return models.DayOf(l.opts.Clock())
}

// Scheduled requests tomorrow's recommendation from the daily schedule.
func (l *Ledger) Scheduled(ctx context.Context, userID string) (Result, error) {
	return l.RequestGeneration(ctx, userID, l.Today().AddDays(1), models.SourceScheduled)
}

// Autopsy requests tomorrow's recommendation after the user logs an observation.
func (l *Ledger) Autopsy(ctx context.Context, userID string) (Result, error) {
	return l.RequestGeneration(ctx, userID, l.Today().AddDays(1), models.SourceAutopsy)
}

// Manual requests a recommendation on demand. A zero target means tomorrow.
func (l *Ledger) Manual(ctx context.Context, userID string, target models.Day) (Result, error) {
	if target.IsZero() {
		target = l.Today().AddDays(1)
	}
	return l.RequestGeneration(ctx, userID, target, models.SourceManual)
}

// RequestGeneration returns the recommendation for (userID, target), creating
// it if none exists. Every call is written to the generation log.
func (l *Ledger) RequestGeneration(ctx context.Context, userID string, target models.Day, source models.SourcePath) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, &models.ValidationError{Field: "user_id", Reason: "required"}
	}
	if target.IsZero() {
		return Result{}, &models.ValidationError{Field: "target_date", Reason: "required"}
	}
	if _, err := models.ParseSourcePath(string(source)); err != nil {
		return Result{}, err
	}

	log := l.log.With().Str("user_id", userID).Str("target_date", target.String()).Str("source", string(source)).Logger()

	res, err := l.request(ctx, log, userID, target, source)
	res.Outcome = outcomeOf(res, err)
	l.record(ctx, log, userID, target, source, res.Outcome, err)
	return res, err
}

func (l *Ledger) request(ctx context.Context, log zerolog.Logger, userID string, target models.Day, source models.SourcePath) (Result, error) {
	if rec, err := l.existing(ctx, userID, target); err != nil || rec != nil {
		return Result{Recommendation: rec}, err
	}

	token := uuid.NewString()
	now := l.opts.Clock()
	won, err := l.store.ClaimGeneration(ctx, userID, target, token, source, now, now.Add(-l.opts.ClaimLease))
	if err != nil {
		return Result{}, err
	}
	if !won {
		log.Debug().Msg("claim held elsewhere, waiting for winner")
		return l.awaitWinner(ctx, userID, target)
	}

	res, err := l.generate(ctx, log, userID, target, source, token)
	if err != nil || !res.Created {
		l.release(ctx, log, userID, target, token)
	}
	return res, err
}

// existing returns the stored recommendation, or nil when there is none.
func (l *Ledger) existing(ctx context.Context, userID string, target models.Day) (*models.Recommendation, error) {
	rec, err := l.store.GetRecommendation(ctx, userID, target)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (l *Ledger) generate(ctx context.Context, log zerolog.Logger, userID string, target models.Day, source models.SourcePath, token string) (Result, error) {
	// A winner may have committed between our first read and our claim.
	if rec, err := l.existing(ctx, userID, target); err != nil || rec != nil {
		return Result{Recommendation: rec}, err
	}

	end := target.AddDays(-1)
	start := risk.WindowStart(end)
	snapshot, err := l.snapshot(ctx, userID, start, end)
	if err != nil {
		return Result{}, err
	}

	req := textgen.Request{
		UserID:     userID,
		TargetDate: target,
		Source:     source,
		Snapshot:   snapshot,
	}
	if source == models.SourceAutopsy {
		req.Observations = l.recentNotes(ctx, log, userID, start)
	}

	content, err := l.callGenerator(ctx, req)
	if err != nil {
		return Result{}, err
	}

	rec, err := models.NewRecommendation(models.RecommendationParams{
		UserID:          userID,
		GenerationDate:  l.Today(),
		TargetDate:      target,
		DataWindowStart: start,
		DataWindowEnd:   end,
		Snapshot:        snapshot,
		Content:         content,
		SourcePath:      source,
	})
	if err != nil {
		return Result{}, fmt.Errorf("build recommendation: %w", err)
	}

	inserted, err := l.store.CommitRecommendation(ctx, rec, token)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		// Our claim went stale and another caller committed first.
		other, err := l.existing(ctx, userID, target)
		return Result{Recommendation: other}, err
	}

	log.Info().Str("recommendation_id", rec.ID.String()).Msg("recommendation created")
	return Result{Recommendation: rec, Created: true}, nil
}

func (l *Ledger) callGenerator(ctx context.Context, req textgen.Request) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, l.opts.GenerationTimeout)
	defer cancel()

	started := time.Now()
	content, err := l.gen.Generate(genCtx, req)
	result := "ok"
	switch {
	case err == nil && strings.TrimSpace(content) == "":
		err = errors.New("generator returned empty content")
		result = "error"
	case err != nil && ctx.Err() == nil && errors.Is(genCtx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w after %s: %v", ErrUpstreamTimeout, l.opts.GenerationTimeout, err)
		result = "timeout"
	case err != nil:
		err = fmt.Errorf("generate recommendation: %w", err)
		result = "error"
	}
	if l.metrics != nil {
		l.metrics.GenerationDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
	}
	return content, err
}

func (l *Ledger) snapshot(ctx context.Context, userID string, start, end models.Day) (models.MetricsSnapshot, error) {
	athlete, err := l.store.GetAthlete(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		athlete = models.NewAthlete(userID)
	} else if err != nil {
		return models.MetricsSnapshot{}, err
	}

	days, err := l.store.ListDailyAggregates(ctx, userID, start, end)
	if err != nil {
		return models.MetricsSnapshot{}, err
	}

	assessment := l.engine.Assess(userID, days, end, athlete.RiskProfile)
	return models.MetricsSnapshot{
		Assessment:  assessment,
		Days:        days,
		RiskProfile: assessment.Profile,
		Style:       athlete.Style,
	}, nil
}

func (l *Ledger) recentNotes(ctx context.Context, log zerolog.Logger, userID string, since models.Day) []string {
	obs, err := l.store.ListObservations(ctx, userID, 5)
	if err != nil {
		log.Warn().Err(err).Msg("list observations for autopsy")
		return nil
	}
	var notes []string
	for _, o := range obs {
		if !o.Date.Before(since) && strings.TrimSpace(o.Notes) != "" {
			notes = append(notes, fmt.Sprintf("%s: %s", o.Date, o.Notes))
		}
	}
	return notes
}

// awaitWinner polls for the claim holder's row without calling the generator.
func (l *Ledger) awaitWinner(ctx context.Context, userID string, target models.Day) (Result, error) {
	deadline := time.NewTimer(l.opts.WaitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(l.opts.PollInterval)
	defer tick.Stop()

	for {
		rec, err := l.existing(ctx, userID, target)
		if err != nil || rec != nil {
			return Result{Recommendation: rec}, err
		}
		active, err := l.store.ClaimActive(ctx, userID, target)
		if err != nil {
			return Result{}, err
		}
		if !active {
			// The winner may have committed just before releasing.
			if rec, err := l.existing(ctx, userID, target); err != nil || rec != nil {
				return Result{Recommendation: rec}, err
			}
			return Result{}, fmt.Errorf("%w: claim holder finished without a recommendation", ErrGenerationInFlight)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-deadline.C:
			return Result{}, ErrGenerationInFlight
		case <-tick.C:
		}
	}
}

func (l *Ledger) release(ctx context.Context, log zerolog.Logger, userID string, target models.Day, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.store.ReleaseClaim(rctx, userID, target, token); err != nil {
		log.Error().Err(err).Msg("release claim; it will expire after the lease")
	}
}

func outcomeOf(res Result, err error) models.GenerationOutcome {
	switch {
	case err == nil && res.Created:
		return models.OutcomeCreated
	case err == nil:
		return models.OutcomeSkipped
	case errors.Is(err, ErrUpstreamTimeout):
		return models.OutcomeTimeout
	case errors.Is(err, ErrGenerationInFlight):
		return models.OutcomeInFlight
	default:
		return models.OutcomeFailed
	}
}

func (l *Ledger) record(ctx context.Context, log zerolog.Logger, userID string, target models.Day, source models.SourcePath, outcome models.GenerationOutcome, err error) {
	if l.metrics != nil {
		l.metrics.GenerationRequests.WithLabelValues(string(source), string(outcome)).Inc()
	}

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("outcome", string(outcome)).Msg("generation request")

	entry := models.NewGenerationLogEntry(userID, target, source, outcome, err)
	entry.CreatedAt = l.opts.Clock().UTC()
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if lerr := l.store.LogGeneration(lctx, entry); lerr != nil {
		log.Error().Err(lerr).Msg("write generation log")
	}
}

// GetLatest returns the user's most recent recommendation by target date.
func (l *Ledger) GetLatest(ctx context.Context, userID string) (*models.Recommendation, error) {
	return l.store.LatestRecommendation(ctx, userID)
}

// GetRiskAssessment assesses userID's metrics for the window ending at date.
func (l *Ledger) GetRiskAssessment(ctx context.Context, userID string, date models.Day) (models.RiskAssessment, error) {
	if date.IsZero() {
		date = l.Today()
	}
	snap, err := l.snapshot(ctx, userID, risk.WindowStart(date), date)
	if err != nil {
		return models.RiskAssessment{}, err
	}
	return snap.Assessment, nil
}

// Prune deletes recommendations whose target date is more than retentionDays
// before today. A non-positive value uses Options.RetentionDays.
func (l *Ledger) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = l.opts.RetentionDays
	}
	cutoff := l.Today().AddDays(-retentionDays)
	n, err := l.store.PruneBefore(ctx, storage.PruneRecommendations, cutoff)
	if err != nil {
		return 0, err
	}
	l.log.Info().Int64("deleted", n).Str("cutoff", cutoff.String()).Msg("pruned recommendations")
	return n, nil
}
