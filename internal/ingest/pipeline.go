// ABOUTME: Ingest pipeline: normalize activities, persist loads, and rebuild daily aggregates.
// ABOUTME: Also handles RPE edits, observations, and re-normalization backfills.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/harperreed/coach/internal/aggregate"
	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/metrics"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/normalize"
	"github.com/harperreed/coach/internal/storage"
	"github.com/rs/zerolog"
)

// ErrNotGenerated wraps a failed reactive generation after the observation
// itself was stored.
var ErrNotGenerated = errors.New("observation saved, recommendation not generated")

// Store is the persistence the pipeline needs.
type Store interface {
	GetAthlete(ctx context.Context, userID string) (*models.Athlete, error)
	EnsureAthlete(ctx context.Context, a *models.Athlete) (bool, error)
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
	ListActivities(ctx context.Context, userID string, from, to models.Day) ([]*models.Activity, error)
	SaveActivityLoad(ctx context.Context, a *models.Activity, load models.NormalizedLoad) error
	ListNormalizedLoads(ctx context.Context, userID string, from, to models.Day) ([]models.NormalizedLoad, error)
	UpsertDailyAggregate(ctx context.Context, agg models.DailyAggregate) error
	CreateObservation(ctx context.Context, o *models.Observation) error
}

// Trigger fires the reactive recommendation path.
type Trigger interface {
	Autopsy(ctx context.Context, userID string) (ledger.Result, error)
}

// Failure records one activity the pipeline could not ingest.
type Failure struct {
	ActivityID string `json:"activity_id"`
	Err        error  `json:"-"`
	Message    string `json:"error"`
}

// Summary reports a batch ingest.
type Summary struct {
	Ingested int                     `json:"ingested"`
	Failed   []Failure               `json:"failed,omitempty"`
	Days     []models.DailyAggregate `json:"days"`
}

// Pipeline turns raw activities into stored loads and aggregates.
type Pipeline struct {
	store      Store
	normalizer *normalize.Normalizer
	aggregator *aggregate.Aggregator
	trigger    Trigger
	log        zerolog.Logger
	metrics    *metrics.Registry
}

// New returns a Pipeline. trigger may be nil, in which case observations are
// stored without firing the reactive path.
func New(store Store, n *normalize.Normalizer, trigger Trigger, log zerolog.Logger, m *metrics.Registry) *Pipeline {
	return &Pipeline{
		store:      store,
		normalizer: n,
		aggregator: aggregate.New(),
		trigger:    trigger,
		log:        log.With().Str("component", "ingest").Logger(),
		metrics:    m,
	}
}

type dayKey struct {
	userID string
	date   string
}

// Ingest normalizes and stores each activity, then rebuilds the aggregate of
// every touched day. A bad activity is recorded in the summary and skipped.
func (p *Pipeline) Ingest(ctx context.Context, activities []models.Activity) (Summary, error) {
	var sum Summary
	touched := map[dayKey]models.Day{}

	for i := range activities {
		a := activities[i]
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		moved, err := p.ingestOne(ctx, &a)
		if err != nil {
			p.log.Warn().Err(err).Str("activity_id", a.ID).Str("user_id", a.UserID).Msg("skipping activity")
			sum.Failed = append(sum.Failed, Failure{ActivityID: a.ID, Err: err, Message: err.Error()})
			p.count("failed")
			continue
		}
		sum.Ingested++
		p.count("ingested")
		touched[dayKey{a.UserID, a.Date.String()}] = a.Date
		if moved != nil {
			touched[dayKey{moved.UserID, moved.Date.String()}] = moved.Date
		}
	}

	keys := make([]dayKey, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].userID != keys[j].userID {
			return keys[i].userID < keys[j].userID
		}
		return keys[i].date < keys[j].date
	})

	users := map[string]bool{}
	for _, k := range keys {
		if users[k.userID] {
			continue
		}
		users[k.userID] = true
		created, err := p.store.EnsureAthlete(ctx, models.NewAthlete(k.userID))
		if err != nil {
			return sum, err
		}
		if created {
			p.log.Info().Str("user_id", k.userID).Msg("created default athlete profile")
		}
	}

	for _, k := range keys {
		agg, err := p.Recompute(ctx, k.userID, touched[k])
		if err != nil {
			return sum, err
		}
		sum.Days = append(sum.Days, agg)
	}

	p.log.Info().Int("ingested", sum.Ingested).Int("failed", len(sum.Failed)).Int("days", len(sum.Days)).Msg("ingest complete")
	return sum, nil
}

// ingestOne validates, normalizes, and persists a single activity. A manual
// RPE already stored for the ID survives a re-sync that carries none. When the
// stored copy sat on another day, that copy is returned so its day is rebuilt.
func (p *Pipeline) ingestOne(ctx context.Context, a *models.Activity) (*models.Activity, error) {
	if strings.TrimSpace(a.ID) == "" {
		return nil, &models.ValidationError{Field: "id", Reason: "required"}
	}
	if strings.TrimSpace(a.UserID) == "" {
		return nil, &models.ValidationError{Field: "user_id", Reason: "required"}
	}
	if a.Date.IsZero() {
		return nil, &models.ValidationError{Field: "date", Reason: "required"}
	}

	prev, err := p.store.GetActivity(ctx, a.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load stored activity: %w", err)
	}
	var moved *models.Activity
	if prev != nil {
		if prev.UserID != a.UserID {
			return nil, &models.ValidationError{Field: "id", Reason: "belongs to another user"}
		}
		if a.ManualRPE == nil && prev.ManualRPE != nil {
			rpe := *prev.ManualRPE
			a.ManualRPE = &rpe
		}
		if prev.Date.String() != a.Date.String() {
			moved = prev
		}
	}

	load, err := p.normalizer.Normalize(*a)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveActivityLoad(ctx, a, load); err != nil {
		return nil, fmt.Errorf("save activity: %w", err)
	}
	return moved, nil
}

// Recompute rebuilds and stores the aggregate for userID on date from the
// stored activities and loads.
func (p *Pipeline) Recompute(ctx context.Context, userID string, date models.Day) (models.DailyAggregate, error) {
	athlete, err := p.store.GetAthlete(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.DailyAggregate{}, err
	}

	activities, err := p.store.ListActivities(ctx, userID, date, date)
	if err != nil {
		return models.DailyAggregate{}, err
	}
	loads, err := p.store.ListNormalizedLoads(ctx, userID, date, date)
	if err != nil {
		return models.DailyAggregate{}, err
	}

	byID := make(map[string]*models.Activity, len(activities))
	for _, a := range activities {
		byID[a.ID] = a
	}
	inputs := make([]aggregate.Input, 0, len(loads))
	for _, l := range loads {
		in := aggregate.Input{Load: l}
		if a, ok := byID[l.ActivityID]; ok {
			in.Activity = *a
		}
		inputs = append(inputs, in)
	}

	agg := p.aggregator.Aggregate(userID, date, aggregate.ProfileOf(athlete), inputs)
	if err := p.store.UpsertDailyAggregate(ctx, agg); err != nil {
		return models.DailyAggregate{}, err
	}
	return agg, nil
}

// SetRPE records a manual RPE for an activity and re-normalizes it. An
// out-of-range value is rejected before anything is written, so the prior
// load stays in place.
func (p *Pipeline) SetRPE(ctx context.Context, activityID string, rpe float64) (models.DailyAggregate, error) {
	if err := normalize.ValidateRPE(rpe); err != nil {
		return models.DailyAggregate{}, err
	}

	a, err := p.store.GetActivity(ctx, activityID)
	if err != nil {
		return models.DailyAggregate{}, err
	}
	a.ManualRPE = &rpe

	load, err := p.normalizer.Normalize(*a)
	if err != nil {
		return models.DailyAggregate{}, err
	}
	if err := p.store.SaveActivityLoad(ctx, a, load); err != nil {
		return models.DailyAggregate{}, fmt.Errorf("save activity: %w", err)
	}

	p.log.Info().Str("activity_id", a.ID).Float64("rpe", rpe).Float64("total_load", load.TotalLoad).Msg("rpe updated")
	return p.Recompute(ctx, a.UserID, a.Date)
}

// LogObservation stores a post-workout note and fires the reactive path for
// tomorrow. The observation is kept even when generation fails.
func (p *Pipeline) LogObservation(ctx context.Context, o *models.Observation) (*ledger.Result, error) {
	if strings.TrimSpace(o.UserID) == "" {
		return nil, &models.ValidationError{Field: "user_id", Reason: "required"}
	}
	if strings.TrimSpace(o.Notes) == "" {
		return nil, &models.ValidationError{Field: "notes", Reason: "required"}
	}
	if o.PerceivedEffort != nil {
		if err := normalize.ValidateRPE(*o.PerceivedEffort); err != nil {
			return nil, &models.ValidationError{Field: "perceived_effort", Value: *o.PerceivedEffort, Reason: "must be between 1 and 10"}
		}
	}

	if err := p.store.CreateObservation(ctx, o); err != nil {
		return nil, err
	}
	if p.trigger == nil {
		return nil, nil
	}

	res, err := p.trigger.Autopsy(ctx, o.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotGenerated, err)
	}
	return &res, nil
}

// Backfill re-normalizes every stored activity of userID between from and to
// with the current factors and rebuilds the affected days.
func (p *Pipeline) Backfill(ctx context.Context, userID string, from, to models.Day) (Summary, error) {
	if to.Before(from) {
		return Summary{}, &models.ValidationError{Field: "to", Value: to, Reason: "before from"}
	}
	stored, err := p.store.ListActivities(ctx, userID, from, to)
	if err != nil {
		return Summary{}, err
	}

	activities := make([]models.Activity, 0, len(stored))
	for _, a := range stored {
		activities = append(activities, *a)
	}
	p.log.Info().Str("user_id", userID).Str("from", from.String()).Str("to", to.String()).
		Str("factor_version", p.normalizer.Factors().Version).Int("activities", len(activities)).Msg("backfill")
	return p.Ingest(ctx, activities)
}

func (p *Pipeline) count(outcome string) {
	if p.metrics != nil {
		p.metrics.IngestedActivities.WithLabelValues(outcome).Inc()
	}
}
