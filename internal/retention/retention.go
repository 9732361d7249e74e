// ABOUTME: Retention sweeps that delete rows past their horizon.
// ABOUTME: Each policy runs independently; one failing policy does not stop the others.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/coach/internal/metrics"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/storage"
	"github.com/rs/zerolog"
)

// Policy names a table and how many days of it to keep.
type Policy struct {
	Name   string
	Target storage.PruneTarget
	Days   int
}

// DefaultPolicies keeps 14 days of recommendations and 90 days of the generation log.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: "recommendations", Target: storage.PruneRecommendations, Days: 14},
		{Name: "generation_log", Target: storage.PruneGenerationLog, Days: 90},
	}
}

// Result is the outcome of one policy in a sweep.
type Result struct {
	Policy  string     `json:"policy"`
	Cutoff  models.Day `json:"cutoff"`
	Deleted int64      `json:"deleted"`
	Err     error      `json:"-"`
	Error   string     `json:"error,omitempty"`
}

// Sweeper applies retention policies.
type Sweeper struct {
	store    storage.Pruner
	policies []Policy
	clock    func() time.Time
	log      zerolog.Logger
	metrics  *metrics.Registry
}

// New returns a Sweeper. Nil policies use DefaultPolicies.
func New(store storage.Pruner, policies []Policy, log zerolog.Logger, m *metrics.Registry) *Sweeper {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Sweeper{
		store:    store,
		policies: policies,
		clock:    time.Now,
		log:      log.With().Str("component", "retention").Logger(),
		metrics:  m,
	}
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Sweep runs every policy. Rows dated before today minus the policy's days
// are deleted. Failures are logged, counted, and reported in the results.
func (s *Sweeper) Sweep(ctx context.Context) []Result {
	today := models.DayOf(s.clock())
	results := make([]Result, 0, len(s.policies))

	for _, p := range s.policies {
		r := Result{Policy: p.Name, Cutoff: today.AddDays(-p.Days)}
		if p.Days <= 0 {
			r.Err = fmt.Errorf("policy %s: retention days must be positive", p.Name)
		} else {
			r.Deleted, r.Err = s.store.PruneBefore(ctx, p.Target, r.Cutoff)
		}

		if r.Err != nil {
			r.Error = r.Err.Error()
			s.log.Error().Err(r.Err).Str("policy", p.Name).Msg("retention sweep failed")
			if s.metrics != nil {
				s.metrics.RetentionErrors.WithLabelValues(p.Name).Inc()
			}
		} else {
			s.log.Info().Str("policy", p.Name).Str("cutoff", r.Cutoff.String()).Int64("deleted", r.Deleted).Msg("retention sweep")
			if s.metrics != nil {
				s.metrics.RetentionDeleted.WithLabelValues(p.Name).Add(float64(r.Deleted))
			}
		}
		results = append(results, r)
	}
	return results
}
