// ABOUTME: Rolls one user's normalized loads for a calendar day into a DailyAggregate.
// ABOUTME: Also derives the day kind and the heart-rate TRIMP used for divergence.
package aggregate

import (
	"math"
	"time"

	"github.com/harperreed/coach/internal/models"
)

// HRProfile holds the heart-rate zones used for TRIMP.
type HRProfile struct {
	RestingHR   float64
	MaxHR       float64
	Coefficient float64
}

// DefaultHRProfile is used when an athlete has no profile on record.
func DefaultHRProfile() HRProfile {
	return HRProfile{
		RestingHR:   models.DefaultRestingHR,
		MaxHR:       models.DefaultMaxHR,
		Coefficient: models.DefaultTRIMPCoefficient,
	}
}

// ProfileOf reads the HR profile of a stored athlete, falling back to defaults
// for any unset field.
func ProfileOf(a *models.Athlete) HRProfile {
	p := DefaultHRProfile()
	if a == nil {
		return p
	}
	if a.RestingHR > 0 {
		p.RestingHR = a.RestingHR
	}
	if a.MaxHR > p.RestingHR {
		p.MaxHR = a.MaxHR
	}
	if a.TRIMPCoefficient > 0 {
		p.Coefficient = a.TRIMPCoefficient
	}
	return p
}

// Input pairs an activity with the load normalized from it.
type Input struct {
	Activity models.Activity
	Load     models.NormalizedLoad
}

// Aggregator builds DailyAggregates.
type Aggregator struct {
	now func() time.Time
}

// New returns an Aggregator.
func New() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Aggregate sums the loads of userID on date. Inputs for any other user or
// date are ignored, so callers may pass a wider batch.
func (g *Aggregator) Aggregate(userID string, date models.Day, hr HRProfile, inputs []Input) models.DailyAggregate {
	agg := models.NewDailyAggregate(userID, date)

	for _, in := range inputs {
		if in.Load.UserID != userID || !in.Load.Date.Equal(date) {
			continue
		}
		agg.AddLoad(in.Load.Sport, in.Load.TotalLoad)
		agg.TRIMP += TRIMP(in.Activity, hr)
		agg.ActivityCount++
	}

	agg.DayKind = Kind(agg)
	agg.UpdatedAt = g.now().UTC()
	return agg
}

// Kind classifies a day by how many sports contributed non-zero load.
func Kind(agg models.DailyAggregate) models.DayKind {
	var active []models.SportKind
	for _, s := range models.LoadSports {
		if agg.Subtotal(s) > 0 {
			active = append(active, s)
		}
	}

	switch len(active) {
	case 0:
		return models.DayKindRest
	case 1:
		return models.DayKind(active[0])
	case 2:
		return models.DayKindMixed
	default:
		return models.DayKindMultiSport
	}
}

// TRIMP computes Banister's training impulse for one activity from the mean
// of its heart-rate samples. Activities without usable samples score zero.
func TRIMP(a models.Activity, hr HRProfile) float64 {
	avg, ok := meanHR(a.HeartRateSeries)
	hrRange := hr.MaxHR - hr.RestingHR
	if !ok || hrRange <= 0 {
		return 0
	}

	reserve := (avg - hr.RestingHR) / hrRange
	reserve = math.Max(0, math.Min(1, reserve))

	return a.DurationMinutes() * reserve * 0.64 * math.Exp(hr.Coefficient*reserve)
}

func meanHR(series []float64) (float64, bool) {
	var sum float64
	var n int
	for _, v := range series {
		if v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
