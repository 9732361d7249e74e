// ABOUTME: Computes rolling acute/chronic load, ACWR, divergence, and risk flags.
// ABOUTME: Pure over a series of daily aggregates; missing days count as zero load.
package risk

import (
	"math"

	"github.com/harperreed/coach/internal/models"
)

// Window lengths in days.
const (
	AcuteDays   = 7
	ChronicDays = 28
)

// DetrainingACWR is the ratio below which the detraining flag is raised.
const DetrainingACWR = 0.8

// Thresholds are the flag limits of one risk profile.
type Thresholds struct {
	ACWR                float64 `json:"acwr"`
	MaxConsecutiveDays  int     `json:"max_consecutive_days"`
	DivergenceMagnitude float64 `json:"divergence_magnitude"`
}

// Profiles maps each risk profile to its thresholds.
type Profiles map[models.RiskProfile]Thresholds

// DefaultProfiles returns the built-in threshold table.
func DefaultProfiles() Profiles {
	return Profiles{
		models.ProfileConservative: {ACWR: 1.5, MaxConsecutiveDays: 6, DivergenceMagnitude: 0.25},
		models.ProfileModerate:     {ACWR: 1.6, MaxConsecutiveDays: 7, DivergenceMagnitude: 0.30},
		models.ProfileAggressive:   {ACWR: 1.7, MaxConsecutiveDays: 8, DivergenceMagnitude: 0.35},
	}
}

// Engine assesses risk from daily aggregates.
type Engine struct {
	profiles Profiles
}

// New returns an Engine over a copy of p. A nil table uses DefaultProfiles.
func New(p Profiles) *Engine {
	out := DefaultProfiles()
	for k, v := range p {
		out[k] = v
	}
	return &Engine{profiles: out}
}

// Thresholds returns the limits for profile; unknown profiles resolve to moderate.
func (e *Engine) Thresholds(profile models.RiskProfile) (models.RiskProfile, Thresholds) {
	if p, err := models.ParseRiskProfile(string(profile)); err == nil {
		if t, ok := e.profiles[p]; ok {
			return p, t
		}
	}
	return models.ProfileModerate, e.profiles[models.ProfileModerate]
}

// WindowStart returns the first day of the chronic window ending at end.
func WindowStart(end models.Day) models.Day {
	return end.AddDays(-(ChronicDays - 1))
}

// Assess computes the assessment for userID at date from series. Entries
// outside the chronic window or for another user are ignored.
func (e *Engine) Assess(userID string, series []models.DailyAggregate, date models.Day, profile models.RiskProfile) models.RiskAssessment {
	profile, th := e.Thresholds(profile)
	days := index(userID, series, date)

	w := window(days, date)
	out := models.RiskAssessment{
		UserID:  userID,
		Date:    date,
		Profile: profile,
		Window:  w,
		Flags:   []models.RiskFlag{},
	}

	if w.ChronicLoad > 0 {
		acwr := w.AcuteLoad / w.ChronicLoad
		out.ACWR = &acwr
		if w.ChronicTRIMP > 0 {
			div := (w.AcuteTRIMP / w.ChronicTRIMP) - acwr
			out.Divergence = &div
		}
	}
	out.ACWRLabel = Label(out.ACWR)
	out.ConsecutiveTrainingDays = streak(days, date)

	if out.ACWR != nil && *out.ACWR >= th.ACWR {
		out.Flags = append(out.Flags, models.FlagHighACWR)
	}
	if out.ConsecutiveTrainingDays >= th.MaxConsecutiveDays {
		out.Flags = append(out.Flags, models.FlagNoRestDays)
	}
	if out.Divergence != nil && math.Abs(*out.Divergence) >= th.DivergenceMagnitude {
		out.Flags = append(out.Flags, models.FlagLoadDivergence)
	}
	if out.ACWR != nil && *out.ACWR < DetrainingACWR {
		out.Flags = append(out.Flags, models.FlagDetraining)
	}

	return out
}

// window computes acute and chronic means ending at end. Divisors are always
// the full window length.
func window(days map[string]models.DailyAggregate, end models.Day) models.RollingWindow {
	w := models.RollingWindow{End: end}
	for i := 0; i < ChronicDays; i++ {
		d, ok := days[end.AddDays(-i).String()]
		if !ok {
			continue
		}
		w.ChronicLoad += d.TotalLoad
		w.ChronicTRIMP += d.TRIMP
		if i < AcuteDays {
			w.AcuteLoad += d.TotalLoad
			w.AcuteTRIMP += d.TRIMP
		}
	}
	w.AcuteLoad /= AcuteDays
	w.AcuteTRIMP /= AcuteDays
	w.ChronicLoad /= ChronicDays
	w.ChronicTRIMP /= ChronicDays
	return w
}

// Label buckets an ACWR value for display.
func Label(acwr *float64) string {
	switch {
	case acwr == nil || *acwr <= 0:
		return models.ACWRNoHistory
	case *acwr > 1.5:
		return models.ACWROverreaching
	case *acwr > 1.2:
		return models.ACWRBuilding
	case *acwr >= DetrainingACWR:
		return models.ACWROptimal
	default:
		return models.ACWRDetraining
	}
}

func index(userID string, series []models.DailyAggregate, end models.Day) map[string]models.DailyAggregate {
	start := WindowStart(end)
	days := make(map[string]models.DailyAggregate, ChronicDays)
	for _, d := range series {
		if d.UserID != userID || d.Date.Before(start) || d.Date.After(end) {
			continue
		}
		days[d.Date.String()] = d
	}
	return days
}

func streak(days map[string]models.DailyAggregate, end models.Day) int {
	n := 0
	for i := 0; i < ChronicDays; i++ {
		d, ok := days[end.AddDays(-i).String()]
		if !ok || d.TotalLoad <= 0 {
			break
		}
		n++
	}
	return n
}
