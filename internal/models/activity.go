// ABOUTME: Activity model and SportKind enum for synced training sessions.
// ABOUTME: Activities are read-only inputs except ManualRPE, which users may edit.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SportKind identifies which conversion rules apply to an activity.
type SportKind string

const (
	SportRunning  SportKind = "running"
	SportCycling  SportKind = "cycling"
	SportSwimming SportKind = "swimming"
	SportStrength SportKind = "strength"
	SportOther    SportKind = "other"
)

// LoadSports are the sports that contribute load, in display order.
var LoadSports = []SportKind{SportRunning, SportCycling, SportSwimming, SportStrength}

var sportAliases = map[string]SportKind{
	"running":   SportRunning,
	"run":       SportRunning,
	"trail_run": SportRunning,
	"cycling":   SportCycling,
	"cycle":     SportCycling,
	"ride":      SportCycling,
	"bike":      SportCycling,
	"swimming":  SportSwimming,
	"swim":      SportSwimming,
	"strength":  SportStrength,
	"lift":      SportStrength,
	"weights":   SportStrength,
	"training":  SportStrength,
}

// ParseSportKind maps a provider sport label to a SportKind.
// Unrecognized labels map to SportOther.
func ParseSportKind(s string) SportKind {
	if k, ok := sportAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k
	}
	return SportOther
}

// Activity is one training session as delivered by the sync provider.
type Activity struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	Sport           SportKind     `json:"sport"`
	Date            Day           `json:"date"`
	Distance        float64       `json:"distance"`
	Duration        time.Duration `json:"duration"`
	ElevationGain   float64       `json:"elevation_gain"`
	AverageSpeed    *float64      `json:"average_speed,omitempty"`
	HeartRateSeries []float64     `json:"heart_rate_series,omitempty"`
	ManualRPE       *float64      `json:"manual_rpe,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CreatedAt       time.Time     `json:"created_at"`
}

// NewActivity creates an Activity with a generated ID dated by startedAt.
func NewActivity(userID string, sport SportKind, startedAt time.Time) *Activity {
	return &Activity{
		ID:        uuid.New().String(),
		UserID:    userID,
		Sport:     sport,
		Date:      DayOf(startedAt),
		StartedAt: startedAt,
		CreatedAt: time.Now(),
	}
}

// WithID replaces the generated ID with the provider's ID.
func (a *Activity) WithID(id string) *Activity {
	a.ID = id
	return a
}

// WithDistance sets the distance in provider units.
func (a *Activity) WithDistance(distance float64) *Activity {
	a.Distance = distance
	return a
}

// WithDuration sets the elapsed duration.
func (a *Activity) WithDuration(d time.Duration) *Activity {
	a.Duration = d
	return a
}

// WithElevation sets the elevation gain.
func (a *Activity) WithElevation(gain float64) *Activity {
	a.ElevationGain = gain
	return a
}

// WithAverageSpeed sets the average speed in distance units per hour.
func (a *Activity) WithAverageSpeed(speed float64) *Activity {
	a.AverageSpeed = &speed
	return a
}

// WithHeartRate attaches a heart-rate sample series in bpm.
func (a *Activity) WithHeartRate(series []float64) *Activity {
	a.HeartRateSeries = series
	return a
}

// WithRPE sets the user-reported rate of perceived exertion.
func (a *Activity) WithRPE(rpe float64) *Activity {
	a.ManualRPE = &rpe
	return a
}

// DurationMinutes returns the duration as fractional minutes.
func (a *Activity) DurationMinutes() float64 {
	return a.Duration.Minutes()
}
