// ABOUTME: Athlete profile and Observation models.
// ABOUTME: Profiles carry risk thresholds selection, heart-rate zones, and coaching style.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default heart-rate profile used for TRIMP when an athlete has none.
const (
	DefaultRestingHR        = 60.0
	DefaultMaxHR            = 190.0
	DefaultTRIMPCoefficient = 1.92
	DefaultStyle            = "balanced"
)

// Athlete is the per-user configuration the engine reads.
type Athlete struct {
	UserID           string      `json:"user_id"`
	RiskProfile      RiskProfile `json:"risk_profile"`
	RestingHR        float64     `json:"resting_hr"`
	MaxHR            float64     `json:"max_hr"`
	TRIMPCoefficient float64     `json:"trimp_coefficient"`
	Style            string      `json:"style"`
	CreatedAt        time.Time   `json:"created_at"`
}

// NewAthlete creates an Athlete with the moderate profile and default HR zones.
func NewAthlete(userID string) *Athlete {
	return &Athlete{
		UserID:           userID,
		RiskProfile:      ProfileModerate,
		RestingHR:        DefaultRestingHR,
		MaxHR:            DefaultMaxHR,
		TRIMPCoefficient: DefaultTRIMPCoefficient,
		Style:            DefaultStyle,
		CreatedAt:        time.Now(),
	}
}

// WithProfile sets the risk profile.
func (a *Athlete) WithProfile(p RiskProfile) *Athlete {
	a.RiskProfile = p
	return a
}

// WithHeartRate sets resting and max heart rate.
func (a *Athlete) WithHeartRate(resting, max float64) *Athlete {
	a.RestingHR = resting
	a.MaxHR = max
	return a
}

// Validate checks the profile before it is stored.
func (a *Athlete) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return invalid("user_id", nil, "required")
	}
	if !IsValidRiskProfile(string(a.RiskProfile)) {
		return invalid("risk_profile", a.RiskProfile, "must be conservative, moderate, or aggressive")
	}
	if a.RestingHR <= 0 || a.MaxHR <= a.RestingHR {
		return invalid("heart_rate", a.MaxHR, "max_hr must exceed resting_hr > 0")
	}
	if a.TRIMPCoefficient <= 0 {
		return invalid("trimp_coefficient", a.TRIMPCoefficient, "must be positive")
	}
	return nil
}

// Observation is a user's post-workout note. Logging one fires the autopsy path.
type Observation struct {
	ID              uuid.UUID `json:"id"`
	UserID          string    `json:"user_id"`
	ActivityID      *string   `json:"activity_id,omitempty"`
	Date            Day       `json:"date"`
	Notes           string    `json:"notes"`
	PerceivedEffort *float64  `json:"perceived_effort,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewObservation creates an Observation for userID on date.
func NewObservation(userID string, date Day, notes string) *Observation {
	return &Observation{
		ID:        uuid.New(),
		UserID:    userID,
		Date:      date,
		Notes:     notes,
		CreatedAt: time.Now(),
	}
}

// WithActivity links the observation to an activity.
func (o *Observation) WithActivity(activityID string) *Observation {
	o.ActivityID = &activityID
	return o
}

// WithEffort records how hard the session felt (1-10).
func (o *Observation) WithEffort(effort float64) *Observation {
	o.PerceivedEffort = &effort
	return o
}
