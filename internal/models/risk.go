// ABOUTME: RiskProfile, RiskFlag, RollingWindow, and RiskAssessment models.
// ABOUTME: ACWR and divergence are nil when their denominators are zero.
package models

import "strings"

// RiskProfile selects the thresholds applied to an athlete's metrics.
type RiskProfile string

const (
	ProfileConservative RiskProfile = "conservative"
	ProfileModerate     RiskProfile = "moderate"
	ProfileAggressive   RiskProfile = "aggressive"
)

// AllRiskProfiles lists the valid profiles.
var AllRiskProfiles = []RiskProfile{ProfileConservative, ProfileModerate, ProfileAggressive}

// IsValidRiskProfile checks if a string is exactly one of the profile names.
func IsValidRiskProfile(s string) bool {
	for _, p := range AllRiskProfiles {
		if string(p) == s {
			return true
		}
	}
	return false
}

// ParseRiskProfile maps user input to a profile, ignoring case and spacing.
func ParseRiskProfile(s string) (RiskProfile, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for _, p := range AllRiskProfiles {
		if string(p) == want {
			return p, nil
		}
	}
	return "", invalid("risk_profile", s, "must be conservative, moderate, or aggressive")
}

// RiskFlag names a condition raised by an assessment.
type RiskFlag string

const (
	FlagHighACWR       RiskFlag = "high-acwr"
	FlagNoRestDays     RiskFlag = "consecutive-days-without-rest"
	FlagLoadDivergence RiskFlag = "load-divergence"
	FlagDetraining     RiskFlag = "detraining"
)

// ACWR labels.
const (
	ACWROverreaching = "overreaching"
	ACWRBuilding     = "building"
	ACWROptimal      = "optimal"
	ACWRDetraining   = "detraining"
	ACWRNoHistory    = "no-history"
)

// RollingWindow holds the acute (7 day) and chronic (28 day) means ending at End.
type RollingWindow struct {
	End          Day     `json:"end" yaml:"end"`
	AcuteLoad    float64 `json:"acute_load" yaml:"acute_load"`
	ChronicLoad  float64 `json:"chronic_load" yaml:"chronic_load"`
	AcuteTRIMP   float64 `json:"acute_trimp" yaml:"acute_trimp"`
	ChronicTRIMP float64 `json:"chronic_trimp" yaml:"chronic_trimp"`
}

// RiskAssessment is the risk picture for one user on one date.
type RiskAssessment struct {
	UserID                  string        `json:"user_id" yaml:"user_id"`
	Date                    Day           `json:"date" yaml:"date"`
	Profile                 RiskProfile   `json:"profile" yaml:"profile"`
	Window                  RollingWindow `json:"window" yaml:"window"`
	ACWR                    *float64      `json:"acwr" yaml:"acwr"`
	ACWRLabel               string        `json:"acwr_label" yaml:"acwr_label"`
	Divergence              *float64      `json:"divergence" yaml:"divergence"`
	ConsecutiveTrainingDays int           `json:"consecutive_training_days" yaml:"consecutive_training_days"`
	Flags                   []RiskFlag    `json:"risk_flags" yaml:"risk_flags"`
}

// HasFlag reports whether f was raised.
func (r *RiskAssessment) HasFlag(f RiskFlag) bool {
	for _, got := range r.Flags {
		if got == f {
			return true
		}
	}
	return false
}
