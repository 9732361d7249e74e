// ABOUTME: Converts one Activity into a running-equivalent NormalizedLoad.
// ABOUTME: Pure and deterministic given the versioned Factors table.
package normalize

import (
	"math"

	"github.com/harperreed/coach/internal/models"
)

// Normalizer applies a fixed Factors table.
type Normalizer struct {
	factors Factors
}

// New returns a Normalizer bound to a private copy of f.
func New(f Factors) *Normalizer {
	return &Normalizer{factors: f.clone()}
}

// Factors returns a copy of the table this Normalizer applies.
func (n *Normalizer) Factors() Factors {
	return n.factors.clone()
}

// ValidateRPE rejects values outside the inclusive range [1,10].
func ValidateRPE(rpe float64) error {
	if math.IsNaN(rpe) || rpe < MinRPE || rpe > MaxRPE {
		return &models.ValidationError{Field: "manual_rpe", Value: rpe, Reason: "must be between 1 and 10"}
	}
	return nil
}

// Normalize converts a into a NormalizedLoad.
// Unrecognized sports produce a zero load rather than an error.
func (n *Normalizer) Normalize(a models.Activity) (models.NormalizedLoad, error) {
	if err := validateMeasures(a); err != nil {
		return models.NormalizedLoad{}, err
	}

	load := models.NormalizedLoad{
		ActivityID:    a.ID,
		UserID:        a.UserID,
		Date:          a.Date,
		Sport:         a.Sport,
		FactorVersion: n.factors.Version,
	}

	switch a.Sport {
	case models.SportRunning:
		load.ConversionFactorUsed = 1
		load.EquivalentDistance = a.Distance
	case models.SportCycling:
		factor := n.factors.cyclingFactor(a.AverageSpeed)
		load.ConversionFactorUsed = factor
		load.EquivalentDistance = a.Distance / factor
	case models.SportSwimming:
		load.ConversionFactorUsed = n.factors.Swimming
		load.EquivalentDistance = a.Distance / n.factors.Swimming
	case models.SportStrength:
		rpe := n.factors.DefaultRPE
		if a.ManualRPE != nil {
			rpe = *a.ManualRPE
		}
		if err := ValidateRPE(rpe); err != nil {
			return models.NormalizedLoad{}, err
		}
		load.RPEUsed = &rpe
		load.ConversionFactorUsed = n.factors.StrengthCoefficient
		load.EquivalentDistance = (a.DurationMinutes() / 60) * rpe * n.factors.StrengthCoefficient
	default:
		return load, nil
	}

	if ef := n.factors.Elevation[a.Sport]; ef > 0 {
		load.ElevationLoad = a.ElevationGain / ef
	}
	load.TotalLoad = load.EquivalentDistance + load.ElevationLoad

	return load, nil
}

func validateMeasures(a models.Activity) error {
	checks := []struct {
		field string
		value float64
	}{
		{"distance", a.Distance},
		{"elevation_gain", a.ElevationGain},
		{"duration", a.Duration.Minutes()},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) || c.value < 0 {
			return &models.ValidationError{Field: c.field, Value: c.value, Reason: "must be a non-negative number"}
		}
	}
	if a.AverageSpeed != nil && (math.IsNaN(*a.AverageSpeed) || *a.AverageSpeed < 0) {
		return &models.ValidationError{Field: "average_speed", Value: *a.AverageSpeed, Reason: "must be a non-negative number"}
	}
	return nil
}
