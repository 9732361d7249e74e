// ABOUTME: Versioned conversion factor table for activity normalization.
// ABOUTME: Tables are values; changing one means shipping a new Version.
package normalize

import (
	"fmt"

	"github.com/harperreed/coach/internal/models"
)

// RPE bounds and default.
const (
	MinRPE     = 1.0
	MaxRPE     = 10.0
	DefaultRPE = 6.0
)

// SpeedBucket maps average speeds up to MaxSpeed (inclusive) to a cycling factor.
type SpeedBucket struct {
	MaxSpeed float64 `json:"max_speed"`
	Factor   float64 `json:"factor"`
}

// Factors is one version of the conversion table.
type Factors struct {
	Version string `json:"version"`

	// CyclingBuckets must be sorted by MaxSpeed. Speeds above the last
	// bucket use CyclingTopFactor. Missing speed uses the first bucket.
	CyclingBuckets      []SpeedBucket `json:"cycling_buckets"`
	CyclingTopFactor    float64       `json:"cycling_top_factor"`
	Swimming            float64       `json:"swimming"`
	StrengthCoefficient float64       `json:"strength_coefficient"`
	DefaultRPE          float64       `json:"default_rpe"`

	// Elevation divides elevation gain per sport. Zero or absent ignores elevation.
	Elevation map[models.SportKind]float64 `json:"elevation"`
}

// DefaultFactors returns the current production table.
func DefaultFactors() Factors {
	return Factors{
		Version: "2024-1",
		CyclingBuckets: []SpeedBucket{
			{MaxSpeed: 12, Factor: 4.0},
			{MaxSpeed: 16, Factor: 3.5},
			{MaxSpeed: 20, Factor: 2.9},
		},
		CyclingTopFactor:    2.4,
		Swimming:            4.0,
		StrengthCoefficient: 0.30,
		DefaultRPE:          DefaultRPE,
		Elevation: map[models.SportKind]float64{
			models.SportRunning: 750,
			models.SportCycling: 1100,
		},
	}
}

// Validate checks the table before a Normalizer is built from it.
func (f Factors) Validate() error {
	if f.Version == "" {
		return fmt.Errorf("factor table has no version")
	}
	if len(f.CyclingBuckets) == 0 {
		return fmt.Errorf("factor table %s: no cycling buckets", f.Version)
	}
	prev := -1.0
	for _, b := range f.CyclingBuckets {
		if b.Factor <= 0 {
			return fmt.Errorf("factor table %s: cycling factor must be positive", f.Version)
		}
		if b.MaxSpeed <= prev {
			return fmt.Errorf("factor table %s: cycling buckets must be sorted by max_speed", f.Version)
		}
		prev = b.MaxSpeed
	}
	if f.CyclingTopFactor <= 0 || f.Swimming <= 0 || f.StrengthCoefficient <= 0 {
		return fmt.Errorf("factor table %s: factors must be positive", f.Version)
	}
	if err := ValidateRPE(f.DefaultRPE); err != nil {
		return fmt.Errorf("factor table %s: default rpe: %w", f.Version, err)
	}
	return nil
}

func (f Factors) cyclingFactor(speed *float64) float64 {
	if speed == nil || *speed <= 0 {
		return f.CyclingBuckets[0].Factor
	}
	for _, b := range f.CyclingBuckets {
		if *speed <= b.MaxSpeed {
			return b.Factor
		}
	}
	return f.CyclingTopFactor
}

func (f Factors) clone() Factors {
	out := f
	out.CyclingBuckets = append([]SpeedBucket(nil), f.CyclingBuckets...)
	out.Elevation = make(map[models.SportKind]float64, len(f.Elevation))
	for k, v := range f.Elevation {
		out.Elevation[k] = v
	}
	return out
}
