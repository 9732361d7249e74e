// ABOUTME: NormalizedLoad and DailyAggregate models for running-equivalent load.
// ABOUTME: Aggregates always carry every per-sport subtotal, zero when absent.
package models

import "time"

// NormalizedLoad is the running-equivalent load derived from one Activity.
type NormalizedLoad struct {
	ActivityID           string    `json:"activity_id"`
	UserID               string    `json:"user_id"`
	Date                 Day       `json:"date"`
	Sport                SportKind `json:"sport"`
	EquivalentDistance   float64   `json:"equivalent_distance"`
	ElevationLoad        float64   `json:"elevation_load"`
	TotalLoad            float64   `json:"total_load"`
	ConversionFactorUsed float64   `json:"conversion_factor_used"`
	RPEUsed              *float64  `json:"rpe_used,omitempty"`
	FactorVersion        string    `json:"factor_version"`
}

// DayKind classifies a day by the sports that contributed load.
type DayKind string

const (
	DayKindRest       DayKind = "rest"
	DayKindMixed      DayKind = "mixed"
	DayKindMultiSport DayKind = "multi-sport"
)

// DailyAggregate is the per (user, date) load summary.
type DailyAggregate struct {
	UserID        string    `json:"user_id" yaml:"user_id"`
	Date          Day       `json:"date" yaml:"date"`
	Running       float64   `json:"running" yaml:"running"`
	Cycling       float64   `json:"cycling" yaml:"cycling"`
	Swimming      float64   `json:"swimming" yaml:"swimming"`
	Strength      float64   `json:"strength" yaml:"strength"`
	TotalLoad     float64   `json:"total_load" yaml:"total_load"`
	DayKind       DayKind   `json:"day_kind" yaml:"day_kind"`
	TRIMP         float64   `json:"trimp" yaml:"trimp"`
	ActivityCount int       `json:"activity_count" yaml:"activity_count"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// NewDailyAggregate returns an empty rest day for userID on date.
func NewDailyAggregate(userID string, date Day) DailyAggregate {
	return DailyAggregate{
		UserID:  userID,
		Date:    date,
		DayKind: DayKindRest,
	}
}

// Subtotal returns the load recorded for sport. Non-load sports return 0.
func (d *DailyAggregate) Subtotal(sport SportKind) float64 {
	switch sport {
	case SportRunning:
		return d.Running
	case SportCycling:
		return d.Cycling
	case SportSwimming:
		return d.Swimming
	case SportStrength:
		return d.Strength
	default:
		return 0
	}
}

// AddLoad adds load to the sport's subtotal and the day total.
func (d *DailyAggregate) AddLoad(sport SportKind, load float64) {
	switch sport {
	case SportRunning:
		d.Running += load
	case SportCycling:
		d.Cycling += load
	case SportSwimming:
		d.Swimming += load
	case SportStrength:
		d.Strength += load
	default:
		return
	}
	d.TotalLoad += load
}
