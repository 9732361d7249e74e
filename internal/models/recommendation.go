// ABOUTME: Recommendation model, SourcePath enum, and the typed metrics snapshot.
// ABOUTME: Recommendations are unique per (user, target date) and never mutated.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourcePath names the trigger that produced a recommendation.
type SourcePath string

const (
	SourceScheduled SourcePath = "scheduled"
	SourceAutopsy   SourcePath = "reactive-autopsy"
	SourceManual    SourcePath = "manual"
)

// AllSourcePaths lists the valid trigger paths.
var AllSourcePaths = []SourcePath{SourceScheduled, SourceAutopsy, SourceManual}

// ParseSourcePath validates a trigger path name.
func ParseSourcePath(s string) (SourcePath, error) {
	for _, p := range AllSourcePaths {
		if string(p) == strings.ToLower(strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return "", invalid("source_path", s, "must be scheduled, reactive-autopsy, or manual")
}

// MetricsSnapshot is the exact input a recommendation was generated from.
type MetricsSnapshot struct {
	Assessment  RiskAssessment   `json:"assessment" yaml:"assessment"`
	Days        []DailyAggregate `json:"days" yaml:"days"`
	RiskProfile RiskProfile      `json:"risk_profile" yaml:"risk_profile"`
	Style       string           `json:"style" yaml:"style"`
}

// Recommendation is one coaching decision for a user's target date.
type Recommendation struct {
	ID              uuid.UUID       `json:"id" yaml:"id"`
	UserID          string          `json:"user_id" yaml:"user_id"`
	GenerationDate  Day             `json:"generation_date" yaml:"generation_date"`
	TargetDate      Day             `json:"target_date" yaml:"target_date"`
	DataWindowStart Day             `json:"data_window_start" yaml:"data_window_start"`
	DataWindowEnd   Day             `json:"data_window_end" yaml:"data_window_end"`
	MetricsSnapshot MetricsSnapshot `json:"metrics_snapshot" yaml:"metrics_snapshot"`
	Content         string          `json:"content" yaml:"content"`
	SourcePath      SourcePath      `json:"source_path" yaml:"source_path"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created_at"`
}

// RecommendationParams are the required inputs of NewRecommendation.
type RecommendationParams struct {
	UserID          string
	GenerationDate  Day
	TargetDate      Day
	DataWindowStart Day
	DataWindowEnd   Day
	Snapshot        MetricsSnapshot
	Content         string
	SourcePath      SourcePath
}

// NewRecommendation validates p and returns a Recommendation with a fresh ID.
func NewRecommendation(p RecommendationParams) (*Recommendation, error) {
	switch {
	case strings.TrimSpace(p.UserID) == "":
		return nil, invalid("user_id", nil, "required")
	case p.TargetDate.IsZero():
		return nil, invalid("target_date", nil, "required")
	case p.GenerationDate.IsZero():
		return nil, invalid("generation_date", nil, "required")
	case p.DataWindowStart.IsZero() || p.DataWindowEnd.IsZero():
		return nil, invalid("data_window", nil, "start and end are required")
	case p.DataWindowEnd.Before(p.DataWindowStart):
		return nil, invalid("data_window", p.DataWindowEnd, "ends before it starts")
	case !p.DataWindowEnd.Before(p.TargetDate):
		return nil, invalid("data_window", p.DataWindowEnd, "must end before the target date")
	case strings.TrimSpace(p.Content) == "":
		return nil, invalid("content", nil, "required")
	}
	if _, err := ParseSourcePath(string(p.SourcePath)); err != nil {
		return nil, err
	}

	return &Recommendation{
		ID:              uuid.New(),
		UserID:          p.UserID,
		GenerationDate:  p.GenerationDate,
		TargetDate:      p.TargetDate,
		DataWindowStart: p.DataWindowStart,
		DataWindowEnd:   p.DataWindowEnd,
		MetricsSnapshot: p.Snapshot,
		Content:         p.Content,
		SourcePath:      p.SourcePath,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// GenerationOutcome is the result class recorded in the generation log.
type GenerationOutcome string

const (
	OutcomeCreated  GenerationOutcome = "created"
	OutcomeSkipped  GenerationOutcome = "skipped"
	OutcomeFailed   GenerationOutcome = "failed"
	OutcomeTimeout  GenerationOutcome = "timeout"
	OutcomeInFlight GenerationOutcome = "in-flight"
)

// GenerationLogEntry is one request_generation attempt, kept for audit.
type GenerationLogEntry struct {
	ID         uuid.UUID         `json:"id"`
	UserID     string            `json:"user_id"`
	TargetDate Day               `json:"target_date"`
	SourcePath SourcePath        `json:"source_path"`
	Outcome    GenerationOutcome `json:"outcome"`
	Error      *string           `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewGenerationLogEntry records an attempt's outcome; err may be nil.
func NewGenerationLogEntry(userID string, target Day, source SourcePath, outcome GenerationOutcome, err error) *GenerationLogEntry {
	e := &GenerationLogEntry{
		ID:         uuid.New(),
		UserID:     userID,
		TargetDate: target,
		SourcePath: source,
		Outcome:    outcome,
		CreatedAt:  time.Now().UTC(),
	}
	if err != nil {
		msg := err.Error()
		e.Error = &msg
	}
	return e
}
