// ABOUTME: MCP tool implementations for the coach engine.
// ABOUTME: Provides activity logging, RPE edits, observations, recommendations, risk, and pruning.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/harperreed/coach/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerTools() {
	// log_activity
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "log_activity",
		Description: "Record a training session (running, cycling, swimming, strength) and update the day's load",
	}, s.handleLogActivity)

	// set_rpe
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_rpe",
		Description: "Set the perceived exertion (1-10) of an activity and recompute its load",
	}, s.handleSetRPE)

	// log_observation
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "log_observation",
		Description: "Record how a workout felt; triggers tomorrow's recommendation",
	}, s.handleLogObservation)

	// set_athlete
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_athlete",
		Description: "Create or update an athlete's risk profile, heart-rate zones, and coaching style",
	}, s.handleSetAthlete)

	// request_recommendation
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "request_recommendation",
		Description: "Get or create the recommendation for a target date (defaults to tomorrow)",
	}, s.handleRequestRecommendation)

	// get_latest
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_latest",
		Description: "Get the most recent recommendation for a user",
	}, s.handleGetLatest)

	// get_risk_assessment
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_risk_assessment",
		Description: "Get ACWR, divergence, and risk flags for a user on a date",
	}, s.handleGetRiskAssessment)

	// prune
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "prune",
		Description: "Delete recommendations older than the retention window",
	}, s.handlePrune)
}

// Tool input/output types

type logActivityInput struct {
	UserID          string    `json:"user_id" jsonschema:"description=Athlete user ID,required"`
	ID              string    `json:"id,omitempty" jsonschema:"description=Provider activity ID, generated when empty"`
	Sport           string    `json:"sport" jsonschema:"description=running, cycling, swimming, or strength,required"`
	Date            string    `json:"date,omitempty" jsonschema:"description=Date (YYYY-MM-DD), defaults to today"`
	Distance        float64   `json:"distance,omitempty" jsonschema:"description=Distance in km"`
	DurationMinutes float64   `json:"duration_minutes,omitempty" jsonschema:"description=Duration in minutes"`
	ElevationGain   float64   `json:"elevation_gain,omitempty" jsonschema:"description=Elevation gain in metres"`
	AverageSpeed    float64   `json:"average_speed,omitempty" jsonschema:"description=Average speed in km/h"`
	HeartRate       []float64 `json:"heart_rate,omitempty" jsonschema:"description=Heart-rate samples in bpm"`
	RPE             float64   `json:"rpe,omitempty" jsonschema:"description=Perceived exertion 1-10"`
}

type activityOutput struct {
	ID      string                `json:"id"`
	Day     models.DailyAggregate `json:"day"`
	Message string                `json:"message"`
}

type setRPEInput struct {
	ActivityID string  `json:"activity_id" jsonschema:"description=Activity ID,required"`
	RPE        float64 `json:"rpe" jsonschema:"description=Perceived exertion 1-10,required"`
}

type logObservationInput struct {
	UserID          string  `json:"user_id" jsonschema:"description=Athlete user ID,required"`
	Notes           string  `json:"notes" jsonschema:"description=How the session felt,required"`
	Date            string  `json:"date,omitempty" jsonschema:"description=Date (YYYY-MM-DD), defaults to today"`
	ActivityID      string  `json:"activity_id,omitempty" jsonschema:"description=Related activity ID"`
	PerceivedEffort float64 `json:"perceived_effort,omitempty" jsonschema:"description=Effort 1-10"`
}

type setAthleteInput struct {
	UserID      string  `json:"user_id" jsonschema:"description=Athlete user ID,required"`
	RiskProfile string  `json:"risk_profile,omitempty" jsonschema:"description=conservative, moderate, or aggressive"`
	RestingHR   float64 `json:"resting_hr,omitempty" jsonschema:"description=Resting heart rate"`
	MaxHR       float64 `json:"max_hr,omitempty" jsonschema:"description=Maximum heart rate"`
	Style       string  `json:"style,omitempty" jsonschema:"description=Coaching style"`
}

type recommendationInput struct {
	UserID     string `json:"user_id" jsonschema:"description=Athlete user ID,required"`
	TargetDate string `json:"target_date,omitempty" jsonschema:"description=Target date (YYYY-MM-DD), defaults to tomorrow"`
}

type userInput struct {
	UserID string `json:"user_id" jsonschema:"description=Athlete user ID,required"`
}

type riskInput struct {
	UserID string `json:"user_id" jsonschema:"description=Athlete user ID,required"`
	Date   string `json:"date,omitempty" jsonschema:"description=Date (YYYY-MM-DD), defaults to today"`
}

type pruneInput struct {
	RetentionDays int `json:"retention_days,omitempty" jsonschema:"description=Days to keep (default 14)"`
}

type simpleOutput struct {
	Message string `json:"message"`
}

// parseDay parses an optional YYYY-MM-DD value; empty yields the zero Day.
func parseDay(field, s string) (models.Day, error) {
	if s == "" {
		return models.Day{}, nil
	}
	d, err := models.ParseDay(s)
	if err != nil {
		return models.Day{}, &models.ValidationError{Field: field, Value: s, Reason: "use YYYY-MM-DD"}
	}
	return d, nil
}

// Tool handlers

func (s *Server) handleLogActivity(ctx context.Context, req *mcp.CallToolRequest, input logActivityInput) (*mcp.CallToolResult, activityOutput, error) {
	date, err := parseDay("date", input.Date)
	if err != nil {
		return nil, activityOutput{}, err
	}

	a := models.NewActivity(input.UserID, models.ParseSportKind(input.Sport), time.Now()).
		WithDistance(input.Distance).
		WithDuration(time.Duration(input.DurationMinutes * float64(time.Minute))).
		WithElevation(input.ElevationGain).
		WithHeartRate(input.HeartRate)
	if input.ID != "" {
		a.WithID(input.ID)
	}
	if !date.IsZero() {
		a.Date = date
	}
	if input.AverageSpeed > 0 {
		a.WithAverageSpeed(input.AverageSpeed)
	}
	if input.RPE > 0 {
		a.WithRPE(input.RPE)
	}

	sum, err := s.pipeline.Ingest(ctx, []models.Activity{*a})
	if err != nil {
		return nil, activityOutput{}, fmt.Errorf("failed to log activity: %w", err)
	}
	if len(sum.Failed) > 0 {
		return nil, activityOutput{}, sum.Failed[0].Err
	}

	day := sum.Days[0]
	return nil, activityOutput{
		ID:      a.ID,
		Day:     day,
		Message: fmt.Sprintf("Logged %s on %s; day load %.2f (%s)", a.Sport, a.Date, day.TotalLoad, day.DayKind),
	}, nil
}

func (s *Server) handleSetRPE(ctx context.Context, req *mcp.CallToolRequest, input setRPEInput) (*mcp.CallToolResult, activityOutput, error) {
	day, err := s.pipeline.SetRPE(ctx, input.ActivityID, input.RPE)
	if err != nil {
		return nil, activityOutput{}, fmt.Errorf("failed to set rpe: %w", err)
	}
	return nil, activityOutput{
		ID:      input.ActivityID,
		Day:     day,
		Message: fmt.Sprintf("RPE %.0f recorded; day load %.2f", input.RPE, day.TotalLoad),
	}, nil
}

func (s *Server) handleLogObservation(ctx context.Context, req *mcp.CallToolRequest, input logObservationInput) (*mcp.CallToolResult, any, error) {
	date, err := parseDay("date", input.Date)
	if err != nil {
		return nil, nil, err
	}
	if date.IsZero() {
		date = s.ledger.Today()
	}

	o := models.NewObservation(input.UserID, date, input.Notes)
	if input.ActivityID != "" {
		o.WithActivity(input.ActivityID)
	}
	if input.PerceivedEffort > 0 {
		o.WithEffort(input.PerceivedEffort)
	}

	res, err := s.pipeline.LogObservation(ctx, o)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to log observation: %w", err)
	}
	return nil, map[string]any{"observation": o, "recommendation": res}, nil
}

func (s *Server) handleSetAthlete(ctx context.Context, req *mcp.CallToolRequest, input setAthleteInput) (*mcp.CallToolResult, *models.Athlete, error) {
	a, err := s.repo.GetAthlete(ctx, input.UserID)
	if err != nil {
		a = models.NewAthlete(input.UserID)
	}
	if input.RiskProfile != "" {
		p, err := models.ParseRiskProfile(input.RiskProfile)
		if err != nil {
			return nil, nil, err
		}
		a.RiskProfile = p
	}
	if input.RestingHR > 0 {
		a.RestingHR = input.RestingHR
	}
	if input.MaxHR > 0 {
		a.MaxHR = input.MaxHR
	}
	if input.Style != "" {
		a.Style = input.Style
	}

	if err := s.repo.UpsertAthlete(ctx, a); err != nil {
		return nil, nil, fmt.Errorf("failed to save athlete: %w", err)
	}
	return nil, a, nil
}

func (s *Server) handleRequestRecommendation(ctx context.Context, req *mcp.CallToolRequest, input recommendationInput) (*mcp.CallToolResult, any, error) {
	target, err := parseDay("target_date", input.TargetDate)
	if err != nil {
		return nil, nil, err
	}

	res, err := s.ledger.Manual(ctx, input.UserID, target)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get recommendation: %w", err)
	}
	return nil, res, nil
}

func (s *Server) handleGetLatest(ctx context.Context, req *mcp.CallToolRequest, input userInput) (*mcp.CallToolResult, any, error) {
	rec, err := s.ledger.GetLatest(ctx, input.UserID)
	if err != nil {
		return nil, map[string]any{"message": "No recommendations found."}, nil
	}
	return nil, rec, nil
}

func (s *Server) handleGetRiskAssessment(ctx context.Context, req *mcp.CallToolRequest, input riskInput) (*mcp.CallToolResult, models.RiskAssessment, error) {
	date, err := parseDay("date", input.Date)
	if err != nil {
		return nil, models.RiskAssessment{}, err
	}
	a, err := s.ledger.GetRiskAssessment(ctx, input.UserID, date)
	if err != nil {
		return nil, models.RiskAssessment{}, fmt.Errorf("failed to assess risk: %w", err)
	}
	return nil, a, nil
}

func (s *Server) handlePrune(ctx context.Context, req *mcp.CallToolRequest, input pruneInput) (*mcp.CallToolResult, simpleOutput, error) {
	n, err := s.ledger.Prune(ctx, input.RetentionDays)
	if err != nil {
		return nil, simpleOutput{}, fmt.Errorf("failed to prune: %w", err)
	}
	return nil, simpleOutput{
		Message: fmt.Sprintf("Deleted %d recommendations", n),
	}, nil
}
