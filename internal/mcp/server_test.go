// ABOUTME: Tests for MCP server, tools, and resources.
// ABOUTME: Covers NewServer, tool handlers, and resource handlers.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/normalize"
	"github.com/harperreed/coach/internal/storage"
	"github.com/harperreed/coach/internal/textgen"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

var now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.Local)

// setupTestDB creates a test database in a temp directory.
func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "coach-mcp-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	dbPath := filepath.Join(tmpDir, "coach.db")
	db, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// setupServer wires a server over a fresh database with a fixed clock.
func setupServer(t *testing.T, gen textgen.Generator) (*Server, *storage.DB) {
	t.Helper()

	db := setupTestDB(t)
	opts := ledger.Options{
		GenerationTimeout: 100 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		Clock:             func() time.Time { return now },
	}
	l := ledger.New(db, gen, nil, opts, zerolog.Nop(), nil)
	p := ingest.New(db, normalize.New(normalize.DefaultFactors()), l, zerolog.Nop(), nil)

	server, err := NewServer(db, l, p)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return server, db
}

func TestNewServer(t *testing.T) {
	server, _ := setupServer(t, textgen.Template{})

	if server.mcpServer == nil {
		t.Error("Expected non-nil mcpServer")
	}
	if server.repo == nil {
		t.Error("Expected non-nil repo")
	}

	if _, err := NewServer(nil, nil, nil); err == nil {
		t.Error("Expected error for missing dependencies")
	}
}

func TestHandleLogActivity(t *testing.T) {
	server, _ := setupServer(t, textgen.Template{})
	ctx := context.Background()

	tests := []struct {
		name      string
		input     logActivityInput
		wantErr   bool
		errSubstr string
	}{
		{
			name: "valid run",
			input: logActivityInput{
				UserID:   "u1",
				ID:       "run-1",
				Sport:    "run",
				Date:     "2026-10-14",
				Distance: 10,
			},
		},
		{
			name: "strength with duration",
			input: logActivityInput{
				UserID:          "u1",
				ID:              "lift-1",
				Sport:           "strength",
				Date:            "2026-10-14",
				DurationMinutes: 60,
			},
		},
		{
			name: "negative distance",
			input: logActivityInput{
				UserID:   "u1",
				ID:       "bad-1",
				Sport:    "run",
				Date:     "2026-10-14",
				Distance: -3,
			},
			wantErr: true,
		},
		{
			name: "bad date",
			input: logActivityInput{
				UserID: "u1",
				Sport:  "run",
				Date:   "14/10/2026",
			},
			wantErr:   true,
			errSubstr: "YYYY-MM-DD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, err := server.handleLogActivity(ctx, &mcp.CallToolRequest{}, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if tt.errSubstr != "" && !strings.Contains(err.Error(), tt.errSubstr) {
					t.Errorf("Expected error containing %q, got %q", tt.errSubstr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if out.ID != tt.input.ID {
				t.Errorf("Expected ID %q, got %q", tt.input.ID, out.ID)
			}
			if out.Day.TotalLoad <= 0 {
				t.Errorf("Expected positive day load, got %f", out.Day.TotalLoad)
			}
		})
	}
}

func TestHandleSetRPE(t *testing.T) {
	server, _ := setupServer(t, textgen.Template{})
	ctx := context.Background()

	_, _, err := server.handleLogActivity(ctx, &mcp.CallToolRequest{}, logActivityInput{
		UserID: "u1", ID: "lift-1", Sport: "strength", Date: "2026-10-14", DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("log_activity failed: %v", err)
	}

	_, out, err := server.handleSetRPE(ctx, &mcp.CallToolRequest{}, setRPEInput{ActivityID: "lift-1", RPE: 7})
	if err != nil {
		t.Fatalf("set_rpe failed: %v", err)
	}
	if math.Abs(out.Day.Strength-2.1) > 1e-9 {
		t.Errorf("Expected strength load 2.1, got %f", out.Day.Strength)
	}

	_, _, err = server.handleSetRPE(ctx, &mcp.CallToolRequest{}, setRPEInput{ActivityID: "lift-1", RPE: 0})
	if err == nil {
		t.Error("Expected error for RPE out of range")
	}

	_, _, err = server.handleSetRPE(ctx, &mcp.CallToolRequest{}, setRPEInput{ActivityID: "missing", RPE: 5})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestHandleRequestRecommendation(t *testing.T) {
	server, _ := setupServer(t, textgen.Template{})
	ctx := context.Background()

	_, out, err := server.handleRequestRecommendation(ctx, &mcp.CallToolRequest{}, recommendationInput{UserID: "u1"})
	if err != nil {
		t.Fatalf("request_recommendation failed: %v", err)
	}
	res, ok := out.(ledger.Result)
	if !ok {
		t.Fatalf("Expected ledger.Result, got %T", out)
	}
	if !res.Created {
		t.Error("Expected first request to create")
	}
	if got := res.Recommendation.TargetDate.String(); got != "2026-10-16" {
		t.Errorf("Expected target 2026-10-16, got %s", got)
	}

	_, out, err = server.handleRequestRecommendation(ctx, &mcp.CallToolRequest{}, recommendationInput{UserID: "u1", TargetDate: "2026-10-16"})
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if res = out.(ledger.Result); res.Created || res.Outcome != models.OutcomeSkipped {
		t.Errorf("Expected skipped, got created=%v outcome=%s", res.Created, res.Outcome)
	}

	_, out, err = server.handleGetLatest(ctx, &mcp.CallToolRequest{}, userInput{UserID: "u1"})
	if err != nil {
		t.Fatalf("get_latest failed: %v", err)
	}
	rec, ok := out.(*models.Recommendation)
	if !ok {
		t.Fatalf("Expected recommendation, got %T", out)
	}
	if rec.SourcePath != models.SourceManual {
		t.Errorf("Expected manual source, got %s", rec.SourcePath)
	}
}

func TestHandleRequestRecommendationTimeout(t *testing.T) {
	slow := textgen.Func(func(ctx context.Context, req textgen.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	server, db := setupServer(t, slow)
	ctx := context.Background()

	_, _, err := server.handleRequestRecommendation(ctx, &mcp.CallToolRequest{}, recommendationInput{UserID: "u1"})
	if !errors.Is(err, ledger.ErrUpstreamTimeout) {
		t.Fatalf("Expected ErrUpstreamTimeout, got %v", err)
	}

	if _, err := db.LatestRecommendation(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no recommendation row, got %v", err)
	}
}

func TestHandleGetLatestEmpty(t *testing.T) {
	server, _ := setupServer(t, textgen.Template{})

	_, out, err := server.handleGetLatest(context.Background(), &mcp.CallToolRequest{}, userInput{UserID: "nobody"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if m, ok := out.(map[string]any); !ok || m["message"] == nil {
		t.Errorf("Expected message output, got %v", out)
	}
}

func TestHandleLogObservation(t *testing.T) {
	server, _ := setupServer(t, textgen.Template{})
	ctx := context.Background()

	_, out, err := server.handleLogObservation(ctx, &mcp.CallToolRequest{}, logObservationInput{
		UserID:          "u1",
		Notes:           "calves sore",
		PerceivedEffort: 8,
	})
	if err != nil {
		t.Fatalf("log_observation failed: %v", err)
	}
	res, ok := out.(map[string]any)["recommendation"].(*ledger.Result)
	if !ok || res == nil {
		t.Fatalf("Expected recommendation result, got %v", out)
	}
	if res.Recommendation.SourcePath != models.SourceAutopsy {
		t.Errorf("Expected autopsy source, got %s", res.Recommendation.SourcePath)
	}

	_, _, err = server.handleLogObservation(ctx, &mcp.CallToolRequest{}, logObservationInput{UserID: "u1", Notes: "  "})
	if err == nil {
		t.Error("Expected error for empty notes")
	}
}

func TestHandleSetAthleteAndRisk(t *testing.T) {
	server, _ := setupServer(t, textgen.Template{})
	ctx := context.Background()

	_, a, err := server.handleSetAthlete(ctx, &mcp.CallToolRequest{}, setAthleteInput{
		UserID:      "u1",
		RiskProfile: "Conservative",
		MaxHR:       182,
	})
	if err != nil {
		t.Fatalf("set_athlete failed: %v", err)
	}
	if a.RiskProfile != models.ProfileConservative || a.MaxHR != 182 {
		t.Errorf("Unexpected athlete: %+v", a)
	}

	_, _, err = server.handleSetAthlete(ctx, &mcp.CallToolRequest{}, setAthleteInput{UserID: "u1", RiskProfile: "reckless"})
	if err == nil {
		t.Error("Expected error for unknown risk profile")
	}

	_, ra, err := server.handleGetRiskAssessment(ctx, &mcp.CallToolRequest{}, riskInput{UserID: "u1", Date: "2026-10-14"})
	if err != nil {
		t.Fatalf("get_risk_assessment failed: %v", err)
	}
	if ra.Profile != models.ProfileConservative {
		t.Errorf("Expected conservative profile, got %s", ra.Profile)
	}
	if ra.ACWR != nil {
		t.Errorf("Expected nil ACWR without history, got %v", *ra.ACWR)
	}
}

func TestHandlePrune(t *testing.T) {
	server, db := setupServer(t, textgen.Template{})
	ctx := context.Background()

	for _, target := range []string{"2026-09-20", "2026-10-10"} {
		if _, _, err := server.handleRequestRecommendation(ctx, &mcp.CallToolRequest{}, recommendationInput{UserID: "u1", TargetDate: target}); err != nil {
			t.Fatalf("request %s failed: %v", target, err)
		}
	}

	_, out, err := server.handlePrune(ctx, &mcp.CallToolRequest{}, pruneInput{})
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if out.Message != "Deleted 1 recommendations" {
		t.Errorf("Unexpected message: %s", out.Message)
	}

	recs, err := db.ListRecommendations(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListRecommendations failed: %v", err)
	}
	if len(recs) != 1 || recs[0].TargetDate.String() != "2026-10-10" {
		t.Errorf("Expected only 2026-10-10 to remain, got %d rows", len(recs))
	}
}

func TestResources(t *testing.T) {
	server, _ := setupServer(t, textgen.Template{})
	ctx := context.Background()

	if _, _, err := server.handleSetAthlete(ctx, &mcp.CallToolRequest{}, setAthleteInput{UserID: "u1"}); err != nil {
		t.Fatalf("set_athlete failed: %v", err)
	}
	if _, _, err := server.handleRequestRecommendation(ctx, &mcp.CallToolRequest{}, recommendationInput{UserID: "u1"}); err != nil {
		t.Fatalf("request_recommendation failed: %v", err)
	}

	tests := []struct {
		name    string
		uri     string
		handler func(context.Context, *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
		want    string
	}{
		{"athletes", "coach://athletes", server.handleAthletesResource, `"user_id": "u1"`},
		{"recommendations", "coach://recommendations", server.handleRecommendationsResource, `"target_date": "2026-10-16"`},
		{"generation log", "coach://generation-log", server.handleGenerationLogResource, `"outcome": "created"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.handler(ctx, &mcp.ReadResourceRequest{})
			if err != nil {
				t.Fatalf("resource failed: %v", err)
			}
			if len(result.Contents) != 1 {
				t.Fatalf("Expected 1 content, got %d", len(result.Contents))
			}
			c := result.Contents[0]
			if c.URI != tt.uri {
				t.Errorf("Expected URI %s, got %s", tt.uri, c.URI)
			}
			if !json.Valid([]byte(c.Text)) {
				t.Error("Expected valid JSON")
			}
			if !strings.Contains(c.Text, tt.want) {
				t.Errorf("Expected %s in %s", tt.want, c.Text)
			}
		})
	}
}
