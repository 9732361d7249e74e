// ABOUTME: Tests for the HTTP API using httptest against a SQLite-backed stack.
// ABOUTME: Covers ingest, RPE edits, recommendations, risk, prune, and error mapping.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/metrics"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/normalize"
	"github.com/harperreed/coach/internal/retention"
	"github.com/harperreed/coach/internal/storage"
	"github.com/harperreed/coach/internal/textgen"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.Local)

func setupServer(t *testing.T, gen textgen.Generator) (*httptest.Server, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := metrics.NewRegistry()
	opts := ledger.Options{
		GenerationTimeout: 100 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		Clock:             func() time.Time { return now },
	}
	l := ledger.New(db, gen, nil, opts, zerolog.Nop(), m)
	p := ingest.New(db, normalize.New(normalize.DefaultFactors()), l, zerolog.Nop(), m)
	sw := retention.New(db, nil, zerolog.Nop(), m).WithClock(func() time.Time { return now })

	srv := NewServer(DefaultServerConfig(), Deps{
		Ledger:   l,
		Pipeline: p,
		Athletes: db,
		Sweeper:  sw,
		Metrics:  m,
		Log:      zerolog.Nop(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, db
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := setupServer(t, textgen.Template{})

	resp, _ := do(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	resp, _ = do(t, http.MethodGet, ts.URL+"/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestAndRPE(t *testing.T) {
	ts, db := setupServer(t, textgen.Template{})

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/activities", []map[string]any{
		{"id": "run-1", "user_id": "u1", "sport": "run", "date": "2026-10-14", "distance": 10, "elevation_gain": 150},
		{"id": "lift-1", "user_id": "u1", "sport": "strength", "date": "2026-10-14", "duration_minutes": 60},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var sum ingest.Summary
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, 2, sum.Ingested)
	require.Len(t, sum.Days, 1)
	assert.InDelta(t, 12.0, sum.Days[0].TotalLoad, 1e-9)

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/activities/lift-1/rpe", map[string]any{"rpe": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var agg models.DailyAggregate
	require.NoError(t, json.Unmarshal(body, &agg))
	assert.InDelta(t, 2.1, agg.Strength, 1e-9)

	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/activities/lift-1/rpe", map[string]any{"rpe": 11})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/activities/missing/rpe", map[string]any{"rpe": 5})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	loads, err := db.ListNormalizedLoads(context.Background(), "u1", models.MustParseDay("2026-10-14"), models.MustParseDay("2026-10-14"))
	require.NoError(t, err)
	assert.Len(t, loads, 2)
}

func TestIngestReportsFailures(t *testing.T) {
	ts, _ := setupServer(t, textgen.Template{})

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/activities", []map[string]any{
		{"id": "ok", "user_id": "u1", "sport": "swim", "date": "2026-10-14", "distance": 2},
		{"id": "bad", "user_id": "u1", "sport": "run", "date": "2026-10-14", "distance": -1},
	})
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(t, string(body), `"activity_id":"bad"`)
}

func TestRecommendationLifecycle(t *testing.T) {
	ts, _ := setupServer(t, textgen.Template{})
	base := ts.URL + "/v1/users/u1"

	resp, _ := do(t, http.MethodGet, base+"/recommendations/latest", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, http.MethodPost, base+"/recommendations", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var res ledger.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.Created)
	assert.Equal(t, "2026-10-16", res.Recommendation.TargetDate.String())

	resp, body = do(t, http.MethodPost, base+"/recommendations", map[string]any{"target_date": "2026-10-16"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.Created)
	assert.Equal(t, models.OutcomeSkipped, res.Outcome)

	resp, body = do(t, http.MethodGet, base+"/recommendations/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"source_path":"manual"`)
}

func TestRecommendationTimeoutMapsToGatewayTimeout(t *testing.T) {
	slow := textgen.Func(func(ctx context.Context, req textgen.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	ts, _ := setupServer(t, slow)

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/users/u1/recommendations", nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Contains(t, string(body), "upstream_timeout")
}

func TestObservationTriggersAutopsy(t *testing.T) {
	ts, _ := setupServer(t, textgen.Template{})

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/users/u1/observations", map[string]any{
		"notes":            "hamstring tight",
		"perceived_effort": 7,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"source_path":"reactive-autopsy"`)

	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/users/u1/observations", map[string]any{"notes": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAthleteAndRisk(t *testing.T) {
	ts, _ := setupServer(t, textgen.Template{})

	resp, body := do(t, http.MethodPut, ts.URL+"/v1/athletes/u1", map[string]any{"risk_profile": "aggressive", "max_hr": 185, "resting_hr": 50})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = do(t, http.MethodPut, ts.URL+"/v1/athletes/u2", map[string]any{"risk_profile": "reckless"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodPut, ts.URL+"/v1/athletes/u1", map[string]any{"risk_profile": "Aggressive", "resting_hr": 55})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var athlete models.Athlete
	require.NoError(t, json.Unmarshal(body, &athlete))
	assert.Equal(t, models.ProfileAggressive, athlete.RiskProfile)
	assert.Equal(t, 55.0, athlete.RestingHR)
	assert.Equal(t, 185.0, athlete.MaxHR, "fields absent from the body are kept")

	resp, body = do(t, http.MethodPut, ts.URL+"/v1/athletes/u3", map[string]any{"resting_hr": 48})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/users/u1/risk?date=2026-10-14", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var a models.RiskAssessment
	require.NoError(t, json.Unmarshal(body, &a))
	assert.Equal(t, models.ProfileAggressive, a.Profile)
	assert.Nil(t, a.ACWR)
	assert.Equal(t, models.ACWRNoHistory, a.ACWRLabel)

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/users/u1/risk?date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPruneAndSweep(t *testing.T) {
	ts, _ := setupServer(t, textgen.Template{})
	base := ts.URL + "/v1/users/u1/recommendations"

	for _, target := range []string{"2026-09-25", "2026-10-05"} {
		resp, _ := do(t, http.MethodPost, base, map[string]any{"target_date": target})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/admin/prune", map[string]any{"retention_days": 14})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted":1}`, string(body))

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/admin/retention", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"policy":"generation_log"`))
}
