// ABOUTME: Tests for the recommendation ledger against a real SQLite store.
// ABOUTME: Covers idempotence, concurrent triggers, timeouts, claim handling, and retention.
package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harperreed/coach/internal/metrics"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/storage"
	"github.com/harperreed/coach/internal/textgen"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now      = time.Date(2026, 10, 15, 9, 30, 0, 0, time.Local)
	today    = models.MustParseDay("2026-10-15")
	tomorrow = models.MustParseDay("2026-10-16")
)

func setupStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testOptions() Options {
	return Options{
		GenerationTimeout: 2 * time.Second,
		ClaimLease:        time.Minute,
		WaitTimeout:       5 * time.Second,
		PollInterval:      10 * time.Millisecond,
		Clock:             func() time.Time { return now },
	}
}

// counting returns a generator that records how often it was called.
func counting(delay time.Duration) (textgen.Generator, *atomic.Int32) {
	var calls atomic.Int32
	gen := textgen.Func(func(ctx context.Context, req textgen.Request) (string, error) {
		calls.Add(1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "Easy 40 minutes for " + req.TargetDate.String(), nil
	})
	return gen, &calls
}

func newLedger(t *testing.T, db *storage.DB, gen textgen.Generator, opts Options) (*Ledger, *metrics.Registry) {
	t.Helper()
	m := metrics.NewRegistry()
	return New(db, gen, nil, opts, zerolog.Nop(), m), m
}

func TestRequestGenerationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	gen, calls := counting(0)
	l, m := newLedger(t, db, gen, testOptions())

	first, err := l.RequestGeneration(ctx, "u1", tomorrow, models.SourceScheduled)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, models.OutcomeCreated, first.Outcome)

	second, err := l.RequestGeneration(ctx, "u1", tomorrow, models.SourceManual)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, models.OutcomeSkipped, second.Outcome)
	assert.Equal(t, first.Recommendation.ID, second.Recommendation.ID)
	assert.Equal(t, models.SourceScheduled, second.Recommendation.SourcePath)

	assert.Equal(t, int32(1), calls.Load())

	all, err := db.ListRecommendations(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationRequests.WithLabelValues("scheduled", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationRequests.WithLabelValues("manual", "skipped")))
}

func TestConcurrentTriggersProduceOneRecommendation(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	gen, calls := counting(150 * time.Millisecond)
	l, _ := newLedger(t, db, gen, testOptions())

	const n = 8
	sources := []models.SourcePath{models.SourceScheduled, models.SourceAutopsy, models.SourceManual}

	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.RequestGeneration(ctx, "u1", tomorrow, sources[i%len(sources)])
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].Recommendation)
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, int32(1), calls.Load(), "only the claim holder calls the generator")

	for i := 1; i < n; i++ {
		assert.Equal(t, results[0].Recommendation.ID, results[i].Recommendation.ID)
	}

	all, err := db.ListRecommendations(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	active, err := db.ClaimActive(ctx, "u1", tomorrow)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestGeneratorTimeoutLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	gen, _ := counting(time.Hour)
	opts := testOptions()
	opts.GenerationTimeout = 50 * time.Millisecond
	l, m := newLedger(t, db, gen, opts)

	res, err := l.RequestGeneration(ctx, "u1", tomorrow, models.SourceScheduled)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.Equal(t, models.OutcomeTimeout, res.Outcome)
	assert.Nil(t, res.Recommendation)

	_, err = db.GetRecommendation(ctx, "u1", tomorrow)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	active, err := db.ClaimActive(ctx, "u1", tomorrow)
	require.NoError(t, err)
	assert.False(t, active, "a failed winner releases its claim")

	entries, err := db.ListGenerationLog(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OutcomeTimeout, entries[0].Outcome)
	require.NotNil(t, entries[0].Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationRequests.WithLabelValues("scheduled", "timeout")))

	// A later trigger succeeds.
	l2, _ := newLedger(t, db, textgen.Template{}, testOptions())
	res, err = l2.RequestGeneration(ctx, "u1", tomorrow, models.SourceScheduled)
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestGeneratorErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	var calls atomic.Int32
	gen := textgen.Func(func(ctx context.Context, req textgen.Request) (string, error) {
		calls.Add(1)
		return "", errors.New("upstream 500")
	})
	l, _ := newLedger(t, db, gen, testOptions())

	res, err := l.RequestGeneration(ctx, "u1", tomorrow, models.SourceManual)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstreamTimeout)
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Equal(t, int32(1), calls.Load())

	active, err := db.ClaimActive(ctx, "u1", tomorrow)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestEmptyContentIsAFailure(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	gen := textgen.Func(func(ctx context.Context, req textgen.Request) (string, error) {
		return "   ", nil
	})
	l, _ := newLedger(t, db, gen, testOptions())

	_, err := l.RequestGeneration(ctx, "u1", tomorrow, models.SourceManual)
	require.Error(t, err)

	_, err = db.GetRecommendation(ctx, "u1", tomorrow)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExistingRowSkipsGenerator(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	gen, calls := counting(0)
	l, _ := newLedger(t, db, gen, testOptions())

	_, err := l.RequestGeneration(ctx, "u1", tomorrow, models.SourceScheduled)
	require.NoError(t, err)

	for _, src := range []models.SourcePath{models.SourceScheduled, models.SourceAutopsy, models.SourceManual} {
		res, err := l.RequestGeneration(ctx, "u1", tomorrow, src)
		require.NoError(t, err)
		assert.False(t, res.Created)
	}
	assert.Equal(t, int32(1), calls.Load())

	entries, err := db.ListGenerationLog(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestHeldClaimReturnsInFlight(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	gen, calls := counting(0)
	opts := testOptions()
	opts.WaitTimeout = 50 * time.Millisecond
	l, _ := newLedger(t, db, gen, opts)

	won, err := db.ClaimGeneration(ctx, "u1", tomorrow, "other", models.SourceScheduled, now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, won)

	res, err := l.RequestGeneration(ctx, "u1", tomorrow, models.SourceManual)
	assert.ErrorIs(t, err, ErrGenerationInFlight)
	assert.Equal(t, models.OutcomeInFlight, res.Outcome)
	assert.Equal(t, int32(0), calls.Load())
}

func TestStaleClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	gen, calls := counting(0)
	l, _ := newLedger(t, db, gen, testOptions())

	old := now.Add(-time.Hour)
	won, err := db.ClaimGeneration(ctx, "u1", tomorrow, "crashed", models.SourceScheduled, old, old.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, won)

	res, err := l.RequestGeneration(ctx, "u1", tomorrow, models.SourceManual)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSnapshotCoversWindowBeforeTarget(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	require.NoError(t, db.UpsertAthlete(ctx, models.NewAthlete("u1").WithProfile(models.ProfileConservative)))

	for i := 0; i < 28; i++ {
		agg := models.NewDailyAggregate("u1", today.AddDays(-i))
		agg.AddLoad(models.SportRunning, 5)
		if i < 7 {
			agg.AddLoad(models.SportRunning, 5)
		}
		require.NoError(t, db.UpsertDailyAggregate(ctx, agg))
	}

	var seen textgen.Request
	gen := textgen.Func(func(ctx context.Context, req textgen.Request) (string, error) {
		seen = req
		return "Rest day.", nil
	})
	l, _ := newLedger(t, db, gen, testOptions())

	res, err := l.Scheduled(ctx, "u1")
	require.NoError(t, err)
	rec := res.Recommendation

	assert.Equal(t, tomorrow, rec.TargetDate)
	assert.Equal(t, today, rec.GenerationDate)
	assert.Equal(t, today, rec.DataWindowEnd)
	assert.Equal(t, today.AddDays(-27), rec.DataWindowStart)
	assert.Equal(t, models.SourceScheduled, rec.SourcePath)

	snap := rec.MetricsSnapshot
	assert.Equal(t, models.ProfileConservative, snap.RiskProfile)
	assert.Len(t, snap.Days, 28)
	require.NotNil(t, snap.Assessment.ACWR)
	// acute 10/day, chronic (7*10 + 21*5)/28 = 6.25
	assert.InDelta(t, 1.6, *snap.Assessment.ACWR, 1e-9)
	assert.True(t, snap.Assessment.HasFlag(models.FlagHighACWR))
	assert.True(t, snap.Assessment.HasFlag(models.FlagNoRestDays))
	assert.Equal(t, snap, seen.Snapshot)

	stored, err := db.GetRecommendation(ctx, "u1", tomorrow)
	require.NoError(t, err)
	assert.Equal(t, snap.Assessment.Flags, stored.MetricsSnapshot.Assessment.Flags)
}

func TestAutopsyIncludesRecentObservations(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	require.NoError(t, db.CreateObservation(ctx, models.NewObservation("u1", today, "left knee sore on descents")))
	require.NoError(t, db.CreateObservation(ctx, models.NewObservation("u1", today.AddDays(-60), "old note")))

	var seen textgen.Request
	gen := textgen.Func(func(ctx context.Context, req textgen.Request) (string, error) {
		seen = req
		return "Easy spin.", nil
	})
	l, _ := newLedger(t, db, gen, testOptions())

	res, err := l.Autopsy(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SourceAutopsy, res.Recommendation.SourcePath)
	assert.Equal(t, tomorrow, res.Recommendation.TargetDate)
	require.Len(t, seen.Observations, 1)
	assert.Contains(t, seen.Observations[0], "left knee sore")
}

func TestManualDefaultsToTomorrow(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	l, _ := newLedger(t, db, textgen.Template{}, testOptions())

	res, err := l.Manual(ctx, "u1", models.Day{})
	require.NoError(t, err)
	assert.Equal(t, tomorrow, res.Recommendation.TargetDate)

	target := tomorrow.AddDays(3)
	res, err = l.Manual(ctx, "u1", target)
	require.NoError(t, err)
	assert.Equal(t, target, res.Recommendation.TargetDate)

	latest, err := l.GetLatest(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, target, latest.TargetDate)
}

func TestRequestGenerationValidates(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, setupStore(t), textgen.Template{}, testOptions())

	var verr *models.ValidationError
	_, err := l.RequestGeneration(ctx, "", tomorrow, models.SourceManual)
	assert.ErrorAs(t, err, &verr)
	_, err = l.RequestGeneration(ctx, "u1", models.Day{}, models.SourceManual)
	assert.ErrorAs(t, err, &verr)
	_, err = l.RequestGeneration(ctx, "u1", tomorrow, models.SourcePath("cron"))
	assert.ErrorAs(t, err, &verr)
}

func TestGetRiskAssessment(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	l, _ := newLedger(t, db, textgen.Template{}, testOptions())

	a, err := l.GetRiskAssessment(ctx, "u1", models.Day{})
	require.NoError(t, err)
	assert.Equal(t, today, a.Date)
	assert.Nil(t, a.ACWR)
	assert.Equal(t, models.ACWRNoHistory, a.ACWRLabel)
	assert.Equal(t, models.ProfileModerate, a.Profile)
}

func TestPruneKeepsRetentionWindow(t *testing.T) {
	ctx := context.Background()
	db := setupStore(t)
	l, _ := newLedger(t, db, textgen.Template{}, testOptions())

	for _, offset := range []int{-20, -15, -14, -10, 1} {
		_, err := l.Manual(ctx, "u1", today.AddDays(offset))
		require.NoError(t, err)
	}

	n, err := l.Prune(ctx, 14)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := db.ListRecommendations(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, left, 3)
	for _, r := range left {
		assert.False(t, r.TargetDate.Before(today.AddDays(-14)))
	}

	n, err = l.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "default retention is 14 days")
}
