// ABOUTME: Tests for the ingest pipeline, RPE edits, observations, sync, and FIT decoding.
// ABOUTME: Uses a temporary SQLite store and stub sources and triggers.
package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/metrics"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/normalize"
	"github.com/harperreed/coach/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tormoder/fit"
)

var day = models.MustParseDay("2026-10-14")

func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type stubTrigger struct {
	users []string
	err   error
}

func (s *stubTrigger) Autopsy(ctx context.Context, userID string) (ledger.Result, error) {
	s.users = append(s.users, userID)
	return ledger.Result{Created: s.err == nil}, s.err
}

func activity(id string, sport models.SportKind) *models.Activity {
	a := models.NewActivity("u1", sport, time.Date(2026, 10, 14, 7, 0, 0, 0, time.Local)).WithID(id)
	return a
}

func TestIngestAggregatesTouchedDays(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	m := metrics.NewRegistry()
	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), m)

	run := activity("run-1", models.SportRunning).WithDistance(10).WithElevation(150)
	ride := activity("ride-1", models.SportCycling).WithDistance(18).WithAverageSpeed(12)
	bad := activity("bad-1", models.SportRunning).WithDistance(-3)

	sum, err := p.Ingest(ctx, []models.Activity{*run, *bad, *ride})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Ingested)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "bad-1", sum.Failed[0].ActivityID)
	var verr *models.ValidationError
	assert.ErrorAs(t, sum.Failed[0].Err, &verr)

	require.Len(t, sum.Days, 1)
	agg := sum.Days[0]
	assert.InDelta(t, 10.2, agg.Running, 1e-9)
	assert.InDelta(t, 4.5, agg.Cycling, 1e-9)
	assert.InDelta(t, 14.7, agg.TotalLoad, 1e-9)
	assert.Equal(t, models.DayKindMixed, agg.DayKind)
	assert.Equal(t, 2, agg.ActivityCount)

	stored, err := db.ListDailyAggregates(ctx, "u1", day, day)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.InDelta(t, 14.7, stored[0].TotalLoad, 1e-9)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestedActivities.WithLabelValues("ingested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestedActivities.WithLabelValues("failed")))
}

func TestIngestIsIdempotentPerActivity(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), nil)

	run := activity("run-1", models.SportRunning).WithDistance(8)
	for i := 0; i < 2; i++ {
		_, err := p.Ingest(ctx, []models.Activity{*run})
		require.NoError(t, err)
	}

	stored, err := db.ListDailyAggregates(ctx, "u1", day, day)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.InDelta(t, 8, stored[0].TotalLoad, 1e-9)
	assert.Equal(t, 1, stored[0].ActivityCount)
}

func TestSetRPE(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), nil)

	lift := activity("lift-1", models.SportStrength).WithDuration(time.Hour)
	sum, err := p.Ingest(ctx, []models.Activity{*lift})
	require.NoError(t, err)
	assert.InDelta(t, 1.8, sum.Days[0].Strength, 1e-9, "default RPE 6")

	agg, err := p.SetRPE(ctx, "lift-1", 7)
	require.NoError(t, err)
	assert.InDelta(t, 2.1, agg.Strength, 1e-9)

	_, err = p.SetRPE(ctx, "lift-1", 11)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)

	loads, err := db.ListNormalizedLoads(ctx, "u1", day, day)
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.InDelta(t, 2.1, loads[0].TotalLoad, 1e-9, "rejected edit keeps the prior load")
	require.NotNil(t, loads[0].RPEUsed)
	assert.Equal(t, 7.0, *loads[0].RPEUsed)

	_, err = p.SetRPE(ctx, "missing", 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResyncKeepsManualRPE(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), nil)

	lift := activity("lift-1", models.SportStrength).WithDuration(time.Hour)
	_, err := p.Ingest(ctx, []models.Activity{*lift})
	require.NoError(t, err)

	agg, err := p.SetRPE(ctx, "lift-1", 9)
	require.NoError(t, err)
	assert.InDelta(t, 2.7, agg.Strength, 1e-9)

	sum, err := p.Ingest(ctx, []models.Activity{*lift})
	require.NoError(t, err)
	require.Len(t, sum.Days, 1)
	assert.InDelta(t, 2.7, sum.Days[0].Strength, 1e-9)

	stored, err := db.GetActivity(ctx, "lift-1")
	require.NoError(t, err)
	require.NotNil(t, stored.ManualRPE)
	assert.Equal(t, 9.0, *stored.ManualRPE)
}

func TestResyncMovedActivityRebuildsOldDay(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), nil)

	run := activity("run-1", models.SportRunning).WithDistance(10)
	_, err := p.Ingest(ctx, []models.Activity{*run})
	require.NoError(t, err)

	next := day.AddDays(1)
	moved := models.NewActivity("u1", models.SportRunning, time.Date(2026, 10, 15, 7, 0, 0, 0, time.Local)).
		WithID("run-1").WithDistance(10)
	sum, err := p.Ingest(ctx, []models.Activity{*moved})
	require.NoError(t, err)
	assert.Len(t, sum.Days, 2)

	old, err := db.ListDailyAggregates(ctx, "u1", day, day)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Zero(t, old[0].TotalLoad)
	assert.Zero(t, old[0].ActivityCount)

	cur, err := db.ListDailyAggregates(ctx, "u1", next, next)
	require.NoError(t, err)
	require.Len(t, cur, 1)
	assert.InDelta(t, 10, cur[0].TotalLoad, 1e-9)
}

func TestIngestCreatesDefaultAthlete(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), nil)

	require.NoError(t, db.UpsertAthlete(ctx, models.NewAthlete("u2").WithProfile(models.ProfileConservative)))

	run := activity("run-1", models.SportRunning).WithDistance(5)
	other := *activity("run-2", models.SportRunning).WithDistance(5)
	other.UserID = "u2"
	_, err := p.Ingest(ctx, []models.Activity{*run, other})
	require.NoError(t, err)

	athletes, err := db.ListAthletes(ctx)
	require.NoError(t, err)
	require.Len(t, athletes, 2)
	assert.Equal(t, "u1", athletes[0].UserID)
	assert.Equal(t, models.ProfileModerate, athletes[0].RiskProfile)
	assert.Equal(t, models.ProfileConservative, athletes[1].RiskProfile, "existing profile untouched")
}

func TestIngestRejectsIDOfAnotherUser(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), nil)

	run := activity("run-1", models.SportRunning).WithDistance(10)
	_, err := p.Ingest(ctx, []models.Activity{*run})
	require.NoError(t, err)

	other := *run
	other.UserID = "u2"
	sum, err := p.Ingest(ctx, []models.Activity{other})
	require.NoError(t, err)
	require.Len(t, sum.Failed, 1)
	var verr *models.ValidationError
	assert.ErrorAs(t, sum.Failed[0].Err, &verr)
}

func TestLogObservationFiresAutopsy(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	trigger := &stubTrigger{}
	p := New(db, normalize.New(normalize.DefaultFactors()), trigger, zerolog.Nop(), nil)

	res, err := p.LogObservation(ctx, models.NewObservation("u1", day, "heavy legs").WithEffort(8))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Created)
	assert.Equal(t, []string{"u1"}, trigger.users)

	_, err = p.LogObservation(ctx, models.NewObservation("u1", day, "  "))
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = p.LogObservation(ctx, models.NewObservation("u1", day, "x").WithEffort(12))
	assert.ErrorAs(t, err, &verr)
	assert.Len(t, trigger.users, 1)
}

func TestLogObservationKeepsNoteWhenGenerationFails(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	trigger := &stubTrigger{err: ledger.ErrUpstreamTimeout}
	p := New(db, normalize.New(normalize.DefaultFactors()), trigger, zerolog.Nop(), nil)

	_, err := p.LogObservation(ctx, models.NewObservation("u1", day, "sore calves"))
	assert.ErrorIs(t, err, ledger.ErrUpstreamTimeout)
	assert.ErrorIs(t, err, ErrNotGenerated)

	obs, err := db.ListObservations(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, obs, 1)
}

func TestBackfillUsesCurrentFactors(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	old := normalize.DefaultFactors()
	old.Version = "2023-1"
	old.Swimming = 5
	_, err := New(db, normalize.New(old), nil, zerolog.Nop(), nil).
		Ingest(ctx, []models.Activity{*activity("swim-1", models.SportSwimming).WithDistance(2)})
	require.NoError(t, err)

	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), nil)
	sum, err := p.Backfill(ctx, "u1", day.AddDays(-7), day)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Ingested)

	loads, err := db.ListNormalizedLoads(ctx, "u1", day, day)
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.Equal(t, normalize.DefaultFactors().Version, loads[0].FactorVersion)
	assert.InDelta(t, 0.5, loads[0].TotalLoad, 1e-9)

	_, err = p.Backfill(ctx, "u1", day, day.AddDays(-1))
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

type sourceFunc func(ctx context.Context, userID string, since models.Day) ([]models.Activity, error)

func (f sourceFunc) Fetch(ctx context.Context, userID string, since models.Day) ([]models.Activity, error) {
	return f(ctx, userID, since)
}

func TestSyncDropsOtherUsers(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), nil)

	src := sourceFunc(func(ctx context.Context, userID string, since models.Day) ([]models.Activity, error) {
		mine := activity("run-1", models.SportRunning).WithDistance(5)
		mine.UserID = ""
		theirs := activity("run-2", models.SportRunning).WithDistance(5)
		theirs.UserID = "u2"
		return []models.Activity{*mine, *theirs}, nil
	})

	sum, err := NewSyncer(src, p, SyncConfig{}, zerolog.Nop()).Sync(ctx, "u1", day)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Ingested)

	_, err = db.GetActivity(ctx, "run-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSyncTimeout(t *testing.T) {
	db := setupTestDB(t)
	p := New(db, normalize.New(normalize.DefaultFactors()), nil, zerolog.Nop(), nil)

	slow := sourceFunc(func(ctx context.Context, userID string, since models.Day) ([]models.Activity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	s := NewSyncer(slow, p, SyncConfig{Timeout: 30 * time.Millisecond}, zerolog.Nop())
	_, err := s.Sync(context.Background(), "u1", day)
	assert.ErrorIs(t, err, ErrSyncTimeout)

	failing := sourceFunc(func(ctx context.Context, userID string, since models.Day) ([]models.Activity, error) {
		return nil, errors.New("provider 502")
	})
	_, err = NewSyncer(failing, p, SyncConfig{}, zerolog.Nop()).Sync(context.Background(), "u1", day)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSyncTimeout)
}

func buildTestFIT(t *testing.T) []byte {
	t.Helper()

	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	require.NoError(t, err)
	act, err := file.Activity()
	require.NoError(t, err)

	start := time.Date(2026, 10, 14, 6, 0, 0, 0, time.UTC)
	session := fit.NewSessionMsg()
	session.Timestamp = start.Add(time.Hour)
	session.StartTime = start
	session.Sport = fit.SportRunning
	session.TotalTimerTime = 3600 * 1000
	session.TotalDistance = 10000 * 100
	session.TotalAscent = 150
	act.Sessions = append(act.Sessions, session)

	for i, bpm := range []uint8{140, 150, 160} {
		rec := fit.NewRecordMsg()
		rec.Timestamp = start.Add(time.Duration(i) * time.Minute)
		rec.HeartRate = bpm
		act.Records = append(act.Records, rec)
	}

	var buf bytes.Buffer
	require.NoError(t, fit.Encode(&buf, file, binary.LittleEndian))
	return buf.Bytes()
}

func TestDecodeFIT(t *testing.T) {
	a, err := DecodeFIT(bytes.NewReader(buildTestFIT(t)), "u1", "fit-1")
	require.NoError(t, err)

	assert.Equal(t, "fit-1", a.ID)
	assert.Equal(t, models.SportRunning, a.Sport)
	assert.InDelta(t, 10, a.Distance, 1e-6)
	assert.Equal(t, time.Hour, a.Duration)
	assert.InDelta(t, 150, a.ElevationGain, 1e-9)
	require.NotNil(t, a.AverageSpeed)
	assert.InDelta(t, 10, *a.AverageSpeed, 1e-6)
	assert.Equal(t, []float64{140, 150, 160}, a.HeartRateSeries)
}

func TestFITDirSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "morning.fit"), buildTestFIT(t), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	got, err := FITDir{Dir: dir}.Fetch(ctx, "u1", models.Day{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fit-morning", got[0].ID)

	got, err = FITDir{Dir: dir}.Fetch(ctx, "u1", models.MustParseDay("2026-11-01"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
