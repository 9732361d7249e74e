// ABOUTME: Export and import functionality for coach data.
// ABOUTME: Supports JSON and YAML dumps plus a Parquet table of daily aggregates.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harperreed/coach/internal/models"
	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gopkg.in/yaml.v3"
)

// ExportVersion is bumped whenever ExportData changes shape.
const ExportVersion = "1.0"

// ExportData represents the full export format for coach data.
type ExportData struct {
	Version         string                   `json:"version" yaml:"version"`
	ExportedAt      time.Time                `json:"exported_at" yaml:"exported_at"`
	Tool            string                   `json:"tool" yaml:"tool"`
	Athletes        []*models.Athlete        `json:"athletes" yaml:"-"`
	Activities      []*models.Activity       `json:"activities" yaml:"-"`
	Loads           []models.NormalizedLoad  `json:"normalized_loads" yaml:"-"`
	Aggregates      []models.DailyAggregate  `json:"daily_aggregates" yaml:"daily_aggregates"`
	Recommendations []*models.Recommendation `json:"recommendations" yaml:"recommendations"`
	Observations    []*models.Observation    `json:"observations" yaml:"-"`
}

// GetAllData retrieves all data for export.
func (d *DB) GetAllData(ctx context.Context) (*ExportData, error) {
	athletes, err := d.ListAthletes(ctx)
	if err != nil {
		return nil, err
	}

	var activityRows []activityRow
	if err := d.db.SelectContext(ctx, &activityRows, `SELECT `+activityColumns+` FROM activities ORDER BY user_id, activity_date, started_at`); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	activities := make([]*models.Activity, 0, len(activityRows))
	for _, r := range activityRows {
		a, err := r.model()
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}

	var aggRows []aggregateRow
	if err := d.db.SelectContext(ctx, &aggRows, `
		SELECT user_id, agg_date, running, cycling, swimming, strength, total_load,
			day_kind, trimp, activity_count, updated_at
		FROM daily_aggregates ORDER BY user_id, agg_date`); err != nil {
		return nil, fmt.Errorf("list daily aggregates: %w", err)
	}
	aggregates := make([]models.DailyAggregate, 0, len(aggRows))
	for _, r := range aggRows {
		agg, err := r.model()
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, agg)
	}

	// Loads are exported per user so the typed list path is reused.
	var loads []models.NormalizedLoad
	seen := make(map[string]bool)
	for _, a := range activities {
		if seen[a.UserID] {
			continue
		}
		seen[a.UserID] = true
		userLoads, err := d.ListNormalizedLoads(ctx, a.UserID, models.NewDay(1, 1, 1), models.NewDay(9999, 12, 31))
		if err != nil {
			return nil, err
		}
		loads = append(loads, userLoads...)
	}

	recs, err := d.ListRecommendations(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	observations, err := d.ListObservations(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	return &ExportData{
		Version:         ExportVersion,
		ExportedAt:      time.Now(),
		Tool:            "coach",
		Athletes:        athletes,
		Activities:      activities,
		Loads:           loads,
		Aggregates:      aggregates,
		Recommendations: recs,
		Observations:    observations,
	}, nil
}

// ImportData imports data from an export file. Recommendations that already
// exist for their (user, target date) are skipped.
func (d *DB) ImportData(ctx context.Context, data *ExportData) error {
	for _, a := range data.Athletes {
		if err := d.UpsertAthlete(ctx, a); err != nil {
			return fmt.Errorf("import athlete: %w", err)
		}
	}

	loads := make(map[string]models.NormalizedLoad, len(data.Loads))
	for _, l := range data.Loads {
		loads[l.ActivityID] = l
	}
	for _, a := range data.Activities {
		var err error
		if l, ok := loads[a.ID]; ok {
			err = d.SaveActivityLoad(ctx, a, l)
		} else {
			err = d.UpsertActivity(ctx, a)
		}
		if err != nil {
			return fmt.Errorf("import activity: %w", err)
		}
	}

	for _, agg := range data.Aggregates {
		if err := d.UpsertDailyAggregate(ctx, agg); err != nil {
			return fmt.Errorf("import daily aggregate: %w", err)
		}
	}

	for _, rec := range data.Recommendations {
		if _, err := d.CommitRecommendation(ctx, rec, ""); err != nil {
			return fmt.Errorf("import recommendation: %w", err)
		}
	}

	for _, o := range data.Observations {
		if err := d.CreateObservation(ctx, o); err != nil {
			return fmt.Errorf("import observation: %w", err)
		}
	}

	return nil
}

// ExportJSON exports all data as JSON.
func (d *DB) ExportJSON(ctx context.Context) ([]byte, error) {
	data, err := d.GetAllData(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(data, "", "  ")
}

// ExportYAML exports aggregates and recommendations as YAML.
func (d *DB) ExportYAML(ctx context.Context) ([]byte, error) {
	data, err := d.GetAllData(ctx)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(data)
}

type aggregateParquetRow struct {
	UserID        string  `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Date          string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Running       float64 `parquet:"name=running, type=DOUBLE"`
	Cycling       float64 `parquet:"name=cycling, type=DOUBLE"`
	Swimming      float64 `parquet:"name=swimming, type=DOUBLE"`
	Strength      float64 `parquet:"name=strength, type=DOUBLE"`
	TotalLoad     float64 `parquet:"name=total_load, type=DOUBLE"`
	DayKind       string  `parquet:"name=day_kind, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TRIMP         float64 `parquet:"name=trimp, type=DOUBLE"`
	ActivityCount int64   `parquet:"name=activity_count, type=INT64"`
}

// MarshalAggregatesParquet encodes aggregates as a Snappy-compressed Parquet file.
func MarshalAggregatesParquet(aggs []models.DailyAggregate) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(aggregateParquetRow), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, a := range aggs {
		row := aggregateParquetRow{
			UserID:        a.UserID,
			Date:          a.Date.String(),
			Running:       a.Running,
			Cycling:       a.Cycling,
			Swimming:      a.Swimming,
			Strength:      a.Strength,
			TotalLoad:     a.TotalLoad,
			DayKind:       string(a.DayKind),
			TRIMP:         a.TRIMP,
			ActivityCount: int64(a.ActivityCount),
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

// ExportParquet exports every daily aggregate as Parquet.
func (d *DB) ExportParquet(ctx context.Context) ([]byte, error) {
	data, err := d.GetAllData(ctx)
	if err != nil {
		return nil, err
	}
	return MarshalAggregatesParquet(data.Aggregates)
}
