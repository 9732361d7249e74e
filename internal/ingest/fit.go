// ABOUTME: FIT file activity source built on tormoder/fit.
// ABOUTME: Reads session totals and the heart-rate record stream from each file.
package ingest

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harperreed/coach/internal/models"
	"github.com/tormoder/fit"
)

// DecodeFIT reads one FIT activity for userID. Distances are converted to
// kilometres, speeds to km/h, and elevation stays in metres.
func DecodeFIT(r io.Reader, userID, id string) (*models.Activity, error) {
	decoded, err := fit.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode FIT file: %w", err)
	}
	file, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("activity FIT expected: %w", err)
	}
	if len(file.Sessions) == 0 {
		return nil, fmt.Errorf("activity file has no session message")
	}
	session := file.Sessions[0]

	var hr []float64
	records := make([]*fit.RecordMsg, 0, len(file.Records))
	for _, rec := range file.Records {
		if rec != nil {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	for _, rec := range records {
		if rec.HeartRate != math.MaxUint8 && rec.HeartRate > 0 {
			hr = append(hr, float64(rec.HeartRate))
		}
	}

	start := validTime(session.StartTime)
	if start.IsZero() && len(records) > 0 {
		start = validTime(records[0].Timestamp)
	}
	if start.IsZero() {
		return nil, fmt.Errorf("activity file has no start time")
	}

	a := models.NewActivity(userID, sportOf(session.Sport), start.Local())
	if id != "" {
		a.WithID(id)
	}

	elapsed := positive(session.GetTotalTimerTimeScaled())
	a.WithDuration(time.Duration(elapsed * float64(time.Second)))
	a.WithDistance(positive(session.GetTotalDistanceScaled()) / 1000)
	if session.TotalAscent != math.MaxUint16 {
		a.WithElevation(float64(session.TotalAscent))
	}

	speed := positive(session.GetEnhancedAvgSpeedScaled())
	if speed == 0 {
		speed = positive(session.GetAvgSpeedScaled())
	}
	if speed == 0 && elapsed > 0 {
		speed = positive(session.GetTotalDistanceScaled()) / elapsed
	}
	if speed > 0 {
		a.WithAverageSpeed(speed * 3.6)
	}
	if len(hr) > 0 {
		a.WithHeartRate(hr)
	}
	return a, nil
}

func sportOf(s fit.Sport) models.SportKind {
	switch s {
	case fit.SportRunning:
		return models.SportRunning
	case fit.SportCycling:
		return models.SportCycling
	case fit.SportSwimming:
		return models.SportSwimming
	case fit.SportTraining:
		return models.SportStrength
	default:
		return models.SportOther
	}
}

func validTime(t time.Time) time.Time {
	if t.IsZero() || fit.IsBaseTime(t) {
		return time.Time{}
	}
	return t
}

func positive(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return v
}

// FITDir is a Source that reads every .fit file in a directory. The file
// name without extension becomes the activity ID, so re-importing a file
// replaces the earlier row.
type FITDir struct {
	Dir string
}

// Fetch implements Source. Files whose activity starts before since are skipped.
func (s FITDir) Fetch(ctx context.Context, userID string, since models.Day) ([]models.Activity, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read FIT directory: %w", err)
	}

	var out []models.Activity
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".fit") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := ReadFITFile(filepath.Join(s.Dir, e.Name()), userID)
		if err != nil {
			return nil, err
		}
		if !since.IsZero() && a.Date.Before(since) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

// ReadFITFile decodes a single file; its base name becomes the activity ID.
func ReadFITFile(path, userID string) (*models.Activity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open FIT file: %w", err)
	}
	defer f.Close()

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	a, err := DecodeFIT(f, userID, "fit-"+id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return a, nil
}
