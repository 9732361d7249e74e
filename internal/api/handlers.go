// ABOUTME: HTTP handlers and JSON helpers for the coach API.
// ABOUTME: Maps domain errors onto status codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/models"
	"github.com/harperreed/coach/internal/storage"
	"github.com/harperreed/coach/internal/textgen"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ledger.ErrGenerationInFlight):
		writeError(w, http.StatusConflict, "in_flight", err.Error())
	case errors.Is(err, ledger.ErrUpstreamTimeout), errors.Is(err, ingest.ErrSyncTimeout):
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout", err.Error())
	case errors.Is(err, textgen.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", err.Error())
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &models.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// activityRequest is the wire form of an activity. Distance is in km,
// speed in km/h, duration in minutes.
type activityRequest struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Sport           string     `json:"sport"`
	Date            models.Day `json:"date"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	Distance        float64    `json:"distance"`
	DurationMinutes float64    `json:"duration_minutes"`
	ElevationGain   float64    `json:"elevation_gain"`
	AverageSpeed    *float64   `json:"average_speed,omitempty"`
	HeartRate       []float64  `json:"heart_rate,omitempty"`
	RPE             *float64   `json:"rpe,omitempty"`
}

func (a activityRequest) model() models.Activity {
	started := time.Now()
	if a.StartedAt != nil {
		started = *a.StartedAt
	}
	m := models.NewActivity(a.UserID, models.ParseSportKind(a.Sport), started).
		WithID(a.ID).
		WithDistance(a.Distance).
		WithDuration(time.Duration(a.DurationMinutes * float64(time.Minute))).
		WithElevation(a.ElevationGain).
		WithHeartRate(a.HeartRate)
	if !a.Date.IsZero() {
		m.Date = a.Date
	}
	m.AverageSpeed = a.AverageSpeed
	m.ManualRPE = a.RPE
	return *m
}

func (s *Server) ingestActivities(w http.ResponseWriter, r *http.Request) {
	var req []activityRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	activities := make([]models.Activity, 0, len(req))
	for _, a := range req {
		activities = append(activities, a.model())
	}

	sum, err := s.deps.Pipeline.Ingest(r.Context(), activities)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if len(sum.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, sum)
}

func (s *Server) setRPE(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RPE float64 `json:"rpe"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	agg, err := s.deps.Pipeline.SetRPE(r.Context(), chi.URLParam(r, "activityID"), req.RPE)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

type athleteRequest struct {
	RiskProfile      string  `json:"risk_profile"`
	RestingHR        float64 `json:"resting_hr,omitempty"`
	MaxHR            float64 `json:"max_hr,omitempty"`
	TRIMPCoefficient float64 `json:"trimp_coefficient,omitempty"`
	Style            string  `json:"style,omitempty"`
}

// putAthlete creates the athlete or updates only the fields the body supplies.
func (s *Server) putAthlete(w http.ResponseWriter, r *http.Request) {
	var req athleteRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	a, err := s.deps.Athletes.GetAthlete(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		a = models.NewAthlete(userID)
	} else if err != nil {
		s.fail(w, r, err)
		return
	}

	if req.RiskProfile != "" {
		p, err := models.ParseRiskProfile(req.RiskProfile)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		a.RiskProfile = p
	}
	if req.RestingHR > 0 {
		a.RestingHR = req.RestingHR
	}
	if req.MaxHR > 0 {
		a.MaxHR = req.MaxHR
	}
	if req.TRIMPCoefficient > 0 {
		a.TRIMPCoefficient = req.TRIMPCoefficient
	}
	if req.Style != "" {
		a.Style = req.Style
	}

	if err := s.deps.Athletes.UpsertAthlete(r.Context(), a); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) getAthlete(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Athletes.GetAthlete(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) logObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date            models.Day `json:"date"`
		Notes           string     `json:"notes"`
		ActivityID      string     `json:"activity_id,omitempty"`
		PerceivedEffort *float64   `json:"perceived_effort,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Date.IsZero() {
		req.Date = s.deps.Ledger.Today()
	}

	o := models.NewObservation(chi.URLParam(r, "userID"), req.Date, req.Notes)
	if req.ActivityID != "" {
		o.WithActivity(req.ActivityID)
	}
	o.PerceivedEffort = req.PerceivedEffort

	res, err := s.deps.Pipeline.LogObservation(r.Context(), o)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"observation": o, "recommendation": res})
}

func (s *Server) requestRecommendation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetDate models.Day `json:"target_date"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	res, err := s.deps.Ledger.Manual(r.Context(), chi.URLParam(r, "userID"), req.TargetDate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) latestRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Ledger.GetLatest(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) riskAssessment(w http.ResponseWriter, r *http.Request) {
	var date models.Day
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := models.ParseDay(raw)
		if err != nil {
			s.fail(w, r, &models.ValidationError{Field: "date", Value: raw, Reason: "use YYYY-MM-DD"})
			return
		}
		date = d
	}

	a, err := s.deps.Ledger.GetRiskAssessment(r.Context(), chi.URLParam(r, "userID"), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) prune(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RetentionDays int `json:"retention_days"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	n, err := s.deps.Ledger.Prune(r.Context(), req.RetentionDays)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "retention sweeper not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sweeper.Sweep(r.Context()))
}
