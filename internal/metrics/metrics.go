// ABOUTME: Prometheus collectors for ingest, generation, and retention.
// ABOUTME: A Registry is built per process and handed to the components that record into it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for coach.
type Registry struct {
	reg *prometheus.Registry

	// Ledger
	GenerationRequests *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec

	// Ingest
	IngestedActivities *prometheus.CounterVec

	// Retention
	RetentionDeleted *prometheus.CounterVec
	RetentionErrors  *prometheus.CounterVec
}

// NewRegistry creates a registry with every coach metric registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		GenerationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_recommendation_requests_total",
				Help: "Recommendation generation requests by trigger path and outcome",
			},
			[]string{"source", "outcome"},
		),

		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_generation_duration_seconds",
				Help:    "Time spent waiting on the text generator",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"result"},
		),

		IngestedActivities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_ingested_activities_total",
				Help: "Activities processed by the ingest pipeline by outcome",
			},
			[]string{"outcome"},
		),

		RetentionDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_retention_deleted_rows_total",
				Help: "Rows removed by retention sweeps by policy",
			},
			[]string{"policy"},
		),

		RetentionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_retention_errors_total",
				Help: "Retention sweep failures by policy",
			},
			[]string{"policy"},
		),
	}

	r.reg.MustRegister(
		r.GenerationRequests,
		r.GenerationDuration,
		r.IngestedActivities,
		r.RetentionDeleted,
		r.RetentionErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
