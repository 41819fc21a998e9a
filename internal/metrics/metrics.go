package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the import pipeline collectors on a private registry.
type Pipeline struct {
	registry *prometheus.Registry

	uploadsTotal    *prometheus.CounterVec
	rowsTotal       *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	commitsTotal    *prometheus.CounterVec
	sessionsTotal   *prometheus.CounterVec
	commitsInFlight prometheus.Gauge
}

func NewPipeline() *Pipeline {
	registry := prometheus.NewRegistry()

	m := &Pipeline{
		registry: registry,
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockimport",
			Name:      "uploads_total",
			Help:      "Uploads by import type and outcome.",
		}, []string{"import_type", "outcome"}),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockimport",
			Name:      "rows_total",
			Help:      "Staged rows by validation status.",
		}, []string{"import_type", "validation_status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stockimport",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		commitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockimport",
			Name:      "commit_records_total",
			Help:      "Committed records by outcome.",
		}, []string{"import_type", "outcome"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockimport",
			Name:      "session_transitions_total",
			Help:      "Session transitions by target status.",
		}, []string{"status"}),
		commitsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stockimport",
			Name:      "commits_in_flight",
			Help:      "Sessions currently being committed.",
		}),
	}

	registry.MustRegister(
		m.uploadsTotal,
		m.rowsTotal,
		m.stageDuration,
		m.commitsTotal,
		m.sessionsTotal,
		m.commitsInFlight,
	)
	return m
}

func (m *Pipeline) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Pipeline) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Pipeline) ObserveUpload(importType string, outcome string) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(importType, outcome).Inc()
}

func (m *Pipeline) AddRows(importType string, validationStatus string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsTotal.WithLabelValues(importType, validationStatus).Add(float64(n))
}

func (m *Pipeline) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Pipeline) ObserveCommit(importType string, processed int, failed int) {
	if m == nil {
		return
	}
	if processed > 0 {
		m.commitsTotal.WithLabelValues(importType, "processed").Add(float64(processed))
	}
	if failed > 0 {
		m.commitsTotal.WithLabelValues(importType, "failed").Add(float64(failed))
	}
}

func (m *Pipeline) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(status).Inc()
}

// CommitStarted increments the in-flight gauge and returns the matching decrement.
func (m *Pipeline) CommitStarted() func() {
	if m == nil {
		return func() {}
	}
	m.commitsInFlight.Inc()
	return m.commitsInFlight.Dec
}
