// Package observability exposes Prometheus metrics for the ingestion
// pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	recordsFetched   *prometheus.CounterVec
	recordsProcessed *prometheus.CounterVec
	recordsFailed    *prometheus.CounterVec
	checkpointAge    *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_runs_total",
			Help: "Completed ingestion runs by source and terminal status.",
		}, []string{"source", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "Wall-clock duration of ingestion runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"source"}),
		recordsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_records_fetched_total",
			Help: "Raw records fetched from sources.",
		}, []string{"source"}),
		recordsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_records_processed_total",
			Help: "Normalized records durably persisted.",
		}, []string{"source"}),
		recordsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_records_failed_total",
			Help: "Records dropped by validation or normalization.",
		}, []string{"source"}),
		checkpointAge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_checkpoint_age_seconds",
			Help: "Seconds since the source checkpoint last advanced.",
		}, []string{"source"}),
	}
}

// RunCompleted records a finished run.
func (m *Metrics) RunCompleted(source, status string, durationSeconds float64) {
	m.runsTotal.WithLabelValues(source, status).Inc()
	m.runDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordsFetched adds to the fetched counter.
func (m *Metrics) RecordsFetched(source string, n int) {
	m.recordsFetched.WithLabelValues(source).Add(float64(n))
}

// RecordsProcessed adds to the processed counter.
func (m *Metrics) RecordsProcessed(source string, n int) {
	m.recordsProcessed.WithLabelValues(source).Add(float64(n))
}

// RecordsFailed adds to the failed counter.
func (m *Metrics) RecordsFailed(source string, n int) {
	m.recordsFailed.WithLabelValues(source).Add(float64(n))
}

// SetCheckpointAge sets the checkpoint staleness gauge for a source.
func (m *Metrics) SetCheckpointAge(source string, seconds float64) {
	m.checkpointAge.WithLabelValues(source).Set(seconds)
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
