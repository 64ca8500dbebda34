// Package metrics provides custom Prometheus metrics for the audio alert
// pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for ingestion, classification,
// and alert creation.
type PipelineMetrics struct {
	IngestionsTotal      *prometheus.CounterVec   // ingestions by outcome
	IngestionDuration    prometheus.Histogram     // end-to-end ingestion latency
	ClassifierRequests   *prometheus.CounterVec   // classifier calls by status
	ClassifierDuration   prometheus.Histogram     // classifier call latency
	AlertsCreatedTotal   *prometheus.CounterVec   // alerts by type and severity
	ClipBytesStored      prometheus.Counter       // cumulative stored clip bytes
	StoreOperationsTotal *prometheus.CounterVec   // clip store ops by backend, status

	registry *prometheus.Registry
}

// NewPipelineMetrics creates and registers pipeline metrics on the registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_ingestions_total",
			Help: "Total number of audio ingestions by outcome",
		},
		[]string{"outcome"}, // alerted, no_alert, classify_failed, rejected, store_failed
	)

	m.IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_ingestion_duration_seconds",
			Help:    "End-to-end latency of one audio ingestion",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	m.ClassifierRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_requests_total",
			Help: "Total number of classifier invocations by status",
		},
		[]string{"status"}, // success, error
	)

	m.ClassifierDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classifier_request_duration_seconds",
			Help:    "Latency of remote classifier invocations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
	)

	m.AlertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_created_total",
			Help: "Total number of alerts created by type and severity",
		},
		[]string{"type", "severity"},
	)

	m.ClipBytesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audiostore_clip_bytes_total",
			Help: "Cumulative size of stored audio clips in bytes",
		},
	)

	m.StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiostore_operations_total",
			Help: "Total number of clip store operations by backend and status",
		},
		[]string{"backend", "status"},
	)
}

// RecordIngestion records one completed ingestion with its outcome.
func (m *PipelineMetrics) RecordIngestion(outcome string, duration time.Duration) {
	m.IngestionsTotal.WithLabelValues(outcome).Inc()
	m.IngestionDuration.Observe(duration.Seconds())
}

// RecordClassification records one classifier invocation.
func (m *PipelineMetrics) RecordClassification(status string, duration time.Duration) {
	m.ClassifierRequests.WithLabelValues(status).Inc()
	m.ClassifierDuration.Observe(duration.Seconds())
}

// RecordAlert records one created alert.
func (m *PipelineMetrics) RecordAlert(alertType, severity string) {
	m.AlertsCreatedTotal.WithLabelValues(alertType, severity).Inc()
}

// RecordClipStored records one clip store write.
func (m *PipelineMetrics) RecordClipStored(backend string, size int64) {
	m.StoreOperationsTotal.WithLabelValues(backend, "success").Inc()
	m.ClipBytesStored.Add(float64(size))
}

// RecordClipStoreError records one failed clip store write.
func (m *PipelineMetrics) RecordClipStoreError(backend string) {
	m.StoreOperationsTotal.WithLabelValues(backend, "error").Inc()
}

// Describe implements prometheus.Collector.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.IngestionsTotal.Describe(ch)
	m.IngestionDuration.Describe(ch)
	m.ClassifierRequests.Describe(ch)
	m.ClassifierDuration.Describe(ch)
	m.AlertsCreatedTotal.Describe(ch)
	m.ClipBytesStored.Describe(ch)
	m.StoreOperationsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.IngestionsTotal.Collect(ch)
	m.IngestionDuration.Collect(ch)
	m.ClassifierRequests.Collect(ch)
	m.ClassifierDuration.Collect(ch)
	m.AlertsCreatedTotal.Collect(ch)
	m.ClipBytesStored.Collect(ch)
	m.StoreOperationsTotal.Collect(ch)
}
