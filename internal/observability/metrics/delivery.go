package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics contains Prometheus metrics for notification dispatch and
// delivery tracking.
type DeliveryMetrics struct {
	DeliveriesTotal       *prometheus.CounterVec // deliveries by channel and status
	DeliveryDuration      *prometheus.HistogramVec
	RetryAttemptsTotal    *prometheus.CounterVec // retry sweep claims by channel
	EligibilitySkipsTotal *prometheus.CounterVec // skips by reason
	RetentionPurgedTotal  prometheus.Counter     // records removed by retention
	LiveConnections       prometheus.Gauge       // currently open SSE connections
	LivePushesTotal       *prometheus.CounterVec // fan-out pushes by result

	registry *prometheus.Registry
}

// NewDeliveryMetrics creates and registers delivery metrics on the registry.
func NewDeliveryMetrics(registry *prometheus.Registry) (*DeliveryMetrics, error) {
	m := &DeliveryMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register delivery metrics: %w", err)
	}
	return m, nil
}

func (m *DeliveryMetrics) initMetrics() {
	m.DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total number of notification delivery attempts by channel and status",
		},
		[]string{"channel", "status"}, // status: sent, failed, delivered, read
	)

	m.DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Time taken for one notification delivery attempt by channel",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"channel"},
	)

	m.RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retry_attempts_total",
			Help: "Total number of delivery retry attempts claimed by the sweep",
		},
		[]string{"channel"},
	)

	m.EligibilitySkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_eligibility_skips_total",
			Help: "Total number of channels skipped during dispatch by reason",
		},
		[]string{"reason"}, // channel_disabled, type_not_subscribed, rate_limited, no_owner
	)

	m.RetentionPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_retention_purged_total",
			Help: "Total number of delivery records removed by retention cleanup",
		},
	)

	m.LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "livefanout_connections",
			Help: "Number of currently open live stream connections",
		},
	)

	m.LivePushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livefanout_pushes_total",
			Help: "Total number of live fan-out pushes by result",
		},
		[]string{"result"}, // delivered, dropped, no_connections
	)
}

// RecordDelivery records one delivery attempt outcome.
func (m *DeliveryMetrics) RecordDelivery(channel, status string, duration time.Duration) {
	m.DeliveriesTotal.WithLabelValues(channel, status).Inc()
	m.DeliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordAck records a client-driven delivered/read transition.
func (m *DeliveryMetrics) RecordAck(channel, status string) {
	m.DeliveriesTotal.WithLabelValues(channel, status).Inc()
}

// RecordRetryAttempt records one claimed retry.
func (m *DeliveryMetrics) RecordRetryAttempt(channel string) {
	m.RetryAttemptsTotal.WithLabelValues(channel).Inc()
}

// RecordEligibilitySkip records a channel skipped during dispatch.
func (m *DeliveryMetrics) RecordEligibilitySkip(reason string) {
	m.EligibilitySkipsTotal.WithLabelValues(reason).Inc()
}

// RecordRetentionPurge records records removed by the retention sweep.
func (m *DeliveryMetrics) RecordRetentionPurge(count int64) {
	m.RetentionPurgedTotal.Add(float64(count))
}

// SSEConnectionStarted increments the live connection gauge.
func (m *DeliveryMetrics) SSEConnectionStarted() {
	m.LiveConnections.Inc()
}

// SSEConnectionEnded decrements the live connection gauge.
func (m *DeliveryMetrics) SSEConnectionEnded() {
	m.LiveConnections.Dec()
}

// RecordLivePush records the result of one fan-out push.
func (m *DeliveryMetrics) RecordLivePush(result string) {
	m.LivePushesTotal.WithLabelValues(result).Inc()
}

// Describe implements prometheus.Collector.
func (m *DeliveryMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DeliveriesTotal.Describe(ch)
	m.DeliveryDuration.Describe(ch)
	m.RetryAttemptsTotal.Describe(ch)
	m.EligibilitySkipsTotal.Describe(ch)
	m.RetentionPurgedTotal.Describe(ch)
	m.LiveConnections.Describe(ch)
	m.LivePushesTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *DeliveryMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DeliveriesTotal.Collect(ch)
	m.DeliveryDuration.Collect(ch)
	m.RetryAttemptsTotal.Collect(ch)
	m.EligibilitySkipsTotal.Collect(ch)
	m.RetentionPurgedTotal.Collect(ch)
	m.LiveConnections.Collect(ch)
	m.LivePushesTotal.Collect(ch)
}
