// Package observability provides Prometheus metrics for the audio alert
// pipeline. The collectors live in the metrics subpackage; this package
// wires them to a shared registry and an HTTP handler.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carsense/carsense-go/internal/observability/metrics"
)

// Metrics holds all metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Pipeline *metrics.PipelineMetrics
	Delivery *metrics.DeliveryMetrics
}

// NewMetrics creates a new Metrics instance, initializing all collectors on
// a fresh registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	deliveryMetrics, err := metrics.NewDeliveryMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Pipeline: pipelineMetrics,
		Delivery: deliveryMetrics,
	}, nil
}

// Handler returns the HTTP handler serving the metrics in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
