// Package observability provides the prometheus metrics for the insights engine.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the metric collectors for the engine.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal         *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	EntitiesProcessed *prometheus.CounterVec
	EntityErrors      *prometheus.CounterVec
	AlertsCreated     *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics creates the engine metrics registered on a private registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careflock_jobs_total",
			Help: "Job runs by capability and result.",
		}, []string{"capability", "result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careflock_job_duration_seconds",
			Help:    "Job run duration by capability.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"capability"}),
		EntitiesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careflock_entities_processed_total",
			Help: "Entities scored by kind.",
		}, []string{"entity_kind"}),
		EntityErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careflock_entity_errors_total",
			Help: "Per-entity scoring failures by kind.",
		}, []string{"entity_kind"}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careflock_alerts_created_total",
			Help: "Alerts created by type and severity.",
		}, []string{"type", "severity"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careflock_notifications_sent_total",
			Help: "Notification sends by provider and result.",
		}, []string{"provider", "result"}),
	}

	collectors := []prometheus.Collector{
		m.JobsTotal,
		m.JobDuration,
		m.EntitiesProcessed,
		m.EntityErrors,
		m.AlertsCreated,
		m.NotificationsSent,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}
	return m, nil
}

// Handler returns an HTTP handler exposing the registry, for scrape endpoints.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
