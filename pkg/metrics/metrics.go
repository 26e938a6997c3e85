// Package metrics registers the Prometheus instruments exposed on
// /metrics. One Metrics value is created in main and injected wherever
// something is counted.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument with its registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	EventsPublished   *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
	Assemblies        *prometheus.CounterVec
	AssemblyDuration  prometheus.Histogram
	SSEConnections    prometheus.Gauge
}

// New creates a registry with the process/Go collectors plus the
// substrate's own instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcrt_events_published_total",
			Help: "Change-fabric events published, by event type.",
		}, []string{"type"}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcrt_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome (delivered, retried, dead_lettered).",
		}, []string{"outcome"}),
		Assemblies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcrt_assemblies_total",
			Help: "Context assembly runs by outcome (published, skipped, coalesced, failed).",
		}, []string{"outcome"}),
		AssemblyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rcrt_assembly_duration_seconds",
			Help:    "Wall-clock duration of context assembly runs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SSEConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rcrt_sse_connections",
			Help: "Open SSE streams.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.EventsPublished,
		m.WebhookDeliveries,
		m.Assemblies,
		m.AssemblyDuration,
		m.SSEConnections,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
