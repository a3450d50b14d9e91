// Package metrics defines the Prometheus collectors of the GraphQL server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Errors          *prometheus.CounterVec
	RateLimited     prometheus.Counter
	Mounts          *prometheus.CounterVec
	SkippedItems    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a private registry
func New() *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ormql",
				Subsystem: "graphql",
				Name:      "requests_total",
				Help:      "GraphQL operations by operation type and outcome",
			},
			[]string{"operation", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ormql",
				Subsystem: "graphql",
				Name:      "duration_seconds",
				Help:      "GraphQL operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ormql",
				Subsystem: "graphql",
				Name:      "errors_total",
				Help:      "GraphQL errors by extensions.code",
			},
			[]string{"code"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ormql",
				Subsystem: "graphql",
				Name:      "rate_limited_total",
				Help:      "Operations rejected by the rate limiter",
			},
		),
		Mounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ormql",
				Subsystem: "host",
				Name:      "mounts_total",
				Help:      "Schema mounts by outcome",
			},
			[]string{"status"},
		),
		SkippedItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ormql",
				Subsystem: "host",
				Name:      "skipped_items_total",
				Help:      "Contributed items skipped because they failed",
			},
			[]string{"kind"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.Errors,
		m.RateLimited,
		m.Mounts,
		m.SkippedItems,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordRequest counts one operation and observes its duration
func (m *Metrics) RecordRequest(operation string, failed bool, d time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.Requests.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordError counts one GraphQL error
func (m *Metrics) RecordError(code string) {
	if code == "" {
		code = "UNCLASSIFIED"
	}
	m.Errors.WithLabelValues(code).Inc()
}

// RecordMount counts a mount attempt
func (m *Metrics) RecordMount(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Mounts.WithLabelValues(status).Inc()
}

// RecordSkipped counts a contributed item that failed
func (m *Metrics) RecordSkipped(kind string) {
	m.SkippedItems.WithLabelValues(kind).Inc()
}
