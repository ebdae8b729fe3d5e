// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "harvester"

// Metrics holds every harvester collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Client metrics
	Requests   *prometheus.CounterVec
	CacheHits  prometheus.Counter
	CacheMiss  prometheus.Counter
	Retries    prometheus.Counter
	Exhausted  prometheus.Counter
	RequestDur prometheus.Histogram

	// Orchestrator metrics
	ItemsSucceeded prometheus.Counter
	ItemsFailed    prometheus.Counter
	SubResourceGap *prometheus.CounterVec
	BatchesFlushed prometheus.Counter
	LastRunItems   *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Remote catalog requests by outcome (ok, client_error, server_error, network_error)",
		}, []string{"outcome"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Responses served from the cache",
		}),
		CacheMiss: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Requests not found in the cache",
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Backoff retries of transient failures",
		}),
		Exhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_exhausted_total",
			Help:      "Requests that gave up after all retries",
		}),
		RequestDur: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Remote request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ItemsSucceeded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_succeeded_total",
			Help:      "Items enriched successfully",
		}),
		ItemsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_failed_total",
			Help:      "Items whose base details were unavailable",
		}),
		SubResourceGap: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subresource_missing_total",
			Help:      "Sub-resources left empty on otherwise successful items",
		}, []string{"resource"}),
		BatchesFlushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Batch files written",
		}),
		LastRunItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_items",
			Help:      "Counts from the most recent run (attempted, succeeded, failed)",
		}, []string{"kind"}),
	}
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
