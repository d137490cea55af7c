// Package metrics holds the Prometheus collectors for the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups every metric the application records. Each Collector owns
// its own registry, so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// FavoriteOps counts favorites operations by op and status.
	FavoriteOps *prometheus.CounterVec

	// BootstrapRuns counts bootstrap decisions and fetch outcomes.
	BootstrapRuns *prometheus.CounterVec

	StopsInserted prometheus.Counter
}

// New creates a Collector with metrics registered under namespace.
func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		FavoriteOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "favorite_operations_total",
				Help:      "Favorites operations by kind and outcome",
			},
			[]string{"op", "status"},
		),
		BootstrapRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bootstrap_runs_total",
				Help:      "Bootstrap prompt answers and fetch outcomes",
			},
			[]string{"outcome"},
		),
		StopsInserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stops_inserted_total",
				Help:      "Stop records written by bootstrap",
			},
		),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.FavoriteOps,
		c.BootstrapRuns,
		c.StopsInserted,
		prometheus.NewGoCollector(),
	)
	return c
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveFavoriteOp records the outcome of a favorites operation.
// A nil Collector is a no-op.
func (c *Collector) ObserveFavoriteOp(op string, err error) {
	if c == nil {
		return
	}
	c.FavoriteOps.WithLabelValues(op, status(err)).Inc()
}

// ObserveBootstrap records a bootstrap outcome such as "declined" or "failed".
func (c *Collector) ObserveBootstrap(outcome string) {
	if c == nil {
		return
	}
	c.BootstrapRuns.WithLabelValues(outcome).Inc()
}

// AddStopsInserted adds n to the inserted-stops counter.
func (c *Collector) AddStopsInserted(n int) {
	if c == nil {
		return
	}
	c.StopsInserted.Add(float64(n))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
