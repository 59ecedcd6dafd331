// Package metric collects gateway-level Prometheus metrics by subscribing to
// the event bus, and serves them over /metrics.
package metric

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weavegql/weave/internal/eventbus"
	"github.com/weavegql/weave/internal/events"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	UpstreamRequests  *prometheus.CounterVec
	UpstreamDuration  *prometheus.HistogramVec
	CacheLookups      *prometheus.CounterVec
	BatchWindowSize   prometheus.Histogram
	DedupJoins        prometheus.Counter
	GraphQLRequests   *prometheus.CounterVec
	GraphQLDuration   prometheus.Histogram

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Physical upstream HTTP calls by method and outcome",
		}, []string{"method", "status"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weave",
			Subsystem: "upstream",
			Name:      "duration_seconds",
			Help:      "Upstream HTTP call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "httpcache",
			Name:      "lookups_total",
			Help:      "HTTP cache probes by result",
		}, []string{"result"}),

		BatchWindowSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weave",
			Subsystem: "dataloader",
			Name:      "batch_window_size",
			Help:      "Logical callers coalesced per batch window",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),

		DedupJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "dataloader",
			Name:      "dedup_joins_total",
			Help:      "Logical calls that joined an in-flight physical call",
		}),

		GraphQLRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "graphql",
			Name:      "requests_total",
			Help:      "GraphQL operations by type and outcome",
		}, []string{"operation", "status"}),

		GraphQLDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weave",
			Subsystem: "graphql",
			Name:      "duration_seconds",
			Help:      "GraphQL execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.UpstreamRequests, m.UpstreamDuration, m.CacheLookups,
		m.BatchWindowSize, m.DedupJoins, m.GraphQLRequests, m.GraphQLDuration,
	)
	return m
}

// Register attaches event-bus subscribers feeding the collectors. It returns
// a function detaching them.
func (m *Metrics) Register() (unsubscribe func()) {
	var unsubs []func()
	unsubs = append(unsubs, eventbus.Subscribe(func(_ context.Context, e events.UpstreamFinish) {
		status := "ok"
		if e.Err != nil {
			status = "error"
		}
		m.UpstreamRequests.WithLabelValues(e.Method, status).Inc()
		m.UpstreamDuration.WithLabelValues(e.Method).Observe(e.Duration.Seconds())
	}))
	unsubs = append(unsubs, eventbus.Subscribe(func(_ context.Context, e events.CacheLookup) {
		result := "miss"
		if e.Hit {
			result = "hit"
		}
		m.CacheLookups.WithLabelValues(result).Inc()
	}))
	unsubs = append(unsubs, eventbus.Subscribe(func(_ context.Context, e events.BatchWindowClose) {
		m.BatchWindowSize.Observe(float64(e.Size))
	}))
	unsubs = append(unsubs, eventbus.Subscribe(func(_ context.Context, e events.DedupJoin) {
		m.DedupJoins.Inc()
	}))
	unsubs = append(unsubs, eventbus.Subscribe(func(_ context.Context, e events.GraphQLFinish) {
		status := "ok"
		if len(e.Errors) > 0 {
			status = "error"
		}
		m.GraphQLRequests.WithLabelValues(e.OperationType, status).Inc()
		m.GraphQLDuration.Observe(e.Duration.Seconds())
	}))
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
