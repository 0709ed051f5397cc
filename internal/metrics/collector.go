// Package metrics exposes pipeline and HTTP activity as Prometheus metrics.
//
// A Collector owns its registry, so several collectors (one per test, for
// instance) never collide on metric names.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/phrazzld/chatrelay/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values for requestsTotal.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCacheHit = "cache_hit"
)

// Collector turns pipeline events into Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	queuedTotal        prometheus.Counter
	attemptsTotal      prometheus.Counter
	retriesTotal       *prometheus.CounterVec
	rateLimitWaits     prometheus.Counter
	rateLimitWaitTime  prometheus.Histogram
	attemptDuration    *prometheus.HistogramVec
	tokensUsed         prometheus.Counter
	statsPersisted     prometheus.Counter
	httpRequestsTotal  *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec

	logger *slog.Logger
}

var _ events.EventHandler = (*Collector)(nil)

// NewCollector creates a collector registering its metrics under namespace
// in a fresh registry, together with the Go runtime and process collectors.
func NewCollector(namespace string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		logger:   logger.With("component", "metrics"),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Settled generation requests by outcome",
		}, []string{"outcome", "kind"}),

		queuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_queued_total",
			Help:      "Generation requests that missed the cache and were queued",
		}),

		attemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Network calls made to the generation API",
		}),

		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries scheduled after transient failures",
		}, []string{"kind"}),

		rateLimitWaits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Times the drain loop waited for the rate window",
		}),

		rateLimitWaitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the rate window",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60},
		}),

		attemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Latency of generation API calls",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"result"}),

		tokensUsed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_used_total",
			Help:      "Tokens reported by successful calls",
		}),

		statsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_persisted_total",
			Help:      "Times the rolling statistics were written to the store",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		httpRequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// HandleEvent implements events.EventHandler.
func (c *Collector) HandleEvent(_ context.Context, ev *events.Event) error {
	switch ev.Type {
	case events.RequestQueued:
		c.queuedTotal.Inc()
	case events.RequestCacheHit:
		c.requestsTotal.WithLabelValues(OutcomeCacheHit, "").Inc()
	case events.RequestRateLimited:
		c.rateLimitWaits.Inc()
		c.rateLimitWaitTime.Observe(ev.Delay.Seconds())
	case events.RequestAttempt:
		c.attemptsTotal.Inc()
	case events.RequestRetryScheduled:
		c.retriesTotal.WithLabelValues(ev.Kind).Inc()
		c.attemptDuration.WithLabelValues(OutcomeFailure).Observe(ev.Latency.Seconds())
	case events.RequestSucceeded:
		c.requestsTotal.WithLabelValues(OutcomeSuccess, "").Inc()
		c.attemptDuration.WithLabelValues(OutcomeSuccess).Observe(ev.Latency.Seconds())
		if ev.Tokens > 0 {
			c.tokensUsed.Add(float64(ev.Tokens))
		}
	case events.RequestFailed:
		c.requestsTotal.WithLabelValues(OutcomeFailure, ev.Kind).Inc()
		c.attemptDuration.WithLabelValues(OutcomeFailure).Observe(ev.Latency.Seconds())
	case events.StatsPersisted:
		c.statsPersisted.Inc()
	default:
		c.logger.Debug("ignoring unknown event type", "event_type", ev.Type)
	}
	return nil
}

// RecordHTTPRequest records one served HTTP request. route is the matched
// route pattern, not the raw path, to keep label cardinality bounded.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
