package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twweather/tempmap/internal/health"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// CWA dataset fetch rate by outcome. Watch for: error vs success ratio.
	CWAFetchesTotal *prometheus.CounterVec

	// CWA dataset fetch latency. Watch for: p95 > 2s (upstream degradation).
	CWAFetchDuration *prometheus.HistogramVec

	// Retry attempts for CWA fetches. High retries = unstable upstream.
	CWAFetchRetriesTotal prometheus.Counter

	// Refreshes by trigger (api, scheduler, startup) and outcome.
	RefreshesTotal *prometheus.CounterVec

	// Refresh requests that piggybacked on an in-flight pipeline run.
	RefreshCoalescedTotal prometheus.Counter

	// Rows written to the store per refresh.
	RowsWrittenTotal prometheus.Counter

	// Extracted readings dropped before the store, by reason
	// (non_numeric, invalid).
	RowsDiscardedTotal *prometheus.CounterVec

	// Read-cache hits by cache type.
	CacheHitsTotal *prometheus.CounterVec

	// Read-cache operation failures by operation (get, set, delete).
	CacheErrorsTotal *prometheus.CounterVec

	// Rate limit denials on the refresh route.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state transitions for the CWA client.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Current circuit breaker state (0 closed, 1 half-open, 2 open).
	CircuitBreakerState *prometheus.GaugeVec

	refreshWindowGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	CWAFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cwaFetchesTotal",
			Help: "Total number of CWA dataset fetch attempts",
		},
		[]string{"status"},
	)
	CWAFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cwaFetchDurationSeconds",
			Help:    "CWA dataset fetch latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	CWAFetchRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cwaFetchRetriesTotal",
			Help: "Total number of retry attempts for CWA dataset fetches",
		},
	)
	RefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refreshesTotal",
			Help: "Total number of dataset refresh runs by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)
	RefreshCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "refreshCoalescedTotal",
			Help: "Refresh requests served by an already-running pipeline run",
		},
	)
	RowsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rowsWrittenTotal",
			Help: "Total number of temperature rows written to the store",
		},
	)
	RowsDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowsDiscardedTotal",
			Help: "Extracted readings dropped before the store, by reason",
		},
		[]string{"reason"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of read-cache hits",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Read-cache operation failures by operation",
		},
		[]string{"operation"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Current circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		CWAFetchesTotal, CWAFetchDuration, CWAFetchRetriesTotal,
		RefreshesTotal, RefreshCoalescedTotal,
		RowsWrittenTotal, RowsDiscardedTotal,
		CacheHitsTotal, CacheErrorsTotal,
		RateLimitDeniedTotal,
		CircuitBreakerTransitionsTotal, CircuitBreakerState,
	)
}

// RegisterRefreshWindowGauges registers load and denial gauges for the
// rate-limited refresh route. Call from main after config load with
// cfg.OverloadWindow.
func RegisterRefreshWindowGauges(window time.Duration) {
	refreshWindowGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "refreshRequestsInWindow",
					Help: "Requests hitting the refresh route in the sliding window",
				},
				func() float64 { return float64(health.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "refreshRejectsInWindow",
					Help: "429 responses on the refresh route in the sliding window",
				},
				func() float64 { return float64(health.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition records one breaker state change.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerStateGauge sets the current breaker state gauge.
func SetCircuitBreakerStateGauge(component string, state float64) {
	CircuitBreakerState.WithLabelValues(component).Set(state)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
