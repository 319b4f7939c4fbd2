package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate (serve mode). Watch for: sudden drops or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95 creeping toward the request timeout.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo call rate per endpoint (geocoding, forecast).
	UpstreamCallsTotal *prometheus.CounterVec

	// Open-Meteo latency per call. Watch for: p99 near the per-endpoint timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Upstream failures by category (timeout, network, http_5xx, malformed, ...).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Classifier decisions by reason (ok, math_expression, no_weather_keyword, no_city_mention).
	QueryClassificationsTotal *prometheus.CounterVec

	// Lookup outcomes (success, not_found, not_us, network_failure, malformed, canceled).
	WeatherLookupsTotal *prometheus.CounterVec

	// LLM tool invocations per tool and status (ok, invalid_input, error).
	ToolInvocationsTotal *prometheus.CounterVec

	// Chat-completion rounds issued by the agent. rounds/turn > 2 usually means the model is looping.
	AgentRoundsTotal prometheus.Counter

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter
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
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"endpoint", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per call)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Open-Meteo API failures by category",
		},
		[]string{"endpoint", "category"},
	)
	QueryClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryClassificationsTotal",
			Help: "Query classifier decisions by reason",
		},
		[]string{"reason"},
	)
	WeatherLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherLookupsTotal",
			Help: "Weather lookups by outcome",
		},
		[]string{"outcome"},
	)
	ToolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolInvocationsTotal",
			Help: "LLM tool invocations by tool and status",
		},
		[]string{"tool", "status"},
	)
	AgentRoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentRoundsTotal",
			Help: "Total number of chat-completion rounds issued by the agent",
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal,
		QueryClassificationsTotal, WeatherLookupsTotal,
		ToolInvocationsTotal, AgentRoundsTotal,
		CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
	)
}

// RecordBreakerTransition matches circuitbreaker.Config.OnStateChange once the
// states are rendered with String().
func RecordBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
