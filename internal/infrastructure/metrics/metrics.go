package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics
var (
	// Dispatch counters
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmrelay",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Total dispatched provider operations",
		},
		[]string{"provider", "operation", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmrelay",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Provider operation duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "operation"},
	)

	// Cache lookups
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmrelay",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by operation and result",
		},
		[]string{"operation", "result"},
	)

	// Selection outcomes
	SelectionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmrelay",
			Subsystem: "selection",
			Name:      "resolutions_total",
			Help:      "Configuration resolutions by outcome",
		},
		[]string{"mode", "outcome"},
	)

	// Token counters
	TokensPromptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmrelay",
			Subsystem: "dispatch",
			Name:      "tokens_prompt_total",
			Help:      "Total prompt tokens consumed",
		},
		[]string{"provider", "model"},
	)

	TokensCompletionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmrelay",
			Subsystem: "dispatch",
			Name:      "tokens_completion_total",
			Help:      "Total completion tokens generated",
		},
		[]string{"provider", "model"},
	)

	// Provider errors
	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmrelay",
			Subsystem: "dispatch",
			Name:      "provider_errors_total",
			Help:      "Total provider call failures",
		},
		[]string{"provider", "error_type"},
	)

	// Active streaming connections gauge
	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "llmrelay",
			Subsystem: "dispatch",
			Name:      "active_streams",
			Help:      "Currently active streaming connections",
		},
		[]string{"provider"},
	)

	// HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Catalog size per provider
	CatalogModels = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "llmrelay",
			Subsystem: "catalog",
			Name:      "models",
			Help:      "Models in the catalog per provider after the last sync",
		},
		[]string{"provider"},
	)
)

// RecordDispatch records one provider operation with its outcome.
func RecordDispatch(provider, operation, status string, durationSec float64) {
	DispatchTotal.WithLabelValues(provider, operation, status).Inc()
	DispatchDuration.WithLabelValues(provider, operation).Observe(durationSec)
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(operation string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(operation, result).Inc()
}

// RecordSelection records a configuration resolution outcome.
func RecordSelection(mode, outcome string) {
	SelectionTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordTokens records token usage for a completed call.
func RecordTokens(provider, model string, promptTokens, completionTokens int) {
	TokensPromptTotal.WithLabelValues(provider, model).Add(float64(promptTokens))
	TokensCompletionTotal.WithLabelValues(provider, model).Add(float64(completionTokens))
}

// RecordProviderError records a provider call failure.
func RecordProviderError(provider, errorType string) {
	ProviderErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// IncrementActiveStreams increments the active streams gauge.
func IncrementActiveStreams(provider string) {
	ActiveStreams.WithLabelValues(provider).Inc()
}

// DecrementActiveStreams decrements the active streams gauge.
func DecrementActiveStreams(provider string) {
	ActiveStreams.WithLabelValues(provider).Dec()
}

// RecordHTTPRequest records an HTTP request with duration.
func RecordHTTPRequest(method, endpoint, status string, durationSec float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint, status).Observe(durationSec)
}

// SetCatalogModels sets the synced model count for a provider.
func SetCatalogModels(provider string, count int) {
	CatalogModels.WithLabelValues(provider).Set(float64(count))
}
