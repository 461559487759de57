package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts all HTTP requests processed by the service.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests handled by the service.",
		},
		[]string{"path", "method", "status"},
	)

	// HTTPRequestDuration measures how long HTTP handlers take to respond.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of latencies for HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// ProviderOperations tracks operations performed by storage providers.
	ProviderOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_provider_operations_total",
			Help: "Count of cache provider operations.",
		},
		[]string{"provider", "operation", "status"},
	)

	ProviderOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_provider_operation_duration_seconds",
			Help:    "Histogram of latencies for cache provider operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// ExternalRequests counts calls to the upstream site and the enrichment index.
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "external_requests_total",
			Help: "Count of requests to external services.",
		},
		[]string{"target", "status"},
	)

	ExternalRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_request_duration_seconds",
			Help:    "Histogram of external request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// ResolverTierHits counts which tier answered a resolve call.
	ResolverTierHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_resolver_tier_hits_total",
			Help: "Number of resolve calls answered by each tier.",
		},
		[]string{"source"},
	)

	// ResolverFallbacks counts fixture fallbacks by error kind.
	ResolverFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_resolver_fallbacks_total",
			Help: "Number of resolve calls served from the fixture dataset.",
		},
		[]string{"kind"},
	)

	// SingleflightShared counts live fetches whose result was shared with waiters.
	SingleflightShared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ranking_resolver_singleflight_shared_total",
			Help: "Number of resolve calls that joined an in-flight live fetch.",
		},
	)

	// StaleRefreshes counts background refreshes by outcome.
	StaleRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_resolver_stale_refreshes_total",
			Help: "Background stale-while-revalidate refreshes by outcome.",
		},
		[]string{"outcome"},
	)

	NGExclusions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_ng_exclusions_total",
			Help: "Number of ranking items excluded by the NG filter.",
		},
		[]string{"rule"},
	)

	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests seen by the edge gateway by route class and decision.",
		},
		[]string{"class", "decision"},
	)
)

var registerOnce sync.Once

// Register registers all metrics in the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			ProviderOperations,
			ProviderOperationDuration,
			ExternalRequests,
			ExternalRequestDuration,
			ResolverTierHits,
			ResolverFallbacks,
			SingleflightShared,
			StaleRefreshes,
			NGExclusions,
			GatewayRequests,
		)
	})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordProviderOp increments ProviderOperations with result status.
func RecordProviderOp(provider, operation string, err error) {
	ProviderOperations.WithLabelValues(provider, operation, status(err)).Inc()
}

// RecordProviderLatency records the duration of a provider operation.
func RecordProviderLatency(provider, operation string, durationSeconds float64) {
	ProviderOperationDuration.WithLabelValues(provider, operation).Observe(durationSeconds)
}

// RecordExternalRequest records metrics for an external call.
func RecordExternalRequest(target string, err error, durationSeconds float64) {
	ExternalRequests.WithLabelValues(target, status(err)).Inc()
	ExternalRequestDuration.WithLabelValues(target).Observe(durationSeconds)
}

func RecordTierHit(source string) {
	ResolverTierHits.WithLabelValues(source).Inc()
}

func RecordFallback(kind string) {
	ResolverFallbacks.WithLabelValues(kind).Inc()
}

func RecordSingleflightShared() {
	SingleflightShared.Inc()
}

func RecordStaleRefresh(outcome string) {
	StaleRefreshes.WithLabelValues(outcome).Inc()
}

func RecordNGExclusion(rule string, count int) {
	NGExclusions.WithLabelValues(rule).Add(float64(count))
}

func RecordGatewayRequest(class, decision string) {
	GatewayRequests.WithLabelValues(class, decision).Inc()
}
