// Package metrics provides Prometheus instrumentation for gatekeep components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for gatekeep components.
type Registry struct {
	// Rate Limiting Metrics
	RateLimitRequests     *prometheus.CounterVec
	RateLimitAllowed      *prometheus.CounterVec
	RateLimitDenied       *prometheus.CounterVec
	RateLimitFallbacks    *prometheus.CounterVec
	RateLimitStoreLatency *prometheus.HistogramVec
	FallbackEntries       prometheus.Gauge

	// Auth Guard Metrics
	AuthChecks           *prometheus.CounterVec
	AuthLockouts         prometheus.Counter
	AuthEscalations      *prometheus.CounterVec
	AuthProgressiveDelay prometheus.Histogram
	AuthTrackedClients   prometheus.Gauge

	// Reclaimer Metrics
	ReclaimRuns      prometheus.Counter
	ReclaimRemoved   *prometheus.CounterVec
	EmergencyEvicted *prometheus.CounterVec
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry bound to prometheus.DefaultRegisterer.
// It is created on first use so importing this package registers nothing.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg, DefaultNamespace)
}

func newRegistry(reg prometheus.Registerer, namespace string) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		// Rate Limiting Metrics
		RateLimitRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "requests_total",
				Help:      "Total number of rate limit checks",
			},
			[]string{"algorithm", "limiter_name"},
		),

		RateLimitAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "allowed_total",
				Help:      "Total number of allowed requests",
			},
			[]string{"algorithm", "limiter_name"},
		),

		RateLimitDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "denied_total",
				Help:      "Total number of denied requests",
			},
			[]string{"algorithm", "limiter_name"},
		),

		RateLimitFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "fallbacks_total",
				Help:      "Checks answered by the in-memory fallback after a store error",
			},
			[]string{"operation", "limiter_name"},
		),

		RateLimitStoreLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "store_duration_seconds",
				Help:      "Latency of shared store round trips",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "limiter_name"},
		),

		FallbackEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "fallback_entries",
				Help:      "Entries currently held by the in-memory fallback store",
			},
		),

		// Auth Guard Metrics
		AuthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authguard",
				Name:      "checks_total",
				Help:      "Authentication admission checks by outcome",
			},
			[]string{"outcome"},
		),

		AuthLockouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authguard",
				Name:      "lockouts_total",
				Help:      "Number of lockouts started after too many attempts",
			},
		),

		AuthEscalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authguard",
				Name:      "escalations_total",
				Help:      "Suspicion level transitions by resulting level",
			},
			[]string{"level"},
		),

		AuthProgressiveDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authguard",
				Name:      "progressive_delay_seconds",
				Help:      "Delay inserted before processing authentication attempts",
				Buckets:   []float64{0, 2, 5, 10, 30},
			},
		),

		AuthTrackedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "authguard",
				Name:      "tracked_clients",
				Help:      "Clients with attempt state held in memory",
			},
		),

		// Reclaimer Metrics
		ReclaimRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reclaim",
				Name:      "runs_total",
				Help:      "Number of completed reclaimer sweeps",
			},
		),

		ReclaimRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reclaim",
				Name:      "removed_total",
				Help:      "Stale entries removed by the reclaimer",
			},
			[]string{"sweeper"},
		),

		EmergencyEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reclaim",
				Name:      "emergency_evicted_total",
				Help:      "Entries evicted because a local map exceeded its hard cap",
			},
			[]string{"store"},
		),
	}
}
