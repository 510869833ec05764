// Package metrics provides Prometheus instrumentation for gatekeep components.
//
// The core limiter, the auth guard and the reclaimer accept an optional
// *Registry. A nil registry disables instrumentation for that component.
//
// # Quick Start
//
//	registry := metrics.New(metrics.Config{
//		Enabled:  true,
//		Registry: prometheus.NewRegistry(),
//	})
//
//	limiter, _ := ratelimit.New(store, ratelimit.WithMetrics(registry))
//	guard := authguard.New(authguard.WithMetrics(registry))
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Available Metrics
//
// ## Rate Limiting
//
//   - gatekeep_ratelimit_requests_total{algorithm,limiter_name}
//   - gatekeep_ratelimit_allowed_total{algorithm,limiter_name}
//   - gatekeep_ratelimit_denied_total{algorithm,limiter_name}
//   - gatekeep_ratelimit_fallbacks_total{operation,limiter_name}
//   - gatekeep_ratelimit_store_duration_seconds{operation,limiter_name}
//   - gatekeep_ratelimit_fallback_entries
//
// ## Auth Guard
//
//   - gatekeep_authguard_checks_total{outcome}: allowed, locked, blocked, disabled
//   - gatekeep_authguard_lockouts_total
//   - gatekeep_authguard_escalations_total{level}
//   - gatekeep_authguard_progressive_delay_seconds
//   - gatekeep_authguard_tracked_clients
//
// ## Reclaimer
//
//   - gatekeep_reclaim_runs_total
//   - gatekeep_reclaim_removed_total{sweeper}
//   - gatekeep_reclaim_emergency_evicted_total{store}
//
// # Configuration
//
//	config := metrics.Config{
//		Enabled:   true,                                // Enable/disable metrics
//		Registry:  prometheus.DefaultRegisterer,        // Custom registry
//		Namespace: "myapp",                             // Override default "gatekeep"
//		Labels:    prometheus.Labels{"region": "eu-1"}, // Constant labels
//	}
package metrics
