package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Example_basicUsage demonstrates basic metrics configuration.
func Example_basicUsage() {
	// Create a separate registry for this example
	registry := NewRegistry(prometheus.NewRegistry())

	registry.RateLimitRequests.WithLabelValues("token_bucket", "api").Add(10)
	registry.RateLimitAllowed.WithLabelValues("token_bucket", "api").Add(8)
	registry.RateLimitDenied.WithLabelValues("token_bucket", "api").Add(2)

	fmt.Println(testutil.ToFloat64(registry.RateLimitDenied.WithLabelValues("token_bucket", "api")))

	// Output:
	// 2
}

// Example_customNamespace demonstrates overriding the metric namespace.
func Example_customNamespace() {
	reg := prometheus.NewRegistry()
	registry := New(Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: "myapp",
	})

	registry.AuthLockouts.Inc()

	families, _ := reg.Gather()
	for _, mf := range families {
		if mf.GetName() == "myapp_authguard_lockouts_total" {
			fmt.Println(mf.GetName(), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}

	// Output:
	// myapp_authguard_lockouts_total 1
}
