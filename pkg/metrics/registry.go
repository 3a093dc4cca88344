// Package metrics provides Prometheus metrics for the gateway.
//
// All metrics are optional. Until InitRegistry is called every
// constructor returns a no-op implementation, so components can be built
// with or without metrics.
//
//	metrics.InitRegistry()
//	rpcMetrics := metrics.NewRPCMetrics()
//	cache := callcache.New(0, metrics.NewCallCacheObserver())
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// namespace prefixes every metric name.
const namespace = "nfs3gw"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global registry, or nil when metrics are off.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
