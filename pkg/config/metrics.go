package config

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/protocol/rpc/callcache"
	"github.com/marmos91/nfs3gw/pkg/metrics"
	"github.com/marmos91/nfs3gw/pkg/writemgr"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// RPC records per-procedure and per-connection metrics (never nil)
	RPC metrics.RPCMetrics

	// CallCache and Writes observe the call cache and the write manager.
	// Both are nil when metrics are disabled, which their consumers accept.
	CallCache callcache.Observer
	Writes    writemgr.Observer
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled the global Prometheus registry is initialized and
// every collector is backed by it. Otherwise the collectors are no-ops and
// Server is nil.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	result := &MetricsResult{
		RPC:       metrics.NewRPCMetrics(),
		CallCache: metrics.NewCallCacheObserver(),
		Writes:    metrics.NewWriteObserver(),
	}

	if cfg.Metrics.Enabled {
		result.Server = metrics.NewServer(metrics.ServerConfig{
			Address: fmt.Sprintf(":%d", cfg.Metrics.Port),
		})
	}

	return result
}
