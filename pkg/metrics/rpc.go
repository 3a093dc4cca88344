package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RPCMetrics observes RPC traffic. Implementations must be safe for
// concurrent use.
type RPCMetrics interface {
	// RecordRequest records a completed call. status is the protocol
	// status name, e.g. "NFS3_OK" or "PROC_UNAVAIL".
	RecordRequest(program, procedure, status string, duration time.Duration)

	RecordRequestStart(program, procedure string)
	RecordRequestEnd(program, procedure string)

	// RecordBytesTransferred counts READ and WRITE payload bytes.
	RecordBytesTransferred(direction string, bytes int64)

	// RecordRetransmission counts a call answered from the call cache
	// (replayed) or dropped because it was still running (dropped).
	RecordRetransmission(outcome string)

	SetActiveConnections(count int32)
	RecordConnectionAccepted(transport string)
	RecordConnectionClosed(transport string)
}

type rpcMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	requestsInFlight    *prometheus.GaugeVec
	bytesTransferred    *prometheus.CounterVec
	retransmissions     *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	connectionsAccepted *prometheus.CounterVec
	connectionsClosed   *prometheus.CounterVec
}

// NewRPCMetrics returns Prometheus-backed RPC metrics, or a no-op
// implementation when the registry is not initialised.
func NewRPCMetrics() RPCMetrics {
	if !IsEnabled() {
		return NewNoopRPCMetrics()
	}
	return newRPCMetrics(GetRegistry())
}

func newRPCMetrics(reg prometheus.Registerer) *rpcMetrics {
	return &rpcMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of RPC calls by program, procedure and status",
			},
			[]string{"program", "procedure", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_request_duration_seconds",
				Help:      "Duration of RPC calls in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"program", "procedure"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rpc_requests_in_flight",
				Help:      "Current number of RPC calls being processed",
			},
			[]string{"program", "procedure"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nfs_bytes_transferred_total",
				Help:      "Total READ and WRITE payload bytes",
			},
			[]string{"direction"},
		),
		retransmissions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_retransmissions_total",
				Help:      "Retransmitted non-idempotent calls by outcome",
			},
			[]string{"outcome"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Current number of open stream connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_accepted_total",
				Help:      "Total number of connections accepted",
			},
			[]string{"transport"},
		),
		connectionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_closed_total",
				Help:      "Total number of connections closed",
			},
			[]string{"transport"},
		),
	}
}

func (m *rpcMetrics) RecordRequest(program, procedure, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(program, procedure, status).Inc()
	m.requestDuration.WithLabelValues(program, procedure).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordRequestStart(program, procedure string) {
	m.requestsInFlight.WithLabelValues(program, procedure).Inc()
}

func (m *rpcMetrics) RecordRequestEnd(program, procedure string) {
	m.requestsInFlight.WithLabelValues(program, procedure).Dec()
}

func (m *rpcMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *rpcMetrics) RecordRetransmission(outcome string) {
	m.retransmissions.WithLabelValues(outcome).Inc()
}

func (m *rpcMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *rpcMetrics) RecordConnectionAccepted(transport string) {
	m.connectionsAccepted.WithLabelValues(transport).Inc()
}

func (m *rpcMetrics) RecordConnectionClosed(transport string) {
	m.connectionsClosed.WithLabelValues(transport).Inc()
}

type noopRPCMetrics struct{}

// NewNoopRPCMetrics returns an RPCMetrics that records nothing.
func NewNoopRPCMetrics() RPCMetrics { return noopRPCMetrics{} }

func (noopRPCMetrics) RecordRequest(string, string, string, time.Duration) {}
func (noopRPCMetrics) RecordRequestStart(string, string)                   {}
func (noopRPCMetrics) RecordRequestEnd(string, string)                     {}
func (noopRPCMetrics) RecordBytesTransferred(string, int64)                {}
func (noopRPCMetrics) RecordRetransmission(string)                         {}
func (noopRPCMetrics) SetActiveConnections(int32)                          {}
func (noopRPCMetrics) RecordConnectionAccepted(string)                     {}
func (noopRPCMetrics) RecordConnectionClosed(string)                       {}
