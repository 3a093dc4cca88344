package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/marmos91/nfs3gw/internal/protocol/rpc/callcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRPCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newRPCMetrics(reg)

	m.RecordRequestStart("nfs", "WRITE")
	assert.InDelta(t, 1, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("nfs", "WRITE")), 0)
	m.RecordRequestEnd("nfs", "WRITE")
	assert.InDelta(t, 0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("nfs", "WRITE")), 0)

	m.RecordRequest("nfs", "WRITE", "NFS3_OK", 3*time.Millisecond)
	m.RecordRequest("nfs", "WRITE", "NFS3_OK", time.Millisecond)
	assert.InDelta(t, 2, testutil.ToFloat64(m.requestsTotal.WithLabelValues("nfs", "WRITE", "NFS3_OK")), 0)

	m.RecordBytesTransferred("write", 4096)
	assert.InDelta(t, 4096, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("write")), 0)

	m.RecordRetransmission("replayed")
	assert.InDelta(t, 1, testutil.ToFloat64(m.retransmissions.WithLabelValues("replayed")), 0)

	m.RecordConnectionAccepted("tcp")
	m.SetActiveConnections(1)
	m.RecordConnectionClosed("tcp")
	assert.InDelta(t, 1, testutil.ToFloat64(m.connectionsClosed.WithLabelValues("tcp")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.activeConnections), 0)
}

func TestCallCacheObserver(t *testing.T) {
	o := newCallCacheObserver(prometheus.NewRegistry())

	o.Miss()
	o.Hit(callcache.Completed)
	o.Hit(callcache.InProgress)
	o.Hit(callcache.Completed)
	o.Evicted()
	o.Size(17)

	assert.InDelta(t, 1, testutil.ToFloat64(o.misses), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(o.hits.WithLabelValues("COMPLETED")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(o.hits.WithLabelValues("IN_PROGRESS")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(o.evictions), 0)
	assert.InDelta(t, 17, testutil.ToFloat64(o.size), 0)
}

func TestWriteObserver(t *testing.T) {
	o := newWriteObserver(prometheus.NewRegistry())

	o.Buffered(100)
	o.Flushed(60, nil)
	o.Flushed(40, errors.New("boom"))
	o.Streams(3)

	assert.InDelta(t, 100, testutil.ToFloat64(o.buffered), 0)
	assert.InDelta(t, 60, testutil.ToFloat64(o.flushed.WithLabelValues("success")), 0)
	assert.InDelta(t, 40, testutil.ToFloat64(o.flushed.WithLabelValues("error")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(o.streams), 0)
}

func TestDisabledConstructors(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry initialised by another test")
	}
	assert.Nil(t, NewCallCacheObserver())
	assert.Nil(t, NewWriteObserver())
	assert.IsType(t, noopRPCMetrics{}, NewRPCMetrics())
}
