package metrics

import (
	"github.com/marmos91/nfs3gw/pkg/writemgr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type writeObserver struct {
	buffered prometheus.Counter
	flushed  *prometheus.CounterVec
	streams  prometheus.Gauge
}

// NewWriteObserver returns a writemgr.Observer exporting buffering and
// flush metrics, or nil when metrics are disabled.
func NewWriteObserver() writemgr.Observer {
	if !IsEnabled() {
		return nil
	}
	return newWriteObserver(GetRegistry())
}

func newWriteObserver(reg prometheus.Registerer) *writeObserver {
	return &writeObserver{
		buffered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_buffered_bytes_total",
			Help:      "Bytes accepted into write buffers",
		}),
		flushed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_flushed_bytes_total",
				Help:      "Bytes flushed from write buffers to the store by outcome",
			},
			[]string{"status"},
		),
		streams: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_streams",
			Help:      "Files with an open write stream",
		}),
	}
}

func (o *writeObserver) Buffered(bytes int) { o.buffered.Add(float64(bytes)) }

func (o *writeObserver) Flushed(bytes int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	o.flushed.WithLabelValues(status).Add(float64(bytes))
}

func (o *writeObserver) Streams(n int) { o.streams.Set(float64(n)) }
