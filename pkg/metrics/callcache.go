package metrics

import (
	"github.com/marmos91/nfs3gw/internal/protocol/rpc/callcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type callCacheObserver struct {
	hits      *prometheus.CounterVec
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// NewCallCacheObserver returns a callcache.Observer exporting hit, miss,
// eviction and size metrics. It returns nil when metrics are disabled,
// which callcache.New treats as a no-op observer.
func NewCallCacheObserver() callcache.Observer {
	if !IsEnabled() {
		return nil
	}
	return newCallCacheObserver(GetRegistry())
}

func newCallCacheObserver(reg prometheus.Registerer) *callCacheObserver {
	return &callCacheObserver{
		hits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callcache_hits_total",
				Help:      "Call cache hits by state of the cached call",
			},
			[]string{"state"},
		),
		misses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callcache_misses_total",
			Help:      "Calls seen for the first time",
		}),
		evictions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callcache_evictions_total",
			Help:      "Entries evicted to honour the capacity",
		}),
		size: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "callcache_entries",
			Help:      "Current number of cached calls",
		}),
	}
}

func (o *callCacheObserver) Hit(state callcache.State) { o.hits.WithLabelValues(state.String()).Inc() }
func (o *callCacheObserver) Miss()                     { o.misses.Inc() }
func (o *callCacheObserver) Evicted()                  { o.evictions.Inc() }
func (o *callCacheObserver) Size(n int)                { o.size.Set(float64(n)) }
