package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sources of a proxied response.
const (
	SourceNetwork  = "network"
	SourceHit      = "hit"
	SourceShell    = "shell"
	SourceFallback = "fallback"
	SourceAborted  = "aborted"
)

// Metrics tracks how the proxy answered requests.
type Metrics struct {
	Responses     *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	CachePurged   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Responses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_offline_cache_responses_total",
			Help: "Proxied responses by cache and source",
		}, []string{"cache", "source"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relief_offline_cache_fetch_duration_seconds",
			Help:    "Upstream fetch latency, including failed attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache"}),
		CachePurged: f.NewCounter(prometheus.CounterOpts{
			Name: "relief_offline_cache_purged_total",
			Help: "Stale caches dropped on activate",
		}),
	}
}

func (m *Metrics) IncrementResponse(cache, source string) {
	m.Responses.WithLabelValues(cache, source).Inc()
}

func (m *Metrics) ObserveFetch(cache string, start time.Time) {
	m.FetchDuration.WithLabelValues(cache).Observe(time.Since(start).Seconds())
}
