package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the device queue.
type Metrics struct {
	Enqueued     prometheus.Counter
	Submissions  *prometheus.CounterVec
	Pending      prometheus.Gauge
	Failed       prometheus.Gauge
	SyncDuration prometheus.Histogram
	SyncSkipped  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "relief_offline_queue_enqueued_total",
			Help: "Submissions saved to the device queue",
		}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_offline_queue_submissions_total",
			Help: "Queue submissions by classified outcome",
		}, []string{"outcome"}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "relief_offline_queue_pending",
			Help: "Entries waiting to be synced",
		}),
		Failed: f.NewGauge(prometheus.GaugeOpts{
			Name: "relief_offline_queue_failed",
			Help: "Entries that need user attention",
		}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relief_offline_queue_sync_duration_seconds",
			Help:    "Duration of one sync pass",
			Buckets: prometheus.DefBuckets,
		}),
		SyncSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "relief_offline_queue_sync_skipped_total",
			Help: "Sync calls that found another sync in flight",
		}),
	}
}

func (m *Metrics) IncrementSubmission(outcome string) {
	m.Submissions.WithLabelValues(outcome).Inc()
}

// SetDepth publishes the current pending and failed counts.
func (m *Metrics) SetDepth(pending, failed int) {
	m.Pending.Set(float64(pending))
	m.Failed.Set(float64(failed))
}

func (m *Metrics) ObserveSync(start time.Time) {
	m.SyncDuration.Observe(time.Since(start).Seconds())
}
