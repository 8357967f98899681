package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
)

// Metrics tracks intake volume and duplicate rejections.
type Metrics struct {
	Created            prometheus.Counter
	Synced             *prometheus.CounterVec
	DuplicatesRejected prometheus.Counter
	CreateDuration     prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Created: f.NewCounter(prometheus.CounterOpts{
			Name: "relief_beneficiaries_created_total",
			Help: "Beneficiaries created through the online form",
		}),
		Synced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_beneficiaries_synced_total",
			Help: "Offline submissions received, by outcome",
		}, []string{"outcome"}),
		DuplicatesRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "relief_beneficiaries_duplicates_rejected_total",
			Help: "Online submissions rejected because the identity already exists",
		}),
		CreateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relief_beneficiary_create_duration_seconds",
			Help:    "Duration of the create transaction including member rows",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementSynced(outcome string) {
	m.Synced.WithLabelValues(outcome).Inc()
}

// ObserveCreate records the duration of a create. Call with time.Now() at the start.
func (m *Metrics) ObserveCreate(start time.Time) {
	m.CreateDuration.Observe(time.Since(start).Seconds())
}
