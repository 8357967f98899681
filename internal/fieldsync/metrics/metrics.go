package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks connectivity as seen by the field device.
type Metrics struct {
	Online      prometheus.Gauge
	Transitions *prometheus.CounterVec
	ProbeFailed prometheus.Counter
	SyncRuns    *prometheus.CounterVec
	Warmed      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Online: f.NewGauge(prometheus.GaugeOpts{
			Name: "relief_field_online",
			Help: "1 while the registry server is considered reachable",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_field_connectivity_transitions_total",
			Help: "Connectivity transitions by direction",
		}, []string{"to"}),
		ProbeFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "relief_field_probe_failures_total",
			Help: "Failed health probes",
		}),
		SyncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_field_sync_runs_total",
			Help: "Background sync tasks by result",
		}, []string{"result"}),
		Warmed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_field_warmed_routes_total",
			Help: "Key routes pre-fetched into the offline cache by result",
		}, []string{"result"}),
	}
}

// SetOnline publishes the current state.
func (m *Metrics) SetOnline(online bool) {
	if online {
		m.Online.Set(1)
		return
	}
	m.Online.Set(0)
}

func (m *Metrics) IncrementTransition(online bool) {
	to := "offline"
	if online {
		to = "online"
	}
	m.Transitions.WithLabelValues(to).Inc()
}
