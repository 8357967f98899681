package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Grouping strategies.
const (
	StrategyExact = "exact"
	StrategyFuzzy = "fuzzy"
)

// Metrics covers the duplicate views and the merge engine.
type Metrics struct {
	GroupingDuration *prometheus.HistogramVec
	GroupsFound      *prometheus.CounterVec
	Merges           *prometheus.CounterVec
	RecordsRemoved   prometheus.Counter
	RowsReassigned   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GroupingDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relief_dedup_grouping_duration_seconds",
			Help:    "Time to build one page of duplicate groups",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"strategy"}),
		GroupsFound: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_dedup_groups_found_total",
			Help: "Duplicate groups computed, before pagination",
		}, []string{"strategy"}),
		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_dedup_merges_total",
			Help: "Merge transactions by outcome",
		}, []string{"outcome"}),
		RecordsRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "relief_dedup_records_removed_total",
			Help: "Records deleted by merges",
		}),
		RowsReassigned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relief_dedup_rows_reassigned_total",
			Help: "Sibling, child and relative rows moved to a kept record",
		}, []string{"kind"}),
	}
}

// ObserveGrouping records the duration of a grouping request. Call with time.Now()
// at the start.
func (m *Metrics) ObserveGrouping(strategy string, start time.Time, groups int) {
	m.GroupingDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	m.GroupsFound.WithLabelValues(strategy).Add(float64(groups))
}

// ObserveMerge records a committed merge.
func (m *Metrics) ObserveMerge(removed, siblings, children, relatives int) {
	m.Merges.WithLabelValues("committed").Inc()
	m.RecordsRemoved.Add(float64(removed))
	m.RowsReassigned.WithLabelValues("siblings").Add(float64(siblings))
	m.RowsReassigned.WithLabelValues("children").Add(float64(children))
	m.RowsReassigned.WithLabelValues("relatives").Add(float64(relatives))
}

func (m *Metrics) IncrementMergeFailed() {
	m.Merges.WithLabelValues("failed").Inc()
}
