package operator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/polarsignals/tsflow/transform"
)

// Metrics are shared by every operator bound with them. They are labeled
// by transform.
type Metrics struct {
	rowsPushed     *prometheus.CounterVec
	rowsDropped    *prometheus.CounterVec
	groups         *prometheus.CounterVec
	rowsEmitted    *prometheus.CounterVec
	degradedGroups *prometheus.CounterVec
	barrierWait    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	labels := []string{"transform"}
	return &Metrics{
		rowsPushed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tsflow_operator_rows_pushed_total",
			Help: "Number of input rows pushed to operators",
		}, labels),
		rowsDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tsflow_operator_rows_dropped_total",
			Help: "Number of input rows dropped because their timestamp was null",
		}, labels),
		groups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tsflow_operator_groups_total",
			Help: "Number of groups processed",
		}, labels),
		rowsEmitted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tsflow_operator_rows_emitted_total",
			Help: "Number of output rows emitted",
		}, labels),
		degradedGroups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tsflow_operator_degraded_groups_total",
			Help: "Number of groups emitted without derived values because the computation failed",
		}, labels),
		barrierWait: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tsflow_operator_barrier_wait_seconds",
			Help:    "Time the processing worker waited for the other workers to stop pushing",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, labels),
	}
}

type transformMetrics struct {
	rowsPushed     prometheus.Counter
	rowsDropped    prometheus.Counter
	groups         prometheus.Counter
	rowsEmitted    prometheus.Counter
	degradedGroups prometheus.Counter
	barrierWait    prometheus.Observer
}

func (m *Metrics) forTransform(kind transform.Kind) *transformMetrics {
	k := string(kind)
	return &transformMetrics{
		rowsPushed:     m.rowsPushed.WithLabelValues(k),
		rowsDropped:    m.rowsDropped.WithLabelValues(k),
		groups:         m.groups.WithLabelValues(k),
		rowsEmitted:    m.rowsEmitted.WithLabelValues(k),
		degradedGroups: m.degradedGroups.WithLabelValues(k),
		barrierWait:    m.barrierWait.WithLabelValues(k),
	}
}
