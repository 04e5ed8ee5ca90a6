package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for sync runs. A nil *Metrics records nothing.
type Metrics struct {
	// Finished runs by final status
	Runs *prometheus.CounterVec

	// Reconciled records by shape and action: upserted, deleted, absent, resolved_on_retry
	Records *prometheus.CounterVec

	// Rejected records by shape and reason
	Rejections *prometheus.CounterVec

	RunDuration prometheus.Histogram

	// Triggers dropped because a run was already in progress, by source
	DroppedTriggers *prometheus.CounterVec

	LastSuccess prometheus.Gauge
}

// New registers every metric on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "address_sync_runs_total",
			Help: "Total sync runs by final status",
		}, []string{"status"}),

		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "address_sync_records_total",
			Help: "Reconciled records by shape and action",
		}, []string{"shape", "action"}),

		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "address_sync_rejections_total",
			Help: "Rejected records by shape and reason",
		}, []string{"shape", "reason"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "address_sync_run_duration_seconds",
			Help:    "Duration of complete sync runs",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}),

		DroppedTriggers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "address_sync_dropped_triggers_total",
			Help: "Triggers dropped because a run was already in progress",
		}, []string{"source"}),

		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "address_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished without a fatal error",
		}),
	}
}

// ObserveRun records the outcome of a finished run.
func (m *Metrics) ObserveRun(status string, success bool, d time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
	if success {
		m.LastSuccess.Set(float64(finishedAt.Unix()))
	}
}

func (m *Metrics) AddRecords(shape, action string, n int) {
	if m != nil && n > 0 {
		m.Records.WithLabelValues(shape, action).Add(float64(n))
	}
}

func (m *Metrics) IncrementRejection(shape, reason string) {
	if m != nil {
		m.Rejections.WithLabelValues(shape, reason).Inc()
	}
}

func (m *Metrics) IncrementDroppedTrigger(source string) {
	if m != nil {
		m.DroppedTriggers.WithLabelValues(source).Inc()
	}
}
