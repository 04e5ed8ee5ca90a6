package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	finished := time.Unix(1_750_000_000, 0)
	m.ObserveRun("DONE", true, 42*time.Second, finished)
	m.ObserveRun("FATAL", false, time.Second, finished.Add(time.Hour))
	m.AddRecords("region", "upserted", 3)
	m.AddRecords("region", "deleted", 0)
	m.IncrementRejection("building", "unresolved_parent")
	m.IncrementDroppedTrigger("cron")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("DONE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("FATAL")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Records.WithLabelValues("region", "upserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("building", "unresolved_parent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedTriggers.WithLabelValues("cron")))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.LastSuccess))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Runs))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("DONE", true, time.Second, time.Now())
		m.AddRecords("flat", "upserted", 1)
		m.IncrementRejection("flat", "decode")
		m.IncrementDroppedTrigger("http")
	})
}
