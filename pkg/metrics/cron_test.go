package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.Finished("position-retention", 250*time.Millisecond, nil)
	m.Finished("position-retention", time.Second, errors.New("boom"))
	m.Skipped("position-retention")
	m.Skipped("")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	runs := family(mfs, "hostelsync_cron_job_runs_total")
	require.NotNil(t, runs)
	assert.Equal(t, 1.0, counterWith(runs, map[string]string{"job": "position-retention", "outcome": OutcomeSuccess}))
	assert.Equal(t, 1.0, counterWith(runs, map[string]string{"job": "position-retention", "outcome": OutcomeFailure}))
	assert.Equal(t, 1.0, counterWith(runs, map[string]string{"job": "position-retention", "outcome": OutcomeSkipped}))
	assert.Equal(t, 1.0, counterWith(runs, map[string]string{"job": "unknown", "outcome": OutcomeSkipped}))

	duration := family(mfs, "hostelsync_cron_job_duration_seconds")
	require.NotNil(t, duration)
	require.Len(t, duration.GetMetric(), 1)
	assert.Equal(t, uint64(2), duration.GetMetric()[0].GetHistogram().GetSampleCount())

	last := family(mfs, "hostelsync_cron_job_last_success_timestamp_seconds")
	require.NotNil(t, last)
	assert.Greater(t, last.GetMetric()[0].GetGauge().GetValue(), 0.0)
}

func TestCronJobMetricsNilIsNoop(t *testing.T) {
	m := NewCronJobMetrics(nil)
	m.Finished("job", time.Second, nil)
	m.Skipped("job")

	var nilMetrics *CronJobMetrics
	nilMetrics.Finished("job", time.Second, errors.New("x"))
	nilMetrics.Skipped("job")
}

func family(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterWith(mf *dto.MetricFamily, labels map[string]string) float64 {
	for _, metric := range mf.GetMetric() {
		matched := 0
		for _, pair := range metric.GetLabel() {
			if labels[pair.GetName()] == pair.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			return metric.GetCounter().GetValue()
		}
	}
	return -1
}
