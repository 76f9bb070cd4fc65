package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerDurationGrowsMonotonically(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	first := timer.Duration()
	time.Sleep(10 * time.Millisecond)
	second := timer.Duration()

	assert.GreaterOrEqual(t, first, 10*time.Millisecond)
	assert.Greater(t, second, first)
}

func TestTimerObserveDurationRecordsSample(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quorumkv_test_duration_seconds",
		Help:    "test histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(hist)

	var m dto.Metric
	require.NoError(t, hist.Write(&m))
	require.NotNil(t, m.Histogram)
	assert.Equal(t, uint64(1), m.Histogram.GetSampleCount())
	assert.Greater(t, m.Histogram.GetSampleSum(), 0.0)
}

func TestTimerObserveDurationVecRecordsLabelledSample(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quorumkv_test_duration_vec_seconds",
		Help:    "test histogram vec",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "get")

	obs, err := vec.GetMetricWithLabelValues("get")
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, obs.(prometheus.Metric).Write(&m))
	assert.Equal(t, uint64(1), m.Histogram.GetSampleCount())
}
