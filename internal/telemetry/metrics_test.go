package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMetricsClient(t *testing.T) {
	reg := prometheus.NewRegistry()
	client, err := NewDefaultMetricsClient(reg)
	require.NoError(t, err)

	client.IncrementTaskCounter("video", "success")
	client.IncrementTaskCounter("video", "success")
	client.IncrementTaskCounter("video", "validation")
	client.SetConsecutiveFailures("video", 2)
	client.IncrementQueuePushCounter("email")
	client.ObserveTaskDuration("video", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(client.metrics.TaskCounter.WithLabelValues("video", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(client.metrics.TaskCounter.WithLabelValues("video", "validation")))
	assert.Equal(t, 2.0, testutil.ToFloat64(client.metrics.ConsecutiveFailures.WithLabelValues("video")))
	assert.Equal(t, 1.0, testutil.ToFloat64(client.metrics.QueuePushCounter.WithLabelValues("email")))
}

func TestDefaultMetricsClientDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewDefaultMetricsClient(reg)
	require.NoError(t, err)

	_, err = NewDefaultMetricsClient(reg)
	assert.Error(t, err)
}
