package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)
	require.NotNil(t, m)

	m.FramesProcessed.Inc()
	m.CalibratingDevs.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesProcessed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CalibratingDevs))

	// A second set on a fresh registry must not collide
	assert.NotPanics(t, func() { NewWithRegistry(prometheus.NewRegistry()) })
}

func TestObserveDetection(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry)

	m.ObserveDetection("normal", false, 0.9)
	m.ObserveDetection("alarm", true, 0.7)
	m.ObserveDetection("alarm", false, 0.95)
	m.ObserveDetection("calibrating", false, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Detections.WithLabelValues("normal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Detections.WithLabelValues("alarm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Detections.WithLabelValues("calibrating")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForcedFaults))

	families, err := registry.Gather()
	require.NoError(t, err)
	var observed uint64
	for _, mf := range families {
		if mf.GetName() == "anomaly_prediction_confidence" {
			observed = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(3), observed)
}
