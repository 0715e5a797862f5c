package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *RecordingMetrics {
	t.Helper()
	m, err := NewRecordingMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestNewRecordingMetricsRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewRecordingMetrics(registry)
	require.NoError(t, err)
	_, err = NewRecordingMetrics(registry)
	assert.Error(t, err)
}

func TestRecordPacket(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	m.RecordPacket(120, false, false)
	m.RecordPacket(2, true, false)
	m.RecordPacket(1, true, true)

	assert.InDelta(t, 2, testutil.ToFloat64(m.packetsTotal), 0)
	assert.InDelta(t, 122, testutil.ToFloat64(m.packetBytesTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.silentPacketsTotal.WithLabelValues(LabelForwarded)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.silentPacketsTotal.WithLabelValues(LabelDropped)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.packetSize))
}

func TestRecordCaptureAccumulatesDeltas(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	m.RecordCapture(1000, 0, 0)
	m.RecordCapture(500, 10, 1)

	assert.InDelta(t, 1500, testutil.ToFloat64(m.capturedBytesTotal), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.gapFramesTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.deviceOverflowsTotal), 0)
}

func TestUpdateRingFill(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	m.UpdateRingFill(250, 1000)

	assert.InDelta(t, 1000, testutil.ToFloat64(m.ringCapacityBytes), 0)
	assert.InDelta(t, 250, testutil.ToFloat64(m.ringFillBytes), 0)
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.ringFillRatio), 1e-9)

	m.UpdateRingFill(0, 0)
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.ringFillRatio), 1e-9, "zero capacity keeps the last ratio")
}

func TestRecordOperationDurationAndError(t *testing.T) {
	t.Parallel()

	m := newTestMetrics(t)
	m.RecordOperation(OpFinalize, StatusSuccess)
	m.RecordDuration(OpEncode, 0.0004)
	m.RecordError(OpMux, "mux")

	assert.InDelta(t, 1, testutil.ToFloat64(m.operationsTotal.WithLabelValues(OpFinalize, StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errorsTotal.WithLabelValues(OpMux, "mux")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.operationDuration))
}
