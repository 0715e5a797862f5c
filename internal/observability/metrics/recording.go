package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RecordingMetrics contains Prometheus metrics for the capture, encode and
// mux pipeline
type RecordingMetrics struct {
	registry *prometheus.Registry

	// Generic operation metrics
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec

	// Encoder and container metrics
	packetsTotal       prometheus.Counter
	packetBytesTotal   prometheus.Counter
	packetSize         prometheus.Histogram
	silentPacketsTotal *prometheus.CounterVec

	// Capture metrics
	capturedBytesTotal   prometheus.Counter
	gapFramesTotal       prometheus.Counter
	deviceOverflowsTotal prometheus.Counter

	// Ring buffer metrics
	ringCapacityBytes prometheus.Gauge
	ringFillBytes     prometheus.Gauge
	ringFillRatio     prometheus.Gauge
}

// NewRecordingMetrics creates and registers new recording metrics
func NewRecordingMetrics(registry *prometheus.Registry) (*RecordingMetrics, error) {
	m := &RecordingMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *RecordingMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opusrec_operations_total",
			Help: "Total number of recorder operations",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opusrec_operation_duration_seconds",
			Help:    "Time taken by recorder operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12), // 0.1ms to ~200ms
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opusrec_errors_total",
			Help: "Total number of recorder errors by category",
		},
		[]string{"operation", "category"},
	)

	m.packetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opusrec_packets_muxed_total",
		Help: "Total number of Opus packets written to the container",
	})

	m.packetBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opusrec_packet_bytes_total",
		Help: "Total size of Opus packets written to the container",
	})

	m.packetSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opusrec_packet_size_bytes",
		Help:    "Size of encoded Opus packets",
		Buckets: prometheus.ExponentialBuckets(BucketStart2B, BucketFactor2, BucketCount12), // 2B to 4KB
	})

	m.silentPacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opusrec_silent_packets_total",
			Help: "Total number of near-empty silence packets",
		},
		[]string{"action"}, // forwarded, dropped
	)

	m.capturedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opusrec_captured_bytes_total",
		Help: "Total PCM bytes pushed into the ring buffer, gap fill included",
	})

	m.gapFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opusrec_gap_frames_total",
		Help: "Total capture frames zero-filled for device gaps",
	})

	m.deviceOverflowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opusrec_device_overflows_total",
		Help: "Total overflow notifications from the capture device",
	})

	m.ringCapacityBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opusrec_ring_capacity_bytes",
		Help: "Capacity of the capture ring buffer",
	})

	m.ringFillBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opusrec_ring_fill_bytes",
		Help: "Bytes buffered in the capture ring buffer when last drained",
	})

	m.ringFillRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opusrec_ring_fill_ratio",
		Help: "Ring buffer occupancy between 0 and 1 when last drained",
	})
}

// Describe implements the prometheus.Collector interface
func (m *RecordingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.packetsTotal.Describe(ch)
	m.packetBytesTotal.Describe(ch)
	m.packetSize.Describe(ch)
	m.silentPacketsTotal.Describe(ch)
	m.capturedBytesTotal.Describe(ch)
	m.gapFramesTotal.Describe(ch)
	m.deviceOverflowsTotal.Describe(ch)
	m.ringCapacityBytes.Describe(ch)
	m.ringFillBytes.Describe(ch)
	m.ringFillRatio.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *RecordingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.packetsTotal.Collect(ch)
	m.packetBytesTotal.Collect(ch)
	m.packetSize.Collect(ch)
	m.silentPacketsTotal.Collect(ch)
	m.capturedBytesTotal.Collect(ch)
	m.gapFramesTotal.Collect(ch)
	m.deviceOverflowsTotal.Collect(ch)
	m.ringCapacityBytes.Collect(ch)
	m.ringFillBytes.Collect(ch)
	m.ringFillRatio.Collect(ch)
}

// RecordOperation implements Recorder
func (m *RecordingMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder
func (m *RecordingMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder
func (m *RecordingMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordPacket implements SessionRecorder
func (m *RecordingMetrics) RecordPacket(size int, silent, dropped bool) {
	m.packetSize.Observe(float64(size))
	if silent {
		action := LabelForwarded
		if dropped {
			action = LabelDropped
		}
		m.silentPacketsTotal.WithLabelValues(action).Inc()
	}
	if dropped {
		return
	}
	m.packetsTotal.Inc()
	m.packetBytesTotal.Add(float64(size))
}

// RecordCapture implements SessionRecorder
func (m *RecordingMetrics) RecordCapture(capturedBytes, gapFrames, deviceOverflows uint64) {
	m.capturedBytesTotal.Add(float64(capturedBytes))
	m.gapFramesTotal.Add(float64(gapFrames))
	m.deviceOverflowsTotal.Add(float64(deviceOverflows))
}

// UpdateRingFill implements SessionRecorder
func (m *RecordingMetrics) UpdateRingFill(size, capacity int) {
	m.ringCapacityBytes.Set(float64(capacity))
	m.ringFillBytes.Set(float64(size))
	if capacity > 0 {
		m.ringFillRatio.Set(float64(size) / float64(capacity))
	}
}
