// Package metrics provides custom Prometheus metrics for the opusrec recorder.
package metrics

// Recorder defines a minimal interface for recording metrics.
// This interface improves testability by allowing components to depend on
// an abstraction rather than concrete metric implementations.
type Recorder interface {
	// RecordOperation records a generic operation with its status.
	// The operation parameter describes what was performed (e.g., "encode", "finalize").
	// The status parameter indicates the outcome (e.g., "success", "error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	// The errorType parameter is the error category (e.g., "audio-buffer", "mux").
	RecordError(operation, errorType string)
}

// SessionRecorder is the full set of metrics reported by a recording session
type SessionRecorder interface {
	Recorder

	// RecordPacket records one encoded packet of size bytes. silent marks a
	// near-empty packet and dropped one that was not written to the container.
	RecordPacket(size int, silent, dropped bool)

	// RecordCapture adds producer counter deltas since the previous call.
	RecordCapture(capturedBytes, gapFrames, deviceOverflows uint64)

	// UpdateRingFill publishes the ring buffer occupancy.
	UpdateRingFill(size, capacity int)
}

// NoOpRecorder is a no-op implementation of SessionRecorder.
// It can be used when metrics recording is not needed.
type NoOpRecorder struct{}

// RecordOperation does nothing.
func (n *NoOpRecorder) RecordOperation(operation, status string) {}

// RecordDuration does nothing.
func (n *NoOpRecorder) RecordDuration(operation string, seconds float64) {}

// RecordError does nothing.
func (n *NoOpRecorder) RecordError(operation, errorType string) {}

// RecordPacket does nothing.
func (n *NoOpRecorder) RecordPacket(size int, silent, dropped bool) {}

// RecordCapture does nothing.
func (n *NoOpRecorder) RecordCapture(capturedBytes, gapFrames, deviceOverflows uint64) {}

// UpdateRingFill does nothing.
func (n *NoOpRecorder) UpdateRingFill(size, capacity int) {}

// NewNoOpRecorder creates a new no-op recorder instance.
func NewNoOpRecorder() *NoOpRecorder {
	return &NoOpRecorder{}
}
