// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation type constants used as the operation label.
const (
	// OpEncode represents encoding one frame.
	OpEncode = "encode"
	// OpMux represents appending one packet to the container.
	OpMux = "mux"
	// OpDrain represents one drain of the ring buffer by the consumer loop.
	OpDrain = "drain"
	// OpCapture represents the producer side of the ring buffer.
	OpCapture = "capture"
	// OpDeviceStart represents starting the capture device.
	OpDeviceStart = "device_start"
	// OpDeviceStop represents stopping the capture device.
	OpDeviceStop = "device_stop"
	// OpFinalize represents finalizing the container.
	OpFinalize = "finalize"
	// OpSession represents a whole recording session.
	OpSession = "session"
)

// Label value constants used for metric labels.
const (
	// StatusSuccess is the status label for successful operations.
	StatusSuccess = "success"
	// StatusError is the status label for failed operations.
	StatusError = "error"
	// LabelForwarded is the action label for silent packets written to the container.
	LabelForwarded = "forwarded"
	// LabelDropped is the action label for silent packets skipped.
	LabelDropped = "dropped"
)

// Histogram bucket configuration constants.
const (
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~400ms range).
	BucketStart100us = 0.0001
	// BucketStart2B is the starting bucket for packet size histograms (2B to 4KB range).
	BucketStart2B = 2.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// Time constants.
const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second
)
