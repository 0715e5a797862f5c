package pipeline

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a Session
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stop reasons reported in Status
const (
	StopReasonRequested   = "stop requested"
	StopReasonCanceled    = "context canceled"
	StopReasonMaxDuration = "max duration reached"
	StopReasonSourceEnded = "source finished"
	StopReasonError       = "error"
)

// Status is a point-in-time snapshot of a session, published once per loop
// iteration
type Status struct {
	ID             string    `json:"id"`
	State          State     `json:"state"`
	Output         string    `json:"output,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`

	Frames         uint64 `json:"frames"`
	Packets        uint64 `json:"packets"`
	PacketBytes    uint64 `json:"packet_bytes"`
	SilentPackets  uint64 `json:"silent_packets"`
	DroppedPackets uint64 `json:"dropped_packets"`
	TimecodeNs     int64  `json:"timecode_ns"`

	RingSize        int    `json:"ring_size"`
	RingCapacity    int    `json:"ring_capacity"`
	CapturedBytes   uint64 `json:"captured_bytes"`
	GapFrames       uint64 `json:"gap_frames"`
	DeviceOverflows uint64 `json:"device_overflows"`

	StopReason string `json:"stop_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary is a one-line human readable report of the session
func (s *Status) Summary() string {
	audio := time.Duration(s.TimecodeNs).Round(time.Millisecond)
	line := fmt.Sprintf("%s: %d packets (%d bytes), %s of audio, %d silent, %d dropped",
		s.State, s.Packets, s.PacketBytes, audio, s.SilentPackets, s.DroppedPackets)
	if s.StopReason != "" {
		line += ", " + s.StopReason
	}
	if s.GapFrames > 0 || s.DeviceOverflows > 0 {
		line += fmt.Sprintf(", %d gap frames, %d device overflows", s.GapFrames, s.DeviceOverflows)
	}
	return line
}
