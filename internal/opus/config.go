// Package opus wraps the Opus codec as a validated, fixed-frame stream
// encoder and builds the OpusHead identification header used as codec
// private data in Matroska/WebM.
package opus

import (
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/opusrec/internal/errors"
)

// Validation sentinels. Errors returned by Validate wrap exactly one of these.
var (
	ErrInvalidSampleRate    = errors.NewStd("invalid sample rate")
	ErrInvalidChannelCount  = errors.NewStd("invalid channel count")
	ErrInvalidFrameDuration = errors.NewStd("invalid frame duration")
	ErrInvalidBitrate       = errors.NewStd("invalid bitrate")
	ErrInvalidComplexity    = errors.NewStd("invalid complexity")
)

// Parameter ranges accepted by the codec
const (
	MinBitrate    = 6000
	MaxBitrate    = 510000
	MinComplexity = 0
	MaxComplexity = 10
)

// SupportedSampleRates lists the input rates the codec accepts, in Hz
var SupportedSampleRates = []int{8000, 12000, 16000, 24000, 48000}

// SupportedFrameDurations lists the frame durations in microseconds
var SupportedFrameDurations = []int{2500, 5000, 10000, 20000, 40000, 60000, 80000, 100000, 120000}

// EncoderConfig describes one encoder instance. It is immutable after
// NewStreamEncoder accepts it.
type EncoderConfig struct {
	SampleRate    int // Hz
	Channels      int // 1 or 2
	FrameDuration int // microseconds
	Bitrate       int // bits per second
	Complexity    int // 0-10
}

// Validate checks every parameter and reports the first violation. No codec
// resources are touched.
func (c EncoderConfig) Validate() error {
	var err error
	switch {
	case !slices.Contains(SupportedSampleRates, c.SampleRate):
		err = fmt.Errorf("%w: %d Hz, supported rates are %v", ErrInvalidSampleRate, c.SampleRate, SupportedSampleRates)
	case c.Channels != 1 && c.Channels != 2:
		err = fmt.Errorf("%w: %d, must be 1 or 2", ErrInvalidChannelCount, c.Channels)
	case !slices.Contains(SupportedFrameDurations, c.FrameDuration):
		err = fmt.Errorf("%w: %d us, supported durations are %v", ErrInvalidFrameDuration, c.FrameDuration, SupportedFrameDurations)
	case c.Bitrate < MinBitrate || c.Bitrate > MaxBitrate:
		err = fmt.Errorf("%w: %d, must be within [%d, %d]", ErrInvalidBitrate, c.Bitrate, MinBitrate, MaxBitrate)
	case c.Complexity < MinComplexity || c.Complexity > MaxComplexity:
		err = fmt.Errorf("%w: %d, must be within [%d, %d]", ErrInvalidComplexity, c.Complexity, MinComplexity, MaxComplexity)
	default:
		return nil
	}

	return errors.New(err).
		Component("opus").
		Category(errors.CategoryConfiguration).
		Context("operation", "validate_encoder_config").
		AudioContext(c.SampleRate, c.Channels).
		Build()
}

// SamplesPerFrame is the per-channel sample count of one frame
func (c EncoderConfig) SamplesPerFrame() int {
	return c.FrameDuration * c.SampleRate / 1_000_000
}

// FrameDurationNs is the frame duration in nanoseconds
func (c EncoderConfig) FrameDurationNs() int64 {
	return int64(c.FrameDuration) * 1000
}

// Duration returns the frame duration as a time.Duration
func (c EncoderConfig) Duration() time.Duration {
	return time.Duration(c.FrameDurationNs())
}
