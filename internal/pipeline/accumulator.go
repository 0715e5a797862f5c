package pipeline

import (
	"encoding/binary"
	"fmt"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/ringbuffer"
)

// bytesPerSample is the size of one signed 16-bit little-endian sample
const bytesPerSample = 2

// FrameSink receives complete frames from an Accumulator. The frame slice is
// reused for the next frame once WriteFrame returns.
type FrameSink interface {
	WriteFrame(frame []int16) error
}

// FrameSinkFunc adapts a function to FrameSink
type FrameSinkFunc func(frame []int16) error

// WriteFrame calls f(frame)
func (f FrameSinkFunc) WriteFrame(frame []int16) error { return f(frame) }

// Accumulator assembles a byte stream of interleaved 16-bit PCM into
// encoder frames, downmixing to mono when the encoder takes fewer channels
// than were captured. It is not safe for concurrent use.
type Accumulator struct {
	working []byte // exactly one captured frame
	fill    int    // always < len(working)

	captureChannels int
	encoderChannels int
	frame           []int16
	sink            FrameSink

	frames uint64
}

// NewAccumulator returns an accumulator emitting frames of samplesPerFrame
// samples per channel. encoderChannels must equal captureChannels or be 1.
func NewAccumulator(samplesPerFrame, captureChannels, encoderChannels int, sink FrameSink) (*Accumulator, error) {
	switch {
	case samplesPerFrame < 1:
		return nil, accumulatorConfigError(fmt.Errorf("samples per frame must be positive, got %d", samplesPerFrame))
	case captureChannels < 1:
		return nil, accumulatorConfigError(fmt.Errorf("capture channels must be positive, got %d", captureChannels))
	case encoderChannels != captureChannels && encoderChannels != 1:
		return nil, accumulatorConfigError(fmt.Errorf("cannot map %d capture channels to %d encoder channels", captureChannels, encoderChannels))
	case sink == nil:
		return nil, accumulatorConfigError(fmt.Errorf("frame sink is nil"))
	}

	return &Accumulator{
		working:         make([]byte, samplesPerFrame*bytesPerSample*captureChannels),
		captureChannels: captureChannels,
		encoderChannels: encoderChannels,
		frame:           make([]int16, samplesPerFrame*encoderChannels),
		sink:            sink,
	}, nil
}

func accumulatorConfigError(err error) error {
	return errors.New(err).
		Component("pipeline").
		Category(errors.CategoryConfiguration).
		Context("operation", "new_accumulator").
		Build()
}

// FrameBytes returns the number of captured bytes that make one frame
func (a *Accumulator) FrameBytes() int {
	return len(a.working)
}

// Feed appends one byte and emits a frame when the working buffer is full.
// The sink's error is returned unchanged.
func (a *Accumulator) Feed(b byte) error {
	a.working[a.fill] = b
	a.fill++
	if a.fill < len(a.working) {
		return nil
	}
	a.fill = 0
	return a.emit()
}

// Drain feeds the bytes buffered in rb when Drain was called and returns how
// many were consumed. Bytes pushed concurrently are left for the next call.
func (a *Accumulator) Drain(rb *ringbuffer.RingBuffer[byte]) (int, error) {
	available := rb.Size()
	for n := range available {
		b, ok := rb.Pop()
		if !ok {
			return n, nil
		}
		if err := a.Feed(b); err != nil {
			return n + 1, err
		}
	}
	return available, nil
}

// Pending returns the number of bytes of the incomplete frame
func (a *Accumulator) Pending() int {
	return a.fill
}

// Discard drops the incomplete frame and returns its size in bytes
func (a *Accumulator) Discard() int {
	n := a.fill
	a.fill = 0
	return n
}

// Frames returns the number of frames emitted
func (a *Accumulator) Frames() uint64 {
	return a.frames
}

func (a *Accumulator) emit() error {
	if a.encoderChannels < a.captureChannels {
		Downmix(a.frame, a.working, a.captureChannels)
	} else {
		for i := range a.frame {
			a.frame[i] = int16(binary.LittleEndian.Uint16(a.working[i*bytesPerSample:]))
		}
	}
	a.frames++
	return a.sink.WriteFrame(a.frame)
}

// Downmix averages each sample position of interleaved little-endian 16-bit
// PCM across channels into dst. The sum is divided by the channel count and
// truncated toward zero. It returns the number of samples written.
func Downmix(dst []int16, interleaved []byte, channels int) int {
	if channels < 1 {
		return 0
	}
	stride := channels * bytesPerSample
	n := min(len(dst), len(interleaved)/stride)
	for i := range n {
		var sum int32
		base := i * stride
		for c := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(interleaved[base+c*bytesPerSample:])))
		}
		dst[i] = int16(sum / int32(channels))
	}
	return n
}
