// Package capture moves audio from a capture device into the ring buffer.
//
// The Producer holds the realtime half of the recorder: it runs inside the
// device data callback, so its success path never blocks, allocates or
// performs I/O. Anything that would lose audio is latched as a fatal error
// and surfaced to the consumer through Err.
package capture

import (
	"sync/atomic"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/ringbuffer"
)

// BytesPerSample is the size of one signed 16-bit little-endian sample
const BytesPerSample = 2

// ErrOverflow is wrapped by the error latched when captured audio does not
// fit into the ring buffer
var ErrOverflow = errors.NewStd("capture ring buffer overflow")

// overflowError is built once so the callback can fail without allocating
var overflowError = errors.New(ErrOverflow).
	Component("capture").
	Category(errors.CategoryBuffer).
	Context("operation", "ring_push").
	Build()

// SpanSource hands out captured audio in spans. NextSpan returns at most
// maxFrames frames. A nil data slice with a positive frame count is a gap
// the device could not fill; zero frames means nothing more is available in
// this callback. The returned slice is only valid until the next call.
type SpanSource interface {
	NextSpan(maxFrames int) (data []byte, frames int, err error)
}

// Device is a capture device feeding a Producer
type Device interface {
	Start() error
	Stop() error
}

// Stats is a snapshot of producer counters
type Stats struct {
	Callbacks       uint64 // OnRead invocations
	CapturedBytes   uint64 // bytes pushed, gap fill included
	GapFrames       uint64 // frames zero-filled for device gaps
	DeviceOverflows uint64 // overflow notifications from the device
}

// Producer is the realtime writer of a ring buffer. Exactly one goroutine,
// the device callback, may call OnRead.
type Producer struct {
	rb            *ringbuffer.RingBuffer[byte]
	channels      int
	bytesPerFrame int

	err atomic.Pointer[error]

	callbacks       atomic.Uint64
	capturedBytes   atomic.Uint64
	gapFrames       atomic.Uint64
	deviceOverflows atomic.Uint64
}

// NewProducer returns a producer writing frames of channels interleaved
// samples into rb
func NewProducer(rb *ringbuffer.RingBuffer[byte], channels int) *Producer {
	if channels < 1 {
		channels = 1
	}
	return &Producer{
		rb:            rb,
		channels:      channels,
		bytesPerFrame: channels * BytesPerSample,
	}
}

// Channels returns the number of interleaved capture channels
func (p *Producer) Channels() int {
	return p.channels
}

// BytesPerFrame returns the size of one interleaved frame
func (p *Producer) BytesPerFrame() int {
	return p.bytesPerFrame
}

// FreeFrames returns how many whole frames the ring buffer can take
func (p *Producer) FreeFrames() int {
	return p.rb.Free() / p.bytesPerFrame
}

// OnRead is the device callback. The device asks for at least minFrames and
// at most maxFrames to be consumed from src. When the buffer cannot take
// minFrames, or any push fails, the stream is aborted with an overflow
// error. After a fatal error every call returns that error immediately.
func (p *Producer) OnRead(src SpanSource, minFrames, maxFrames int) error {
	if err := p.Err(); err != nil {
		return err
	}
	p.callbacks.Add(1)

	freeFrames := p.FreeFrames()
	if freeFrames < minFrames {
		return p.Fail(overflowError)
	}

	framesLeft := min(freeFrames, maxFrames)
	for framesLeft > 0 {
		data, frames, err := src.NextSpan(framesLeft)
		if err != nil {
			return p.Fail(errors.New(err).
				Component("capture").
				Category(errors.CategoryAudioSource).
				Context("operation", "next_span").
				Build())
		}
		if frames <= 0 {
			break
		}
		frames = min(frames, framesLeft)

		if data == nil {
			if !p.pushZeros(frames * p.bytesPerFrame) {
				return p.Fail(overflowError)
			}
			p.gapFrames.Add(uint64(frames))
		} else {
			// a short slice only delivers the frames it holds
			frames = min(frames, len(data)/p.bytesPerFrame)
			if frames == 0 {
				break
			}
			if !p.pushBytes(data[:frames*p.bytesPerFrame]) {
				return p.Fail(overflowError)
			}
		}
		p.capturedBytes.Add(uint64(frames * p.bytesPerFrame))
		framesLeft -= frames
	}
	return nil
}

func (p *Producer) pushZeros(n int) bool {
	for range n {
		if !p.rb.Push(0) {
			return false
		}
	}
	return true
}

func (p *Producer) pushBytes(b []byte) bool {
	for _, v := range b {
		if !p.rb.Push(v) {
			return false
		}
	}
	return true
}

// OnOverflow records a device-side overflow. The lost span reaches OnRead
// as a gap, so this is not fatal.
func (p *Producer) OnOverflow() {
	p.deviceOverflows.Add(1)
}

// Fail latches err as the fatal producer error and returns the latched
// error. The first error wins.
func (p *Producer) Fail(err error) error {
	if err == nil {
		return p.Err()
	}
	p.err.CompareAndSwap(nil, &err)
	return *p.err.Load()
}

// Err returns the latched fatal error, or nil
func (p *Producer) Err() error {
	if e := p.err.Load(); e != nil {
		return *e
	}
	return nil
}

// Failed reports whether a fatal error has been latched
func (p *Producer) Failed() bool {
	return p.err.Load() != nil
}

// Stats returns a snapshot of the producer counters
func (p *Producer) Stats() Stats {
	return Stats{
		Callbacks:       p.callbacks.Load(),
		CapturedBytes:   p.capturedBytes.Load(),
		GapFrames:       p.gapFrames.Load(),
		DeviceOverflows: p.deviceOverflows.Load(),
	}
}

// ByteSpan serves an already captured buffer as a SpanSource. The device
// callback resets it with each buffer it receives, so it is reused without
// allocating.
type ByteSpan struct {
	data          []byte
	bytesPerFrame int
}

// NewByteSpan returns a span source for frames of bytesPerFrame bytes
func NewByteSpan(bytesPerFrame int) *ByteSpan {
	return &ByteSpan{bytesPerFrame: bytesPerFrame}
}

// Reset replaces the remaining data with b
func (s *ByteSpan) Reset(b []byte) {
	s.data = b
}

// Frames returns the number of whole frames left
func (s *ByteSpan) Frames() int {
	return len(s.data) / s.bytesPerFrame
}

// NextSpan implements SpanSource
func (s *ByteSpan) NextSpan(maxFrames int) (data []byte, frames int, err error) {
	frames = min(s.Frames(), maxFrames)
	n := frames * s.bytesPerFrame
	data = s.data[:n]
	s.data = s.data[n:]
	return data, frames, nil
}
