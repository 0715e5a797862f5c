package capture

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/ringbuffer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// span is one scripted NextSpan result
type span struct {
	data   []byte
	frames int
	err    error
}

// scriptedSource replays spans in order and records the requested maxima
type scriptedSource struct {
	spans    []span
	requests []int
}

func (s *scriptedSource) NextSpan(maxFrames int) ([]byte, int, error) {
	s.requests = append(s.requests, maxFrames)
	if len(s.spans) == 0 {
		return nil, 0, nil
	}
	next := s.spans[0]
	s.spans = s.spans[1:]
	return next.data, next.frames, next.err
}

// stereoFrames returns n interleaved stereo frames with distinct samples
func stereoFrames(n int, start int16) []byte {
	b := make([]byte, n*4)
	for i := range n * 2 {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(start+int16(i)))
	}
	return b
}

func drain(rb *ringbuffer.RingBuffer[byte]) []byte {
	var out []byte
	for {
		v, ok := rb.Pop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestProducerPushesDataInOrder(t *testing.T) {
	t.Parallel()

	rb := ringbuffer.New[byte](1024)
	p := NewProducer(rb, 2)
	first := stereoFrames(3, 0)
	second := stereoFrames(2, 100)
	src := &scriptedSource{spans: []span{
		{data: first, frames: 3},
		{data: second, frames: 2},
	}}

	require.NoError(t, p.OnRead(src, 0, 5))

	assert.Equal(t, append(append([]byte{}, first...), second...), drain(rb))
	assert.Equal(t, []int{5, 2}, src.requests, "each request asks for the frames still missing")

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Callbacks)
	assert.Equal(t, uint64(20), stats.CapturedBytes)
	assert.Zero(t, stats.GapFrames)
}

func TestProducerZeroFillsGaps(t *testing.T) {
	t.Parallel()

	rb := ringbuffer.New[byte](64)
	p := NewProducer(rb, 2)
	data := stereoFrames(1, 7)
	src := &scriptedSource{spans: []span{
		{data: nil, frames: 2},
		{data: data, frames: 1},
	}}

	require.NoError(t, p.OnRead(src, 3, 3))

	want := append(make([]byte, 8), data...)
	assert.Equal(t, want, drain(rb))
	assert.Equal(t, uint64(2), p.Stats().GapFrames)
}

func TestProducerStopsWhenSourceIsEmpty(t *testing.T) {
	t.Parallel()

	rb := ringbuffer.New[byte](64)
	p := NewProducer(rb, 1)
	src := &scriptedSource{spans: []span{{data: []byte{1, 2}, frames: 1}}}

	require.NoError(t, p.OnRead(src, 0, 10))
	assert.Equal(t, []byte{1, 2}, drain(rb))
	assert.Len(t, src.requests, 2)
}

func TestProducerLimitsToFreeSpace(t *testing.T) {
	t.Parallel()

	// room for exactly two mono frames
	rb := ringbuffer.New[byte](5)
	p := NewProducer(rb, 1)
	src := &scriptedSource{spans: []span{{data: []byte{1, 0, 2, 0}, frames: 2}}}

	require.NoError(t, p.OnRead(src, 0, 8))
	assert.Equal(t, []int{2}, src.requests[:1])
	assert.Equal(t, 4, rb.Size())
	assert.False(t, p.Failed())
}

func TestProducerOverflowIsFatal(t *testing.T) {
	t.Parallel()

	rb := ringbuffer.New[byte](8)
	p := NewProducer(rb, 2)
	src := &scriptedSource{spans: []span{{data: stereoFrames(2, 0), frames: 2}}}
	require.NoError(t, p.OnRead(src, 2, 2))

	// ring is full, the device insists on one more frame
	err := p.OnRead(&scriptedSource{}, 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.True(t, errors.IsCategory(err, errors.CategoryBuffer))
	assert.True(t, p.Failed())

	// every later callback returns the same error without touching the source
	again := &scriptedSource{spans: []span{{data: stereoFrames(1, 0), frames: 1}}}
	assert.Same(t, err, p.OnRead(again, 0, 1))
	assert.Empty(t, again.requests)
	assert.Equal(t, uint64(2), p.Stats().Callbacks)
}

func TestProducerSourceErrorIsFatal(t *testing.T) {
	t.Parallel()

	rb := ringbuffer.New[byte](64)
	p := NewProducer(rb, 1)
	boom := errors.NewStd("device read failed")
	src := &scriptedSource{spans: []span{{err: boom}}}

	err := p.OnRead(src, 0, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudioSource))
	assert.Equal(t, err, p.Err())
}

func TestProducerFailKeepsFirstError(t *testing.T) {
	t.Parallel()

	p := NewProducer(ringbuffer.New[byte](4), 1)
	assert.NoError(t, p.Err())
	assert.NoError(t, p.Fail(nil))

	first := errors.NewStd("first")
	assert.Equal(t, first, p.Fail(first))
	assert.Equal(t, first, p.Fail(errors.NewStd("second")))
	assert.Equal(t, first, p.Err())
}

func TestProducerCountsDeviceOverflows(t *testing.T) {
	t.Parallel()

	p := NewProducer(ringbuffer.New[byte](4), 1)
	p.OnOverflow()
	p.OnOverflow()
	assert.Equal(t, uint64(2), p.Stats().DeviceOverflows)
	assert.False(t, p.Failed())
}

func TestProducerSuccessPathDoesNotAllocate(t *testing.T) {
	rb := ringbuffer.New[byte](1 << 16)
	p := NewProducer(rb, 2)
	buf := stereoFrames(64, 0)
	span := NewByteSpan(p.BytesPerFrame())

	allocs := testing.AllocsPerRun(100, func() {
		span.Reset(buf)
		if err := p.OnRead(span, 64, 64); err != nil {
			t.Fatal(err)
		}
		for !rb.Empty() {
			rb.Pop()
		}
	})
	assert.Zero(t, allocs)
}

func TestByteSpan(t *testing.T) {
	t.Parallel()

	s := NewByteSpan(4)
	s.Reset(stereoFrames(3, 0))
	assert.Equal(t, 3, s.Frames())

	data, frames, err := s.NextSpan(2)
	require.NoError(t, err)
	assert.Equal(t, 2, frames)
	assert.Len(t, data, 8)

	data, frames, err = s.NextSpan(5)
	require.NoError(t, err)
	assert.Equal(t, 1, frames)
	assert.Len(t, data, 4)

	_, frames, _ = s.NextSpan(5)
	assert.Zero(t, frames)
}
