package opus

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/opusrec/internal/errors"
)

func validConfig() EncoderConfig {
	return EncoderConfig{
		SampleRate:    48000,
		Channels:      1,
		FrameDuration: 20000,
		Bitrate:       64000,
		Complexity:    7,
	}
}

// fakeCodec returns a packet whose first byte counts calls
type fakeCodec struct {
	calls   int
	size    int
	failAt  int
	lastPCM []int16
}

func (f *fakeCodec) Encode(pcm []int16, data []byte) (int, error) {
	f.calls++
	f.lastPCM = pcm
	if f.failAt > 0 && f.calls == f.failAt {
		return 0, fmt.Errorf("codec exploded")
	}
	for i := range f.size {
		data[i] = byte(f.calls + i)
	}
	return f.size, nil
}

func fakeFactory(codec *fakeCodec, created *int) CodecFactory {
	return func(EncoderConfig) (Codec, error) {
		*created++
		return codec, nil
	}
}

func TestValidateAcceptsEveryValidCombination(t *testing.T) {
	t.Parallel()

	for _, rate := range SupportedSampleRates {
		for _, ch := range []int{1, 2} {
			for _, dur := range SupportedFrameDurations {
				cfg := EncoderConfig{SampleRate: rate, Channels: ch, FrameDuration: dur, Bitrate: 64000, Complexity: 10}
				require.NoError(t, cfg.Validate(), "%+v", cfg)
				assert.Equal(t, dur*rate/1_000_000, cfg.SamplesPerFrame())
			}
		}
	}
}

func TestValidateRejectsEachField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*EncoderConfig)
		want   error
	}{
		{"rate 44100", func(c *EncoderConfig) { c.SampleRate = 44100 }, ErrInvalidSampleRate},
		{"rate 0", func(c *EncoderConfig) { c.SampleRate = 0 }, ErrInvalidSampleRate},
		{"channels 0", func(c *EncoderConfig) { c.Channels = 0 }, ErrInvalidChannelCount},
		{"channels 3", func(c *EncoderConfig) { c.Channels = 3 }, ErrInvalidChannelCount},
		{"frame 15000", func(c *EncoderConfig) { c.FrameDuration = 15000 }, ErrInvalidFrameDuration},
		{"frame 0", func(c *EncoderConfig) { c.FrameDuration = 0 }, ErrInvalidFrameDuration},
		{"bitrate low", func(c *EncoderConfig) { c.Bitrate = MinBitrate - 1 }, ErrInvalidBitrate},
		{"bitrate high", func(c *EncoderConfig) { c.Bitrate = MaxBitrate + 1 }, ErrInvalidBitrate},
		{"complexity -1", func(c *EncoderConfig) { c.Complexity = -1 }, ErrInvalidComplexity},
		{"complexity 11", func(c *EncoderConfig) { c.Complexity = 11 }, ErrInvalidComplexity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

			var created int
			_, err = NewStreamEncoder(cfg, WithCodecFactory(fakeFactory(&fakeCodec{}, &created)))
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, created, "no codec is created for an invalid configuration")
		})
	}
}

func TestBitrateAndComplexityBoundsAreInclusive(t *testing.T) {
	t.Parallel()

	for _, cfg := range []EncoderConfig{
		{SampleRate: 8000, Channels: 1, FrameDuration: 2500, Bitrate: MinBitrate, Complexity: MinComplexity},
		{SampleRate: 48000, Channels: 2, FrameDuration: 120000, Bitrate: MaxBitrate, Complexity: MaxComplexity},
	} {
		assert.NoError(t, cfg.Validate())
	}
}

func TestFrameDerivedValues(t *testing.T) {
	t.Parallel()

	cfg := EncoderConfig{SampleRate: 48000, Channels: 2, FrameDuration: 2500, Bitrate: 64000}
	assert.Equal(t, 120, cfg.SamplesPerFrame())
	assert.Equal(t, int64(2_500_000), cfg.FrameDurationNs())

	cfg = validConfig()
	assert.Equal(t, 960, cfg.SamplesPerFrame())
	assert.Equal(t, int64(20_000_000), cfg.FrameDurationNs())
}

func TestEncodeUsesCodecAndChecksFrameSize(t *testing.T) {
	t.Parallel()

	codec := &fakeCodec{size: 40}
	var created int
	enc, err := NewStreamEncoder(validConfig(), WithCodecFactory(fakeFactory(codec, &created)))
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 960, enc.SamplesPerFrame())

	frame := make([]int16, 960)
	pkt, err := enc.Encode(frame)
	require.NoError(t, err)
	assert.Len(t, pkt, 40)
	assert.False(t, pkt.IsSilence())
	assert.Len(t, codec.lastPCM, 960)

	_, err = enc.Encode(make([]int16, 959))
	require.ErrorIs(t, err, ErrFrameSize)
	assert.Equal(t, 1, codec.calls, "short frame never reaches the codec")

	_, err = enc.Encode(make([]int16, 1920))
	require.ErrorIs(t, err, ErrFrameSize)
}

func TestEncodeFailureIsEncodeError(t *testing.T) {
	t.Parallel()

	var created int
	enc, err := NewStreamEncoder(validConfig(), WithCodecFactory(fakeFactory(&fakeCodec{size: 10, failAt: 2}, &created)))
	require.NoError(t, err)

	_, err = enc.Encode(make([]int16, 960))
	require.NoError(t, err)

	_, err = enc.Encode(make([]int16, 960))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEncode))
}

func TestCodecCreationFailureIsResourceError(t *testing.T) {
	t.Parallel()

	failing := func(EncoderConfig) (Codec, error) { return nil, fmt.Errorf("no codec") }
	_, err := NewStreamEncoder(validConfig(), WithCodecFactory(failing))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryResource))
}

func TestPacketIsSilence(t *testing.T) {
	t.Parallel()

	assert.True(t, Packet(nil).IsSilence())
	assert.True(t, Packet{0xf8}.IsSilence())
	assert.True(t, Packet{0xf8, 0xff}.IsSilence())
	assert.False(t, Packet{0xf8, 0xff, 0xfe}.IsSilence())
}

func TestOpusHead(t *testing.T) {
	t.Parallel()

	head := OpusHead(2, 312, 44100, -256)
	require.Len(t, head, OpusHeadSize)

	assert.Equal(t, "OpusHead", string(head[:8]))
	assert.Equal(t, byte(1), head[8])
	assert.Equal(t, byte(2), head[9])
	assert.Equal(t, uint16(312), binary.LittleEndian.Uint16(head[10:12]))
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(head[12:16]))
	assert.Equal(t, int16(-256), int16(binary.LittleEndian.Uint16(head[16:18])))
	assert.Equal(t, byte(0), head[18])
}

func TestEncoderHead(t *testing.T) {
	t.Parallel()

	var created int
	enc, err := NewStreamEncoder(validConfig(), WithCodecFactory(fakeFactory(&fakeCodec{}, &created)))
	require.NoError(t, err)

	want := []byte{'O', 'p', 'u', 's', 'H', 'e', 'a', 'd', 1, 1, 0, 0, 0x80, 0xbb, 0, 0, 0, 0, 0}
	assert.Equal(t, want, enc.Head())
}

func TestLibopusEncodesTone(t *testing.T) {
	t.Parallel()

	enc, err := NewStreamEncoder(EncoderConfig{
		SampleRate: 48000, Channels: 2, FrameDuration: 20000, Bitrate: 96000, Complexity: 5,
	})
	require.NoError(t, err)

	frame := make([]int16, enc.SamplesPerFrame()*enc.Channels())
	for i := 0; i < len(frame); i += 2 {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i/2)/48000))
		frame[i], frame[i+1] = v, v
	}

	for range 5 {
		pkt, err := enc.Encode(frame)
		require.NoError(t, err)
		assert.NotEmpty(t, pkt)
		assert.LessOrEqual(t, len(pkt), MaxPacketSize)
	}
}
