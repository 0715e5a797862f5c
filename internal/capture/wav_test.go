package capture

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/ringbuffer"
)

// writeWAV writes samples as a PCM WAV file and returns its path
func writeWAV(t *testing.T, sampleRate, bitDepth, channels int, samples []int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func rampSamples(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = (i*37)%65536 - 32768
	}
	return s
}

func TestWAVDuration(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, 16000, 16, 1, rampSamples(16000))
	src, err := OpenWAV(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Stop() })

	assert.InDelta(t, time.Second, src.Duration(), float64(10*time.Millisecond))
}

func TestOpenWAVReadsHeader(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, 16000, 16, 2, rampSamples(64))
	src, err := OpenWAV(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Stop() })

	assert.Equal(t, 16000, src.SampleRate())
	assert.Equal(t, 2, src.Channels())
}

func TestOpenWAVRejectsUnsupportedInput(t *testing.T) {
	t.Parallel()

	_, err := OpenWAV(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	path := writeWAV(t, 48000, 8, 1, []int{1, 2, 3, 4})
	_, err = OpenWAV(path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	notWAV := filepath.Join(t.TempDir(), "text.wav")
	require.NoError(t, os.WriteFile(notWAV, []byte("definitely not a RIFF file"), 0o600))
	_, err = OpenWAV(notWAV)
	require.Error(t, err)
}

func TestWAVReplayDeliversEverySample(t *testing.T) {
	t.Parallel()

	samples := rampSamples(2 * 5000)
	path := writeWAV(t, 48000, 16, 2, samples)

	// smaller than the file, so the replay has to wait for the consumer
	rb := ringbuffer.New[byte](4096)
	producer := NewProducer(rb, 2)
	src, err := OpenWAV(path, WithPeriod(256))
	require.NoError(t, err)
	src.Attach(producer)
	require.NoError(t, src.Start())

	var got []byte
	deadline := time.After(10 * time.Second)
loop:
	for {
		for {
			v, ok := rb.Pop()
			if !ok {
				break
			}
			got = append(got, v)
		}
		select {
		case <-src.Done():
			if rb.Empty() {
				break loop
			}
		case <-deadline:
			t.Fatal("replay did not finish")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	require.NoError(t, src.Stop())
	require.NoError(t, producer.Err())

	require.Len(t, got, len(samples)*BytesPerSample)
	for i, want := range samples {
		assert.Equal(t, int16(want), int16(binary.LittleEndian.Uint16(got[i*2:])), "sample %d", i)
	}
	assert.Equal(t, uint64(5000), src.FramesRead())
}

func TestWAVStartRequiresMatchingProducer(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, 48000, 16, 1, rampSamples(32))
	src, err := OpenWAV(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Stop() })

	err = src.Start()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	src.Attach(NewProducer(ringbuffer.New[byte](64), 2))
	err = src.Start()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestWAVStopWithoutStart(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, 48000, 16, 1, rampSamples(32))
	src, err := OpenWAV(path)
	require.NoError(t, err)

	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())
	select {
	case <-src.Done():
	default:
		t.Fatal("done channel not closed")
	}
}
