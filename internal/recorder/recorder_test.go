package recorder

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/opusrec/internal/buildinfo"
	"github.com/tphakala/opusrec/internal/conf"
	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	return &conf.Settings{
		Recording: conf.RecordingSettings{
			SampleRate:      conf.DefaultSampleRate,
			CaptureChannels: conf.DefaultCaptureChannels,
			Channels:        conf.DefaultChannels,
			FrameDuration:   conf.DefaultFrameDuration,
			Bitrate:         conf.DefaultBitrate,
			Complexity:      conf.DefaultComplexity,
			Output:          filepath.Join(t.TempDir(), "out.webm"),
			PollInterval:    conf.DefaultPollInterval,
			BufferSeconds:   2,
		},
	}
}

// writeToneWAV writes seconds of a 440 Hz tone as 16-bit PCM
func writeToneWAV(t *testing.T, sampleRate, channels int, seconds float64) string {
	t.Helper()

	n := int(float64(sampleRate) * seconds)
	data := make([]int, 0, n*channels)
	for i := range n {
		v := int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for range channels {
			data = append(data, v)
		}
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestNewRequiresSettings(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestEncoderConfig(t *testing.T) {
	t.Parallel()

	rec := &conf.RecordingSettings{
		SampleRate:    24000,
		Channels:      2,
		FrameDuration: 2500 * time.Microsecond,
		Bitrate:       32000,
		Complexity:    3,
	}
	cfg := EncoderConfig(rec)
	assert.Equal(t, 24000, cfg.SampleRate)
	assert.Equal(t, 2, cfg.Channels)
	assert.Equal(t, 2500, cfg.FrameDuration)
	assert.Equal(t, 32000, cfg.Bitrate)
	assert.Equal(t, 3, cfg.Complexity)
	require.NoError(t, cfg.Validate())
}

func TestEncodeFileStereoToMono(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	input := writeToneWAV(t, 48000, 2, 1.0)

	r, err := New(settings, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Nil(t, r.Metrics())
	assert.Nil(t, r.Server())

	status, err := r.EncodeFile(t.Context(), input, "")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StateFinished, status.State)
	assert.Equal(t, pipeline.StopReasonSourceEnded, status.StopReason)
	assert.Equal(t, uint64(50), status.Packets)
	assert.Equal(t, int64(50*20*time.Millisecond), status.TimecodeNs)

	info, err := os.Stat(settings.Recording.Output)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestEncodeFileClampsChannels(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Recording.Channels = 2
	input := writeToneWAV(t, 16000, 1, 0.5)
	output := filepath.Join(t.TempDir(), "mono.webm")

	r, err := New(settings, WithLogger(quietLogger()), WithBuildInfo(&buildinfo.Context{Version: "v0.1.0"}))
	require.NoError(t, err)

	// Channels above the file's channel count fall back to the file's
	status, err := r.EncodeFile(t.Context(), input, output)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), status.Packets)
	assert.Equal(t, output, status.Output)
	assert.FileExists(t, output)
}

func TestEncodeFileUnsupportedRate(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	input := writeToneWAV(t, 44100, 1, 0.1)

	r, err := New(settings, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = r.EncodeFile(t.Context(), input, "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.NoFileExists(t, settings.Recording.Output)
}

func TestEncodeFileMissingInput(t *testing.T) {
	t.Parallel()

	r, err := New(testSettings(t), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = r.EncodeFile(t.Context(), filepath.Join(t.TempDir(), "missing.wav"), "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestEncodeFileWithMetrics(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Telemetry.Metrics.Enabled = true
	settings.Telemetry.Metrics.Listen = "127.0.0.1:0"
	input := writeToneWAV(t, 48000, 1, 0.2)

	r, err := New(settings, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NotNil(t, r.Metrics())
	require.NotNil(t, r.Server())

	status, err := r.EncodeFile(t.Context(), input, "")
	require.NoError(t, err)
	require.Equal(t, uint64(10), status.Packets)

	families, err := r.Metrics().Registry().Gather()
	require.NoError(t, err)

	var muxed float64
	for _, mf := range families {
		if mf.GetName() == "opusrec_packets_muxed_total" {
			muxed = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.InDelta(t, 10, muxed, 0)
}

func TestEncodeFileInsufficientDiskSpace(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Recording.MinFreeMB = 1 << 40
	input := writeToneWAV(t, 48000, 1, 0.1)

	r, err := New(settings, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = r.EncodeFile(t.Context(), input, "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryResource))
	assert.NoFileExists(t, settings.Recording.Output)
}

func TestEncodeFileNotifies(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Recording.MinFreeMB = 1
	settings.Telemetry.Notify = conf.NotifySettings{
		Enabled:   true,
		URLs:      []string{"logger://"},
		OnSuccess: true,
		OnFailure: true,
	}
	input := writeToneWAV(t, 48000, 1, 0.1)

	r, err := New(settings, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NotNil(t, r.notifier)

	status, err := r.EncodeFile(t.Context(), input, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), status.Packets)
}

func TestNewRejectsInvalidNotifyURL(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Telemetry.Notify = conf.NotifySettings{Enabled: true, URLs: []string{"nosuchservice://x"}}

	_, err := New(settings, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
