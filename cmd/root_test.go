package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/opusrec/internal/buildinfo"
	"github.com/tphakala/opusrec/internal/errors"
)

// Commands share the global viper instance and must not run in parallel.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := RootCommand(&buildinfo.Context{Version: "v1.2.3", BuildDate: "2026-10-01"})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "logging:\n  console:\n    enabled: false\n    level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func writeWAV(t *testing.T, sampleRate, channels, frames int) string {
	t.Helper()
	data := make([]int, frames*channels)
	for i := range data {
		data[i] = (i * 97 % 2000) - 1000
	}

	path := filepath.Join(t.TempDir(), "in.wav")
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

func TestExitCode(t *testing.T) {
	t.Parallel()

	build := func(c errors.ErrorCategory) error {
		return errors.Newf("failure").Category(c).Build()
	}

	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.NewStd("plain"), ExitFailure},
		{build(errors.CategoryConfiguration), ExitConfiguration},
		{build(errors.CategoryValidation), ExitConfiguration},
		{build(errors.CategoryResource), ExitResource},
		{build(errors.CategoryFileIO), ExitResource},
		{build(errors.CategoryBuffer), ExitOverflow},
		{build(errors.CategoryEncode), ExitEncode},
		{build(errors.CategoryMux), ExitMux},
		{build(errors.CategoryShutdown), ExitShutdown},
		{fmt.Errorf("wrapped: %w", build(errors.CategoryMux)), ExitMux},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "%v", tt.err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "opusrec v1.2.3")
	assert.Contains(t, out, "built 2026-10-01")
}

func TestEncodeCommand(t *testing.T) {
	input := writeWAV(t, 16000, 2, 16000)
	output := filepath.Join(t.TempDir(), "out.webm")

	out, err := execute(t, "encode", "--config", writeConfig(t), "--bitrate", "24000", input, output)
	require.NoError(t, err)
	assert.Contains(t, out, "finished: 50 packets")
	assert.FileExists(t, output)
	assert.Equal(t, 24000, viper.GetInt("recording.bitrate"))
}

func TestEncodeCommandMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "encode", "--config", writeConfig(t), filepath.Join(dir, "none.wav"), filepath.Join(dir, "out.webm"))
	require.Error(t, err)
	assert.Equal(t, ExitResource, ExitCode(err))
}

func TestEncodeCommandInvalidFlag(t *testing.T) {
	input := writeWAV(t, 16000, 1, 320)
	output := filepath.Join(t.TempDir(), "out.webm")

	_, err := execute(t, "encode", "--config", writeConfig(t), "--complexity", "11", input, output)
	require.Error(t, err)
	assert.Equal(t, ExitConfiguration, ExitCode(err))
	assert.NoFileExists(t, output)
}

func TestRecordRejectsInvalidSettings(t *testing.T) {
	_, err := execute(t, "record", "--config", writeConfig(t), "--buffer", "0", filepath.Join(t.TempDir(), "x.webm"))
	require.Error(t, err)
	assert.Equal(t, ExitConfiguration, ExitCode(err))
}
