package record

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/opusrec/internal/buildinfo"
	"github.com/tphakala/opusrec/internal/conf"
	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/recorder"
)

// Command creates the command that records from a capture device.
func Command(build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record [output.webm]",
		Short: "Record from an audio device",
		Long:  "Capture audio from a device and write it as Opus in WebM until interrupted or the maximum duration is reached.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var output string
			if len(args) > 0 {
				output = args[0]
			}

			r, err := recorder.New(conf.GetSettings(),
				recorder.WithLogger(logger.Global().Module("recorder")),
				recorder.WithBuildInfo(build),
				recorder.WithSignalHandling(true))
			if err != nil {
				return err
			}

			status, err := r.Record(cmd.Context(), output)
			if status.ID != "" {
				fmt.Fprintln(cmd.OutOrStdout(), status.Summary())
			}
			return err
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}

	return cmd
}

// setupFlags configures flags specific to the record command.
func setupFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.Int("rate", conf.DefaultSampleRate, "Sample rate in Hz (8000, 12000, 16000, 24000, 48000)")
	flags.Int("channels", conf.DefaultChannels, "Encoded channels, 1 downmixes the capture")
	flags.Int("capture-channels", conf.DefaultCaptureChannels, "Channels captured from the device")
	flags.Int("complexity", conf.DefaultComplexity, "Opus encoder complexity 0-10")
	flags.Int("bitrate", conf.DefaultBitrate, "Target bitrate in bits per second")
	flags.String("backend", "", "Audio backend (alsa, pulseaudio, jack, coreaudio, wasapi, null, ...)")
	flags.String("device", "", "Capture device name or id, empty for the system default")
	flags.Duration("frame", conf.DefaultFrameDuration, "Opus frame duration (2.5ms to 120ms)")
	flags.Duration("duration", 0, "Stop after this long, 0 records until interrupted")
	flags.Int("buffer", conf.DefaultBufferSeconds, "Ring buffer size in seconds of audio")
	flags.Bool("drop-silent", false, "Do not write packets of two bytes or less")
	flags.Bool("metrics", false, "Serve metrics and session status over HTTP")
	flags.String("listen", conf.DefaultMetricsListen, "Listen address of the status server")

	for name, key := range map[string]string{
		"rate":             "recording.sample_rate",
		"channels":         "recording.channels",
		"capture-channels": "recording.capture_channels",
		"complexity":       "recording.complexity",
		"bitrate":          "recording.bitrate",
		"backend":          "recording.backend",
		"device":           "recording.device",
		"frame":            "recording.frame_duration",
		"duration":         "recording.max_duration",
		"buffer":           "recording.buffer_seconds",
		"drop-silent":      "recording.drop_silent_packets",
		"metrics":          "telemetry.metrics.enabled",
		"listen":           "telemetry.metrics.listen",
	} {
		if err := conf.BindFlag(flags, name, key); err != nil {
			return err
		}
	}

	return nil
}
