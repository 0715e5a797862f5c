package encode

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/opusrec/internal/buildinfo"
	"github.com/tphakala/opusrec/internal/conf"
	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/recorder"
)

// Command creates the command that encodes a WAV file.
func Command(build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode <input.wav> <output.webm>",
		Short: "Encode a WAV file to Opus in WebM",
		Long:  "Replay a 16-bit PCM WAV file through the recording pipeline. Sample rate and channels are taken from the file.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := recorder.New(conf.GetSettings(),
				recorder.WithLogger(logger.Global().Module("recorder")),
				recorder.WithBuildInfo(build),
				recorder.WithSignalHandling(true))
			if err != nil {
				return err
			}

			status, err := r.EncodeFile(cmd.Context(), args[0], args[1])
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

// setupFlags configures flags specific to the encode command.
func setupFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.Int("channels", conf.DefaultChannels, "Encoded channels, 1 downmixes stereo input")
	flags.Int("complexity", conf.DefaultComplexity, "Opus encoder complexity 0-10")
	flags.Int("bitrate", conf.DefaultBitrate, "Target bitrate in bits per second")
	flags.Duration("frame", conf.DefaultFrameDuration, "Opus frame duration (2.5ms to 120ms)")
	flags.Bool("drop-silent", false, "Do not write packets of two bytes or less")

	for name, key := range map[string]string{
		"channels":    "recording.channels",
		"complexity":  "recording.complexity",
		"bitrate":     "recording.bitrate",
		"frame":       "recording.frame_duration",
		"drop-silent": "recording.drop_silent_packets",
	} {
		if err := conf.BindFlag(flags, name, key); err != nil {
			return err
		}
	}

	return nil
}
