// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Recording defaults
const (
	DefaultSampleRate      = 48000
	DefaultCaptureChannels = 2
	DefaultChannels        = 1
	DefaultFrameDuration   = 20 * time.Millisecond
	DefaultBitrate         = 64000
	DefaultComplexity      = 7
	DefaultOutput          = "recording.webm"
	DefaultPollInterval    = time.Second
	DefaultBufferSeconds   = 30
	DefaultMetricsListen   = "127.0.0.1:9464"
	DefaultMinFreeMB       = 100
	DefaultNotifyTimeout   = 10 * time.Second
)

// setDefaultConfig sets default values for the configuration
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("recording.device", "")
	viper.SetDefault("recording.backend", "")
	viper.SetDefault("recording.sample_rate", DefaultSampleRate)
	viper.SetDefault("recording.capture_channels", DefaultCaptureChannels)
	viper.SetDefault("recording.channels", DefaultChannels)
	viper.SetDefault("recording.frame_duration", DefaultFrameDuration)
	viper.SetDefault("recording.bitrate", DefaultBitrate)
	viper.SetDefault("recording.complexity", DefaultComplexity)
	viper.SetDefault("recording.output", DefaultOutput)
	viper.SetDefault("recording.max_duration", time.Duration(0))
	viper.SetDefault("recording.poll_interval", DefaultPollInterval)
	viper.SetDefault("recording.buffer_seconds", DefaultBufferSeconds)
	viper.SetDefault("recording.drop_silent_packets", false)
	viper.SetDefault("recording.min_free_mb", DefaultMinFreeMB)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/opusrec.log")
	viper.SetDefault("logging.file_output.level", "debug")

	viper.SetDefault("telemetry.metrics.enabled", false)
	viper.SetDefault("telemetry.metrics.listen", DefaultMetricsListen)
	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.sentry.dsn", "")
	viper.SetDefault("telemetry.sentry.environment", "production")
	viper.SetDefault("telemetry.notify.enabled", false)
	viper.SetDefault("telemetry.notify.urls", []string{})
	viper.SetDefault("telemetry.notify.on_success", false)
	viper.SetDefault("telemetry.notify.on_failure", true)
	viper.SetDefault("telemetry.notify.timeout", DefaultNotifyTimeout)
}
