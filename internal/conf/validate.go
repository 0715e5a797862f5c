// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// SupportedBackends lists the audio backend names accepted in recording.backend
var SupportedBackends = []string{"alsa", "pulseaudio", "jack", "coreaudio", "wasapi", "dsound", "winmm", "oss", "sndio", "audio4", "aaudio", "opensl", "null"}

// ValidateSettings validates the entire Settings struct.
// Encoder parameters (rate, channels, frame duration, bitrate, complexity)
// are validated by the opus package when the encoder is constructed.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateRecordingSettings(&settings.Recording); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateRecordingSettings(settings *RecordingSettings) error {
	var errs []string

	if settings.Output == "" {
		errs = append(errs, "recording.output must not be empty")
	}

	if settings.CaptureChannels < 1 {
		errs = append(errs, fmt.Sprintf("recording.capture_channels must be at least 1, got %d", settings.CaptureChannels))
	} else if settings.Channels != settings.CaptureChannels && settings.Channels != 1 {
		errs = append(errs, fmt.Sprintf("recording.channels (%d) must equal capture_channels (%d) or be 1 for a mono downmix",
			settings.Channels, settings.CaptureChannels))
	}

	if settings.FrameDuration%time.Microsecond != 0 {
		errs = append(errs, fmt.Sprintf("recording.frame_duration %s is not a whole number of microseconds", settings.FrameDuration))
	}

	if settings.MaxDuration < 0 {
		errs = append(errs, "recording.max_duration must not be negative")
	}

	if settings.PollInterval <= 0 {
		errs = append(errs, "recording.poll_interval must be positive")
	}

	if settings.BufferSeconds < 1 {
		errs = append(errs, fmt.Sprintf("recording.buffer_seconds must be at least 1, got %d", settings.BufferSeconds))
	}

	if settings.MinFreeMB < 0 {
		errs = append(errs, "recording.min_free_mb must not be negative")
	}

	if settings.Backend != "" && !slices.Contains(SupportedBackends, strings.ToLower(settings.Backend)) {
		errs = append(errs, fmt.Sprintf("recording.backend %q is not one of %s", settings.Backend, strings.Join(SupportedBackends, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("recording settings errors: %v", errs)
	}
	return nil
}

func validateTelemetrySettings(settings *TelemetrySettings) error {
	var errs []string

	if settings.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(settings.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("telemetry.metrics.listen %q is not host:port: %v", settings.Metrics.Listen, err))
		}
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		errs = append(errs, "telemetry.sentry.dsn is required when sentry is enabled")
	}

	if settings.Notify.Enabled {
		if len(settings.Notify.URLs) == 0 {
			errs = append(errs, "telemetry.notify.urls requires at least one url when notifications are enabled")
		}
		if settings.Notify.Timeout < 0 {
			errs = append(errs, "telemetry.notify.timeout must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry settings errors: %v", errs)
	}
	return nil
}
