// Package conf loads opusrec settings from defaults, a YAML config file,
// environment variables and command line flags.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
)

// EnvPrefix is the prefix of environment overrides, e.g. OPUSREC_RECORDING_BITRATE
const EnvPrefix = "OPUSREC"

// Settings is the complete application configuration
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Recording RecordingSettings    `yaml:"recording" mapstructure:"recording"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
}

// RecordingSettings configures capture, encoding and muxing
type RecordingSettings struct {
	Device  string `yaml:"device" mapstructure:"device"`   // capture device name or id, empty for the system default
	Backend string `yaml:"backend" mapstructure:"backend"` // audio backend, empty for the platform default

	SampleRate      int `yaml:"sample_rate" mapstructure:"sample_rate"`           // capture and encoder sample rate in Hz
	CaptureChannels int `yaml:"capture_channels" mapstructure:"capture_channels"` // interleaved channels delivered by the device
	Channels        int `yaml:"channels" mapstructure:"channels"`                 // encoder channels, 1 downmixes the capture

	FrameDuration time.Duration `yaml:"frame_duration" mapstructure:"frame_duration"` // Opus frame duration
	Bitrate       int           `yaml:"bitrate" mapstructure:"bitrate"`               // target bitrate in bits per second
	Complexity    int           `yaml:"complexity" mapstructure:"complexity"`         // encoder complexity 0-10

	Output            string        `yaml:"output" mapstructure:"output"`                           // output WebM path
	MaxDuration       time.Duration `yaml:"max_duration" mapstructure:"max_duration"`               // stop after this long, 0 records until interrupted
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`             // consumer drain interval
	BufferSeconds     int           `yaml:"buffer_seconds" mapstructure:"buffer_seconds"`           // ring buffer capacity in seconds of capture
	DropSilentPackets bool          `yaml:"drop_silent_packets" mapstructure:"drop_silent_packets"` // skip packets of two bytes or less
	MinFreeMB         int           `yaml:"min_free_mb" mapstructure:"min_free_mb"`                 // refuse to start below this much free space, 0 disables the check
}

// TelemetrySettings configures metrics and error reporting
type TelemetrySettings struct {
	Metrics MetricsSettings `yaml:"metrics" mapstructure:"metrics"`
	Sentry  SentrySettings  `yaml:"sentry" mapstructure:"sentry"`
	Notify  NotifySettings  `yaml:"notify" mapstructure:"notify"`
}

// MetricsSettings configures the status HTTP server
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"` // host:port
}

// SentrySettings configures error reporting
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// NotifySettings configures session notifications through shoutrrr service URLs
type NotifySettings struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	URLs      []string      `yaml:"urls" mapstructure:"urls"`             // e.g. "ntfy://ntfy.sh/topic"
	OnSuccess bool          `yaml:"on_success" mapstructure:"on_success"` // notify when a session finishes cleanly
	OnFailure bool          `yaml:"on_failure" mapstructure:"on_failure"` // notify when a session fails
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CaptureBytesPerSecond is the raw capture data rate
func (r *RecordingSettings) CaptureBytesPerSecond() int {
	return r.SampleRate * r.CaptureChannels * 2
}

// RingCapacity is the ring buffer size in bytes for BufferSeconds of capture
func (r *RecordingSettings) RingCapacity() int {
	return r.BufferSeconds * r.CaptureBytesPerSecond()
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration from the default search paths, creating a
// default config file when none exists.
func Load() (*Settings, error) {
	return LoadFrom("")
}

// LoadFrom reads configFile, or searches the default paths when it is empty.
func LoadFrom(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error validating settings: %w", err)).
			Category(errors.CategoryConfiguration).
			Context("operation", "validate_config").
			Build()
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, environment binding and reads the config file
func initViper(configFile string) error {
	setDefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(fmt.Errorf("error reading config file: %w", err)).
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the defaults to dir/config.yaml and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.New(fmt.Errorf("error creating directories for config file: %w", err)).
			Category(errors.CategoryFileIO).
			Context("operation", "create_default_config").
			Build()
	}

	defaults := &Settings{}
	if err := viper.Unmarshal(defaults); err != nil {
		return fmt.Errorf("error unmarshaling defaults: %w", err)
	}

	if err := SaveYAMLConfig(configPath, defaults); err != nil {
		return err
	}

	logger.Global().Module("conf").Info("created default config file", logger.String("path", configPath))

	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temporary file and
// a rename so readers never observe a partial file.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return errors.New(fmt.Errorf("error creating temporary file: %w", err)).
			Category(errors.CategoryFileIO).
			Context("operation", "save_config").
			Build()
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(fmt.Errorf("error replacing config file: %w", err)).
			Category(errors.CategoryFileIO).
			Context("operation", "save_config").
			Build()
	}

	return nil
}
