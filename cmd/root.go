package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/opusrec/cmd/devices"
	"github.com/tphakala/opusrec/cmd/encode"
	"github.com/tphakala/opusrec/cmd/record"
	"github.com/tphakala/opusrec/cmd/version"
	"github.com/tphakala/opusrec/internal/buildinfo"
	"github.com/tphakala/opusrec/internal/conf"
	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "opusrec",
		Short:         "Record audio to Opus in WebM",
		Long:          "Capture audio from a device or a WAV file, encode it with Opus and write a WebM file.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (searches ./ and $HOME/.config/opusrec by default)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := conf.BindFlag(rootCmd.PersistentFlags(), "debug", "debug"); err != nil {
		panic(err)
	}

	versionCmd := version.Command(build)

	rootCmd.AddCommand(
		record.Command(build),
		encode.Command(build),
		devices.Command(),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip setup for the version command
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(cmd, configFile, build)
	}

	return rootCmd
}

// initialize loads the settings with the executing command's flags applied,
// then sets up logging and error reporting.
func initialize(cmd *cobra.Command, configFile string, build *buildinfo.Context) error {
	if err := conf.BindAnnotatedFlags(cmd.Flags()); err != nil {
		return err
	}

	settings, err := conf.LoadFrom(configFile)
	if err != nil {
		return err
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console == nil {
			settings.Logging.Console = &logger.ConsoleOutput{Enabled: true}
		}
		settings.Logging.Console.Level = "debug"
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	logger.SetGlobal(cl)

	return telemetry.InitSentry(&settings.Telemetry.Sentry, build.GetVersion())
}
