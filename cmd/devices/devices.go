package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/opusrec/internal/capture"
	"github.com/tphakala/opusrec/internal/conf"
)

// Command creates the command that lists capture devices.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := conf.GetSettings().Recording.Backend

			devices, err := capture.ListDevices(backend)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No capture devices found")
				return nil
			}

			fmt.Fprintln(out, "Available capture devices (* marks the default):")
			for _, d := range devices {
				marker := " "
				if d.Default {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %2d  %s", marker, d.Index, d.Name)
				if d.ID != "" {
					fmt.Fprintf(out, "  [%s]", d.ID)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().String("backend", "", "Audio backend to query, empty for the platform default")
	if err := conf.BindFlag(cmd.Flags(), "backend", "recording.backend"); err != nil {
		panic(err)
	}

	return cmd
}
