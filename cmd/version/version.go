package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/opusrec/internal/buildinfo"
)

// Command creates a new cobra.Command to print the version.
func Command(build *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of opusrec",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), build.String())
			return nil
		},
	}
}
