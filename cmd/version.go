package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portablefn/fnharness/internal/build"
)

// NewVersionCommand returns the command to get the fnharness version
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the fnharness version",
		Long:  "Return the fnharness version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

// print out the built version
func version(cmd *cobra.Command, _ []string) error {
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "fnharness version %s date %s commit id %s\n", build.Version, build.Date, build.Commit)
	return err
}
