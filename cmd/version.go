package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/holdfast-db/holdfast/internal/build"
)

// NewVersionCommand returns the command to get the holdfast version.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the Holdfast version",
		Long:  "Return the Holdfast version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

func version(_ *cobra.Command, _ []string) error {
	log.Printf("Holdfast Version %s Date %s commit id %s ", build.Version, build.Date, build.Commit)
	return nil
}
