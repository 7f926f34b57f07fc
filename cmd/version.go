// cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time:
// go build -ldflags "-X github.com/xkilldash9x/pdp-injector/cmd.Version=1.0.0"
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pdp-injector version %s\n", Version)
			return err
		},
	}
}
