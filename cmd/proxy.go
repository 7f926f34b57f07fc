// cmd/proxy.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pdp-injector/internal/observability"
	"github.com/xkilldash9x/pdp-injector/internal/proxy"
)

func newProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve an HTTP proxy that injects matching product pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			p, err := proxy.New(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			return p.Serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().String("match", "", "regular expression selecting page URLs to inject")
	return cmd
}
