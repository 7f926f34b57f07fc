// cmd/render.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pdp-injector/internal/observability"
	"github.com/xkilldash9x/pdp-injector/internal/render"
)

func newRenderCmd() *cobra.Command {
	var output string
	var summary bool

	cmd := &cobra.Command{
		Use:   "render <url|file|->",
		Short: "Run the injector over a page offline and print the resulting HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			r := render.New(cfg, observability.GetLogger())

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			res, err := renderSource(cmd.Context(), r, args[0], cmd.InOrStdin(), w)
			if err != nil {
				return err
			}
			if summary {
				enc := json.NewEncoder(cmd.ErrOrStderr())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the page here instead of stdout")
	cmd.Flags().BoolVar(&summary, "summary", false, "print the session status as JSON on stderr")
	cmd.Flags().Duration("horizon", 0, "virtual time the session runs before the page is written")
	return cmd
}

func renderSource(ctx context.Context, r *render.Renderer, src string, stdin io.Reader, w io.Writer) (render.Result, error) {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return r.RenderURL(ctx, src, w)
	case src == "-":
		return r.Render(stdin, w)
	}
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return render.Result{}, fmt.Errorf("page %s not found", src)
		}
		return render.Result{}, err
	}
	defer f.Close()
	return r.Render(f, w)
}
