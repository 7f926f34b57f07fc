// cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pdp-injector/internal/browser"
	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/control"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/observability"
	"github.com/xkilldash9x/pdp-injector/internal/page"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Open a product page in a browser and keep the injector running on it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Page.URL = args[0]
			}
			if cfg.Page.URL == "" {
				return errors.New("no page url given (argument, --url or page.url)")
			}
			return runInjector(cmd.Context(), cfg, observability.GetLogger())
		},
	}
	cmd.Flags().String("url", "", "product page to open")
	cmd.Flags().String("listen", "", "address for the control API (disabled when empty)")
	cmd.Flags().Bool("headless", true, "run the browser headless")
	cmd.Flags().String("remote-url", "", "attach to a running browser's DevTools endpoint")
	cmd.Flags().String("exec-path", "", "browser executable")
	cmd.Flags().String("product-id", "", "3D viewer product id")
	return cmd
}

// liveRunner keeps one session per document loaded in the tab. It is only
// touched on the loop.
type liveRunner struct {
	loop    *eventloop.Loop
	tab     *browser.Tab
	cfg     *config.Config
	logger  *zap.Logger
	session *page.Session
}

func (r *liveRunner) start() {
	if r.session != nil {
		r.session.Stop()
	}
	r.session = page.New(r.loop, r.tab.Document(), r.tab.Source(), r.cfg, r.tab, r.logger)
	if err := r.session.Start(); err != nil {
		r.logger.Error("Session failed to start.", zap.Error(err))
	}
}

func (r *liveRunner) current() *page.Session { return r.session }

func (r *liveRunner) dispatch(a dom.Action) {
	if r.session == nil {
		return
	}
	if err := r.session.Dispatch(a); err != nil {
		r.logger.Warn("Action failed.", zap.String("action", string(a)), zap.Error(err))
	}
}

func runInjector(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	b, err := browser.Launch(ctx, cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("Browser did not close cleanly.", zap.Error(err))
		}
	}()

	loop := eventloop.New(logger)
	tab, err := b.NewTab(loop)
	if err != nil {
		return err
	}
	defer tab.Close()

	r := &liveRunner{loop: loop, tab: tab, cfg: cfg, logger: logger}
	tab.OnAction(r.dispatch)
	tab.OnReset(func(token string) {
		logger.Info("Page reloaded; restarting session.", zap.String("document", token))
		r.start()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error {
		if err := tab.Navigate(gctx, cfg.Page.URL); err != nil {
			return err
		}
		if err := loop.Do(gctx, r.start); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		logger.Info("Injector running.", zap.String("url", cfg.Page.URL))
		return nil
	})
	if cfg.Control.Listen != "" {
		srv := control.New(cfg.Control, loop, r.current, logger)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("Shutting down.")
		return nil
	}
	return err
}
