// internal/browser/browser.go

// Package browser drives a real Chromium page over the DevTools protocol and
// exposes it as a dom.Document, so the injector runs unchanged against a live
// product page.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
)

// AllocatorOptions builds the exec allocator flags for a locally launched
// browser.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	return opts
}

// Browser owns one browser process, launched locally or attached remotely.
type Browser struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// Launch starts the browser described by cfg. The browser lives until Close
// is called or ctx is cancelled.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		logger.Info("Attaching to remote browser.", zap.String("url", cfg.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		logger.Info("Launching browser.", zap.Bool("headless", cfg.Headless))
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	}

	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Browser{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// NewTab opens a tab with the bridge installed. Page events are delivered on
// loop.
func (b *Browser) NewTab(loop *eventloop.Loop) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	t := newTab(tabCtx, cancel, loop, b.cfg, b.logger)
	if err := t.install(); err != nil {
		cancel()
		return nil, err
	}
	return t, nil
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
