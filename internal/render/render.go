// internal/render/render.go

// Package render runs the injector offline: it loads a product page into an
// in-memory document, lets a session run for a fixed stretch of virtual time
// and writes the resulting markup.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom/htmldom"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/page"
)

// ErrUnsupportedEncoding is returned for response bodies in an encoding the
// renderer cannot decode.
var ErrUnsupportedEncoding = errors.New("render: unsupported content encoding")

// Result summarises one render.
type Result struct {
	URL    string      `json:"url,omitempty"`
	Status page.Status `json:"status"`
	Bytes  int         `json:"bytes"`
}

// Renderer renders pages with the injector applied.
type Renderer struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

// New creates a Renderer.
func New(cfg *config.Config, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("render")
	return &Renderer{
		cfg: cfg,
		client: &http.Client{
			Transport: newTransport(logger),
			Timeout:   cfg.Render.Timeout,
		},
		logger: logger,
	}
}

// RenderURL fetches url and renders it into w.
func (r *Renderer) RenderURL(ctx context.Context, url string, w io.Writer) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("invalid page url: %w", err)
	}
	if r.cfg.Render.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.Render.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("failed to fetch %s: unexpected status %s", url, resp.Status)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode %s: %w", url, err)
	}
	res, err := r.Render(body, w)
	res.URL = url
	return res, err
}

// Render parses a page from src, runs a session over it and writes the final
// markup to w.
func (r *Renderer) Render(src io.Reader, w io.Writer) (Result, error) {
	doc, err := htmldom.Parse(src)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse page: %w", err)
	}

	loop := eventloop.NewManual(time.Now(), r.logger)
	notifier := page.NotifierFunc(func(message string) {
		r.logger.Debug("Notification suppressed.", zap.String("message", message))
	})
	session := page.New(loop, doc, doc.Source(loop.Post), r.cfg, notifier, r.logger)
	if err := session.Start(); err != nil {
		return Result{}, err
	}
	loop.Advance(r.cfg.Render.Horizon)
	status := session.Status()
	session.Stop()
	loop.Drain()

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return Result{}, fmt.Errorf("failed to write page: %w", err)
	}
	n, err := w.Write(buf.Bytes())
	if err != nil {
		return Result{}, fmt.Errorf("failed to write page: %w", err)
	}

	r.logger.Info("Page rendered.",
		zap.String("session_id", status.ID),
		zap.Bool("buttons_injected", status.State.ButtonsInjected),
		zap.Stringer("mode", status.Mode),
		zap.Int("bytes", n),
	)
	return Result{Status: status, Bytes: n}, nil
}
