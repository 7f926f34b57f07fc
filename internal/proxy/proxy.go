// internal/proxy/proxy.go

// Package proxy serves product pages through an HTTP proxy that applies the
// injector to matching HTML responses before they reach the browser.
package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/render"
)

const shutdownGrace = 10 * time.Second

// Proxy rewrites product pages in flight.
type Proxy struct {
	cfg       config.ProxyConfig
	renderer  *render.Renderer
	server    *goproxy.ProxyHttpServer
	logger    *zap.Logger
	rewritten atomic.Int64
}

// New builds the proxy. cfg.Proxy.Match is matched against the request path
// and against host+path.
func New(cfg *config.Config, logger *zap.Logger) (*Proxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("proxy")

	match, err := regexp.Compile(cfg.Proxy.Match)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy match: %w", err)
	}

	gp := goproxy.NewProxyHttpServer()
	gp.Logger = zap.NewStdLog(logger.Named("goproxy"))

	p := &Proxy{
		cfg:      cfg.Proxy,
		renderer: render.New(cfg, logger),
		server:   gp,
		logger:   logger,
	}

	if cfg.Proxy.CACert != "" {
		ca, err := loadCA(cfg.Proxy.CACert, cfg.Proxy.CAKey)
		if err != nil {
			return nil, err
		}
		mitm := &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: goproxy.TLSConfigFromCA(&ca)}
		gp.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			return mitm, host
		}))
		logger.Info("HTTPS interception enabled.")
	} else {
		logger.Info("No CA configured; HTTPS is tunneled without injection.")
	}

	gp.OnRequest(goproxy.UrlMatches(match)).DoFunc(p.prepare)
	gp.OnResponse(goproxy.UrlMatches(match), goproxy.ContentTypeIs("text/html", "application/xhtml+xml")).DoFunc(p.rewrite)
	return p, nil
}

// Handler returns the proxy as an HTTP handler.
func (p *Proxy) Handler() http.Handler { return p.server }

// Rewritten reports how many pages have been injected so far.
func (p *Proxy) Rewritten() int64 { return p.rewritten.Load() }

// Serve listens on the configured address until ctx is cancelled.
func (p *Proxy) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           p.server,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(p.logger.Named("http_server")),
	}
	p.logger.Info("Injecting proxy listening.", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		return fmt.Errorf("proxy server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// prepare lets the upstream transport negotiate compression it can undo.
func (p *Proxy) prepare(r *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	r.Header.Del("Accept-Encoding")
	return r, nil
}

func (p *Proxy) rewrite(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return resp
	}
	url := ctx.Req.URL.String()

	if err := render.DecodeBody(resp); err != nil {
		p.logger.Warn("Passing page through undecoded.", zap.String("url", url), zap.Error(err))
		return resp
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, "upstream body: "+err.Error())
	}

	out, err := p.inject(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		p.logger.Warn("Injection failed; serving the original page.", zap.String("url", url), zap.Error(err))
		setBody(resp, raw)
		return resp
	}

	setBody(resp, out)
	// The page is re-encoded as UTF-8 and gains inline styles and a frame.
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.Header.Del("Content-Security-Policy")
	p.rewritten.Add(1)
	p.logger.Debug("Page injected.", zap.String("url", url), zap.Int("bytes", len(out)))
	return resp
}

func (p *Proxy) inject(raw []byte, contentType string) ([]byte, error) {
	src, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := p.renderer.Render(src, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// setBody swaps in the rewritten page. goproxy drops Content-Length for
// replaced bodies and streams them chunked.
func setBody(resp *http.Response, body []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = -1
	resp.Header.Del("Content-Length")
	resp.Header.Del("Content-Encoding")
}

func loadCA(certFile, keyFile string) (tls.Certificate, error) {
	ca, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("invalid CA certificate/key pair: %w", err)
	}
	if len(ca.Certificate) == 0 {
		return tls.Certificate{}, errors.New("CA certificate chain is empty")
	}
	if ca.Leaf, err = x509.ParseCertificate(ca.Certificate[0]); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	return ca, nil
}
