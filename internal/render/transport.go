// internal/render/transport.go
package render

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

var (
	gzipReaders = sync.Pool{New: func() any { return new(gzip.Reader) }}
	brReaders   = sync.Pool{New: func() any { return brotli.NewReader(nil) }}
	emptyReader = strings.NewReader("")
)

// newTransport returns an HTTP/2 capable transport that negotiates and
// decodes compressed bodies itself.
func newTransport(logger *zap.Logger) http.RoundTripper {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
		ForceAttemptHTTP2:     true,
		// Decoding is done by decodingTransport so brotli is covered too.
		DisableCompression: true,
	}
	if err := http2.ConfigureTransport(base); err != nil {
		logger.Warn("HTTP/2 unavailable, using HTTP/1.1.", zap.Error(err))
	}
	return &decodingTransport{next: base}
}

type decodingTransport struct {
	next http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br, gzip, identity")
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := DecodeBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// pooledBody closes the decoder layer and returns it to its pool.
type pooledBody struct {
	io.Reader
	underlying io.ReadCloser
	release    func()
}

func (b *pooledBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return b.underlying.Close()
}

// DecodeBody unwraps every Content-Encoding layer of resp, last applied
// first.
func DecodeBody(resp *http.Response) error {
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}
	var layers []string
	for _, v := range encodings {
		for _, e := range strings.Split(v, ",") {
			layers = append(layers, strings.ToLower(strings.TrimSpace(e)))
		}
	}

	for i := len(layers) - 1; i >= 0; i-- {
		switch layers[i] {
		case "gzip", "x-gzip":
			zr := gzipReaders.Get().(*gzip.Reader)
			if err := zr.Reset(resp.Body); err != nil {
				gzipReaders.Put(zr)
				return fmt.Errorf("gzip body: %w", err)
			}
			resp.Body = &pooledBody{Reader: zr, underlying: resp.Body, release: func() {
				_ = zr.Reset(emptyReader)
				gzipReaders.Put(zr)
			}}
		case "br":
			br := brReaders.Get().(*brotli.Reader)
			if err := br.Reset(resp.Body); err != nil {
				brReaders.Put(br)
				return fmt.Errorf("brotli body: %w", err)
			}
			resp.Body = &pooledBody{Reader: br, underlying: resp.Body, release: func() {
				_ = br.Reset(emptyReader)
				brReaders.Put(br)
			}}
		case "identity", "":
		default:
			return errors.Join(ErrUnsupportedEncoding, fmt.Errorf("content encoding %q", layers[i]))
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}
