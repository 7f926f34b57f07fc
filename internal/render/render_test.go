// internal/render/render_test.go
package render

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/inject"
	"github.com/xkilldash9x/pdp-injector/internal/style"
	"github.com/xkilldash9x/pdp-injector/internal/viewer"
)

const productPage = `<!DOCTYPE html><html><head><title>Brake Pads</title></head><body>
<div class="css-18m6ozg"><h1>Brake Pads</h1></div>
<div class="css-1xvhojq">
  <div class="frame"><img src="/pads.jpg"></div>
  <button class="ar-button">View in AR</button>
</div>
</body></html>`

func encode(t *testing.T, encoding, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write([]byte(body))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	case "br":
		bw := brotli.NewWriter(&buf)
		_, err := bw.Write([]byte(body))
		require.NoError(t, err)
		require.NoError(t, bw.Close())
	default:
		buf.WriteString(body)
	}
	return buf.Bytes()
}

func TestRenderURL_Encodings(t *testing.T) {
	for _, encoding := range []string{"", "gzip", "br"} {
		name := encoding
		if name == "" {
			name = "identity"
		}
		t.Run(name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, cfg.Render.UserAgent, r.Header.Get("User-Agent"))
				if encoding != "" {
					assert.Contains(t, r.Header.Get("Accept-Encoding"), encoding)
					w.Header().Set("Content-Encoding", encoding)
				}
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write(encode(t, encoding, productPage))
			}))
			defer srv.Close()

			var out bytes.Buffer
			res, err := New(cfg, nil).RenderURL(context.Background(), srv.URL, &out)
			require.NoError(t, err)

			assert.Equal(t, srv.URL, res.URL)
			assert.Equal(t, out.Len(), res.Bytes)
			assert.True(t, res.Status.State.ButtonsInjected)
			assert.Equal(t, viewer.Embedded, res.Status.Mode)
			assert.Contains(t, out.String(), `id="`+inject.ButtonGroupID+`"`)
			assert.Contains(t, out.String(), `id="`+style.StylesheetID+`"`)
			assert.Contains(t, out.String(), `id="`+viewer.FrameID+`"`)
		})
	}
}

func TestRenderURL_UnsupportedEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		_, _ = w.Write([]byte("opaque"))
	}))
	defer srv.Close()

	_, err := New(config.NewDefaultConfig(), nil).RenderURL(context.Background(), srv.URL, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestRenderURL_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(config.NewDefaultConfig(), nil).RenderURL(context.Background(), srv.URL, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestRender_PageWithoutAnchor(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Injector.DefaultViewer = false

	var out bytes.Buffer
	res, err := New(cfg, nil).Render(strings.NewReader(`<html><body><p>Out of stock</p></body></html>`), &out)
	require.NoError(t, err)

	assert.False(t, res.Status.State.ButtonsInjected)
	assert.Equal(t, viewer.Image, res.Status.Mode)
	assert.NotContains(t, out.String(), inject.ButtonGroupID)
	assert.Contains(t, out.String(), "Out of stock")
}
