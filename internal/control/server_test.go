// internal/control/server_test.go
package control

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom/htmldom"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/page"
)

const productPage = `<html><head></head><body>
<div class="css-18m6ozg"><h1>Brake Pads</h1></div>
<div class="css-1xvhojq"><div><img src="/pads.jpg"></div></div>
</body></html>`

type fixture struct {
	srv      *httptest.Server
	session  *page.Session
	mu       sync.Mutex
	messages []string
}

func (f *fixture) notified() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func newFixture(t *testing.T, withSession bool) *fixture {
	t.Helper()
	loop := eventloop.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	f := &fixture{}
	if withSession {
		doc, err := htmldom.ParseString(productPage)
		require.NoError(t, err)
		cfg := config.NewDefaultConfig()
		cfg.Injector.AttemptDelays = []time.Duration{time.Hour}
		cfg.Injector.DefaultViewer = false
		notifier := page.NotifierFunc(func(m string) {
			f.mu.Lock()
			f.messages = append(f.messages, m)
			f.mu.Unlock()
		})
		f.session = page.New(loop, doc, doc.Source(loop.Post), cfg, notifier, nil)
		var startErr error
		require.NoError(t, loop.Do(ctx, func() { startErr = f.session.Start() }))
		require.NoError(t, startErr)
	}

	s := New(config.ControlConfig{}, loop, func() *page.Session { return f.session }, nil)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		f.srv.Close()
		if f.session != nil {
			_ = loop.Do(ctx, f.session.Stop)
		}
		cancel()
		<-done
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestState_NoSession(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.do(t, http.MethodGet, "/state")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, errNoSession.Error())
}

func TestInjectAndState(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodGet, "/state")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"buttons_injected":false`)

	code, body = f.do(t, http.MethodPost, "/inject")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"outcome":"injected"`)

	code, body = f.do(t, http.MethodPost, "/inject")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"outcome":"already_injected"`)
	assert.Contains(t, body, `"buttons_injected":true`)
}

func TestViewerOpenClose(t *testing.T) {
	f := newFixture(t, true)
	f.do(t, http.MethodPost, "/inject")

	code, _ := f.do(t, http.MethodPost, "/viewer/open?entry=sideways")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/viewer/open?entry=trigger-main")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"mode":"embedded"`)

	code, body = f.do(t, http.MethodPost, "/viewer/close")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"mode":"image"`)
	assert.Contains(t, body, `"embedded_frames":0`)
}

func TestActions(t *testing.T) {
	f := newFixture(t, true)

	code, _ := f.do(t, http.MethodPost, "/actions/dance")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/actions/add-to-cart")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"Product added to cart!"}, f.notified())

	code, _ = f.do(t, http.MethodGet, "/actions/add-to-cart")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := eventloop.NewManual(time.Now(), nil)
	s := New(config.ControlConfig{}, loop, func() *page.Session { return nil }, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "ok"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
