// internal/browser/tab_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/mutation"
)

func TestAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	opts := AllocatorOptions(config.BrowserConfig{Headless: true})
	assert.Len(t, opts, base+3)

	opts = AllocatorOptions(config.BrowserConfig{
		Headless:     false,
		ExecPath:     "/usr/bin/chromium",
		UserDataDir:  "/tmp/profile",
		WindowWidth:  1366,
		WindowHeight: 900,
	})
	assert.Len(t, opts, base+7)
}

func newTestTab(t *testing.T) (*Tab, *eventloop.Loop) {
	t.Helper()
	loop := eventloop.NewManual(time.Unix(0, 0), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return newTab(ctx, cancel, loop, config.BrowserConfig{}, zap.NewNop()), loop
}

func TestTab_RoutesActions(t *testing.T) {
	tab, loop := newTestTab(t)
	var got []dom.Action
	tab.OnAction(func(a dom.Action) { got = append(got, a) })

	tab.route(payload{Kind: KindAction, Action: "add-to-cart"})
	assert.Empty(t, got, "delivered on the loop")
	loop.Drain()
	assert.Equal(t, []dom.Action{dom.ActionAddToCart}, got)
}

func TestTab_RoutesMutations(t *testing.T) {
	tab, loop := newTestTab(t)
	var batches []mutation.Batch
	cancel, err := tab.Source().Subscribe(func(b mutation.Batch) { batches = append(batches, b) })
	require.NoError(t, err)

	b := mutation.Batch{Seq: 1, Records: []mutation.Record{{Op: mutation.OpChildList, Added: 1}}}
	tab.route(payload{Kind: KindMutations, Batch: &b})
	loop.Drain()
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Added())

	cancel()
	tab.route(payload{Kind: KindMutations, Batch: &b})
	loop.Drain()
	assert.Len(t, batches, 1)
}

func TestTab_ReadyTracksDocument(t *testing.T) {
	tab, loop := newTestTab(t)
	var resets []string
	tab.OnReset(func(token string) { resets = append(resets, token) })
	var batches []mutation.Batch
	_, err := tab.Source().Subscribe(func(b mutation.Batch) { batches = append(batches, b) })
	require.NoError(t, err)

	tab.route(payload{Kind: KindReady, Doc: "first"})
	loop.Drain()
	assert.Equal(t, "first", tab.DocumentToken())
	assert.Empty(t, resets, "the first document is not a reset")

	tab.route(payload{Kind: KindReady, Doc: "first"})
	loop.Drain()
	assert.Empty(t, resets, "re-evaluating the bridge is not a reset")

	tab.route(payload{Kind: KindReady, Doc: "second"})
	loop.Drain()
	assert.Equal(t, []string{"second"}, resets)
	require.Len(t, batches, 1)
	assert.Equal(t, mutation.OpDocReset, batches[0].Records[0].Op)
}
