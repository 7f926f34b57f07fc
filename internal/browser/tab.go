// internal/browser/tab.go
package browser

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/mutation"
)

//go:embed bridge.js
var bridgeSource string

const evalTimeout = 5 * time.Second

// Tab is one browser tab running the bridge.
//
// Binding events arrive on chromedp's goroutine and are posted to the loop;
// the Document, Source and callbacks are only touched on the loop.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	loop   *eventloop.Loop
	cfg    config.BrowserConfig
	logger *zap.Logger

	doc    *Document
	source *Source

	mu       sync.Mutex
	docToken string
	onAction func(dom.Action)
	onReset  func(token string)
}

func newTab(ctx context.Context, cancel context.CancelFunc, loop *eventloop.Loop, cfg config.BrowserConfig, logger *zap.Logger) *Tab {
	t := &Tab{
		ctx:    ctx,
		cancel: cancel,
		loop:   loop,
		cfg:    cfg,
		logger: logger.Named("tab"),
	}
	t.doc = newDocument(t, t.logger)
	t.source = newSource(loop)
	return t
}

func (t *Tab) install() error {
	chromedp.ListenTarget(t.ctx, t.listen)
	err := chromedp.Run(t.ctx,
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bridgeSource).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to install page bridge: %w", err)
	}
	return nil
}

// Navigate loads url and makes sure the bridge is running in the result.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	if t.cfg.NavigationTimeout > 0 {
		var cancelTimeout context.CancelFunc
		navCtx, cancelTimeout = context.WithTimeout(navCtx, t.cfg.NavigationTimeout)
		defer cancelTimeout()
	}

	t.logger.Info("Navigating.", zap.String("url", url))
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.Evaluate(bridgeSource, nil),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Document returns the live document. Use it on the loop only.
func (t *Tab) Document() *Document { return t.doc }

// Source returns the page's mutation feed.
func (t *Tab) Source() *Source { return t.source }

// DocumentToken identifies the document currently loaded in the tab. It
// changes whenever the page navigates or reloads.
func (t *Tab) DocumentToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.docToken
}

// OnAction sets the handler for clicks on injected controls.
func (t *Tab) OnAction(fn func(dom.Action)) {
	t.mu.Lock()
	t.onAction = fn
	t.mu.Unlock()
}

// OnReset sets the handler run when the tab loads a new document. The old
// document's elements are gone by then.
func (t *Tab) OnReset(fn func(token string)) {
	t.mu.Lock()
	t.onReset = fn
	t.mu.Unlock()
}

// Notify shows message as a page alert without waiting for it to be
// dismissed.
func (t *Tab) Notify(message string) {
	encoded, err := json.MarshalToString(message)
	if err != nil {
		t.logger.Warn("Could not encode notification.", zap.Error(err))
		return
	}
	if _, err := t.eval(fmt.Sprintf("setTimeout(() => alert(%s), 0), ''", encoded)); err != nil {
		t.logger.Warn("Failed to show notification.", zap.Error(err))
	}
}

// Close closes the tab.
func (t *Tab) Close() error {
	err := chromedp.Cancel(t.ctx)
	t.cancel()
	return err
}

func (t *Tab) eval(expr string) (string, error) {
	ctx, cancel := context.WithTimeout(t.ctx, evalTimeout)
	defer cancel()
	var out string
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return "", err
	}
	return out, nil
}

func (t *Tab) listen(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		if ev.Name != BindingName {
			return
		}
		p, err := decodePayload(ev.Payload)
		if err != nil {
			t.logger.Warn("Dropping bridge message.", zap.Error(err))
			return
		}
		t.route(p)
	case *page.EventJavascriptDialogOpening:
		if !t.cfg.AutoAcceptDialogs {
			return
		}
		// Handling the dialog from the listener goroutine would deadlock.
		go func() {
			if err := chromedp.Run(t.ctx, page.HandleJavaScriptDialog(true)); err != nil {
				t.logger.Debug("Failed to accept dialog.", zap.Error(err))
			}
		}()
	}
}

func (t *Tab) route(p payload) {
	switch p.Kind {
	case KindMutations:
		t.source.deliver(*p.Batch)
	case KindAction:
		a := dom.Action(p.Action)
		t.loop.Post(func() {
			t.mu.Lock()
			fn := t.onAction
			t.mu.Unlock()
			if fn != nil {
				fn(a)
			}
		})
	case KindReady:
		t.loop.Post(func() { t.ready(p.Doc) })
	}
}

func (t *Tab) ready(token string) {
	t.mu.Lock()
	prev := t.docToken
	t.docToken = token
	fn := t.onReset
	t.mu.Unlock()

	if prev == "" || prev == token {
		return
	}
	t.logger.Info("Document replaced.", zap.String("token", token))
	t.source.deliver(mutation.Batch{Records: []mutation.Record{{Op: mutation.OpDocReset}}})
	if fn != nil {
		fn(token)
	}
}
