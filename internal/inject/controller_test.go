package inject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pdp-injector/internal/anchor"
	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/dom/htmldom"
	"github.com/xkilldash9x/pdp-injector/internal/state"
)

const productPage = `<html><head></head><body>
<main>
  <div class="css-18m6ozg" id="anchor"><h1>Brake Pads</h1></div>
  <div class="reviews" id="after"></div>
</main>
<div class="css-1xvhojq">
  <div class="frame"><img src="/pads.jpg"></div>
  <button class="ar-button" id="vendor-ar">View in AR</button>
  <span id="tail"></span>
</div>
</body></html>`

func newController(t *testing.T, page string) (*Controller, *htmldom.Document, *state.State) {
	t.Helper()
	doc, err := htmldom.ParseString(page)
	require.NoError(t, err)
	st := state.New()
	contracts := anchor.NewContracts(config.NewDefaultConfig().Anchors)
	return NewController(doc, anchor.NewLocator(doc, nil), contracts, st, nil), doc, st
}

func TestRun_InjectsNextToAnchor(t *testing.T) {
	c, doc, st := newController(t, productPage)

	assert.Equal(t, Injected, c.Run())
	assert.True(t, st.ButtonsInjected())

	group := doc.GetElementByID("anchor").NextSibling()
	require.NotNil(t, group)
	assert.Equal(t, ButtonGroupID, group.ID())
	assert.True(t, group.HasClass(ButtonGroupClass))
	assert.Equal(t, "after", group.NextSibling().ID())

	buttons := group.QuerySelectorAll("button")
	require.Len(t, buttons, 2)
	labels := []string{buttons[0].Text(), buttons[1].Text()}
	assert.ElementsMatch(t, []string{"Add to Cart", "View in 3D"}, labels)

	a, ok := dom.ActionOf(buttons[0])
	require.True(t, ok)
	assert.Equal(t, dom.ActionOpenMain, a)
	a, ok = dom.ActionOf(buttons[1])
	require.True(t, ok)
	assert.Equal(t, dom.ActionAddToCart, a)
}

func TestRun_ARTriggerAfterVendorControl(t *testing.T) {
	c, doc, _ := newController(t, productPage)
	require.Equal(t, Injected, c.Run())

	next := doc.GetElementByID("vendor-ar").NextSibling()
	require.NotNil(t, next)
	assert.True(t, next.HasClass(ARGroupClass))
	trigger := next.QuerySelector("button." + ARButtonClass)
	require.NotNil(t, trigger)
	assert.Equal(t, LabelViewIn3D, trigger.Text())
	a, _ := dom.ActionOf(trigger)
	assert.Equal(t, dom.ActionOpenImage, a)
}

func TestRun_ARTriggerHiddenWhileViewerOpen(t *testing.T) {
	c, doc, _ := newController(t, productPage)
	c.HideARWhile(func() bool { return true })
	require.Equal(t, Injected, c.Run())

	group := doc.QuerySelector(ARGroupSelector)
	require.NotNil(t, group)
	assert.True(t, dom.IsHidden(group))
	assert.False(t, dom.IsHidden(doc.QuerySelector(ButtonGroupSelector)), "only the AR trigger follows the viewer")
}

func TestRun_ARTriggerVisibleWhileViewerClosed(t *testing.T) {
	c, doc, _ := newController(t, productPage)
	c.HideARWhile(func() bool { return false })
	require.Equal(t, Injected, c.Run())
	assert.False(t, dom.IsHidden(doc.QuerySelector(ARGroupSelector)))
}

func TestRun_ARTriggerAppendedWithoutVendorControl(t *testing.T) {
	c, doc, _ := newController(t, `<div class="css-18m6ozg"></div><div class="css-1xvhojq"><img src="a.jpg"></div>`)
	require.Equal(t, Injected, c.Run())

	img := doc.QuerySelector(".css-1xvhojq img")
	require.NotNil(t, img)
	group := img.NextSibling()
	require.NotNil(t, group)
	assert.True(t, group.HasClass(ARGroupClass))
	assert.Nil(t, group.NextSibling())
}

func TestRun_NoImageHost(t *testing.T) {
	c, doc, st := newController(t, `<div class="product-info"></div>`)
	assert.Equal(t, Injected, c.Run())
	assert.True(t, st.ButtonsInjected())
	assert.Empty(t, doc.QuerySelectorAll(ARGroupSelector))
}

func TestRun_Idempotent(t *testing.T) {
	c, doc, _ := newController(t, productPage)
	assert.Equal(t, Injected, c.Run())
	writes := doc.Writes()

	for i := 0; i < 5; i++ {
		assert.Equal(t, AlreadyInjected, c.Run())
	}
	assert.Len(t, doc.QuerySelectorAll(ButtonGroupSelector), 1)
	assert.Len(t, doc.QuerySelectorAll(ARGroupSelector), 1)
	assert.Equal(t, writes, doc.Writes(), "guarded runs do not touch the DOM")
}

func TestRun_RemovesStaleInjections(t *testing.T) {
	page := `<div class="css-18m6ozg"></div>
	<div class="custom-button-container"><button>old</button></div>
	<div id="custom-buttons-container"></div>
	<div class="css-1xvhojq"><div class="ar-button-container"><button class="ar-button">old</button></div></div>`
	c, doc, _ := newController(t, page)

	require.Equal(t, Injected, c.Run())
	groups := doc.QuerySelectorAll(ButtonGroupSelector)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].QuerySelectorAll("button"), 2)
	assert.Len(t, doc.QuerySelectorAll(ARGroupSelector), 1)
}

func TestRun_AnchorAbsent(t *testing.T) {
	c, doc, st := newController(t, `<div class="css-1xvhojq"><img src="a.jpg"></div>`)
	notified := false
	c.OnInjected(func() { notified = true })

	assert.NotPanics(t, func() {
		assert.Equal(t, AnchorNotFound, c.Run())
	})
	assert.False(t, st.ButtonsInjected())
	assert.False(t, notified)
	assert.Nil(t, doc.QuerySelector(ButtonGroupSelector))
	assert.Nil(t, doc.QuerySelector(ARGroupSelector), "AR trigger waits for the insertion point")
}

func TestRun_NotifiesListenersOnce(t *testing.T) {
	c, _, _ := newController(t, productPage)
	calls := 0
	c.OnInjected(func() { calls++ })
	c.Run()
	c.Run()
	assert.Equal(t, 1, calls)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "injected", Injected.String())
	assert.Equal(t, "already_injected", AlreadyInjected.String())
	assert.Equal(t, "anchor_not_found", AnchorNotFound.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

func TestAddToCart(t *testing.T) {
	c, _, _ := newController(t, productPage)
	assert.Equal(t, "Product added to cart!", c.AddToCart())
}
