package anchor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/dom/htmldom"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/retry"
)

func contracts() Contracts {
	return NewContracts(config.NewDefaultConfig().Anchors)
}

func parse(t *testing.T, s string) *htmldom.Document {
	t.Helper()
	d, err := htmldom.ParseString(s)
	require.NoError(t, err)
	return d
}

func TestLocate_PrimaryAndFallback(t *testing.T) {
	c := contracts()

	d := parse(t, `<div class="product-info" id="fallback"></div><div class="css-18m6ozg" id="primary"></div>`)
	el, err := NewLocator(d, nil).Locate(c.Insertion)
	require.NoError(t, err)
	assert.Equal(t, "primary", el.ID(), "primary selector wins regardless of document order")

	d = parse(t, `<div data-testid="product-details" id="testid"></div><div class="product-info"></div>`)
	el, err = NewLocator(d, nil).Locate(c.Insertion)
	require.NoError(t, err)
	assert.Equal(t, "testid", el.ID())
}

func TestLocate_NotFound(t *testing.T) {
	d := parse(t, `<p>loading</p>`)
	el, err := NewLocator(d, nil).Locate(contracts().Insertion)
	assert.Nil(t, el)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnchorNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "insertion", nf.Contract)
}

func TestLocate_ExcludesOwnARTrigger(t *testing.T) {
	c := contracts()
	d := parse(t, `<div class="css-1xvhojq">
	  <div class="ar-button-container"><button class="ar-button" id="ours"></button></div>
	</div>`)
	l := NewLocator(d, nil)

	_, err := l.Locate(c.VendorAR)
	assert.ErrorIs(t, err, ErrAnchorNotFound, "our own trigger is not the vendor control")

	host := l.Find(c.ImageHost)
	require.NotNil(t, host)
	vendor := d.CreateElement("button")
	vendor.AddClass("ar-button")
	vendor.SetID("vendor")
	host.AppendChild(vendor)

	el, err := l.Locate(c.VendorAR)
	require.NoError(t, err)
	assert.Equal(t, "vendor", el.ID())
}

func TestAwait(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("present immediately", func(t *testing.T) {
		loop := eventloop.NewManual(start, nil)
		d := parse(t, `<div class="css-1xvhojq"><img src="a.jpg"></div>`)
		calls := 0
		run := NewLocator(d, nil).Await(loop, contracts().ProductImage, retry.Fixed(time.Second, time.Second, 3), func(el dom.Element) {
			calls++
			assert.Equal(t, "IMG", el.TagName())
		})
		assert.Equal(t, 1, calls)
		assert.True(t, run.Done())
	})

	t.Run("appears later", func(t *testing.T) {
		loop := eventloop.NewManual(start, nil)
		d := parse(t, `<div class="css-1xvhojq"></div>`)
		l := NewLocator(d, nil)
		var foundAt time.Duration
		calls := 0
		run := l.Await(loop, contracts().ProductImage, retry.Fixed(500*time.Millisecond, 500*time.Millisecond, 10), func(dom.Element) {
			calls++
			foundAt = loop.Now().Sub(start)
		})

		loop.AfterFunc(1200*time.Millisecond, func() {
			l.Find(contracts().ImageHost).AppendChild(d.CreateElement("img"))
		})
		loop.Advance(10 * time.Second)

		assert.Equal(t, 1, calls)
		assert.Equal(t, 1500*time.Millisecond, foundAt)
		assert.Equal(t, 3, run.Attempts())
	})

	t.Run("gives up silently", func(t *testing.T) {
		loop := eventloop.NewManual(start, nil)
		d := parse(t, `<p></p>`)
		run := NewLocator(d, nil).Await(loop, contracts().ProductImage, retry.Fixed(0, time.Second, 3), func(dom.Element) {
			t.Fatal("unexpected")
		})
		loop.Advance(time.Minute)
		assert.True(t, run.Done())
		assert.Equal(t, 3, run.Attempts())
	})
}
