package style

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pdp-injector/internal/dom/htmldom"
)

func TestEnsure_Once(t *testing.T) {
	doc := htmldom.New()
	inj := NewInjector(doc, nil)

	assert.True(t, inj.Ensure())
	assert.False(t, inj.Ensure())

	styles := doc.QuerySelectorAll("style")
	require.Len(t, styles, 1)
	assert.Equal(t, StylesheetID, styles[0].ID())
	assert.Equal(t, "HEAD", styles[0].Parent().TagName())
	assert.Contains(t, styles[0].Text(), ".modal-overlay.show")
}

func TestEnsure_RespectsExisting(t *testing.T) {
	doc, err := htmldom.ParseString(`<html><head><style id="custom-buttons-styles">/* ours */</style></head><body></body></html>`)
	require.NoError(t, err)

	assert.False(t, NewInjector(doc, nil).Ensure())
	assert.Len(t, doc.QuerySelectorAll("style"), 1)
}

func TestStylesheetCoversMarkers(t *testing.T) {
	css := Stylesheet()
	for _, sel := range []string{".custom-button-container", ".ar-button-container", ".modal-overlay", ".modal-content", ".modal-close"} {
		assert.Contains(t, css, sel)
	}
}
