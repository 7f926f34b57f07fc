// Package style inserts the injector's stylesheet once per page.
package style

import (
	_ "embed"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/dom"
)

// StylesheetID marks the injected <style> element.
const StylesheetID = "custom-buttons-styles"

//go:embed styles.css
var stylesheet string

// Stylesheet returns the embedded CSS.
func Stylesheet() string { return stylesheet }

// Injector owns the stylesheet for one document.
type Injector struct {
	doc    dom.Document
	logger *zap.Logger
}

// NewInjector returns an injector for doc.
func NewInjector(doc dom.Document, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{doc: doc, logger: logger.Named("style")}
}

// Ensure appends the stylesheet to <head> (or <body> when there is no head)
// unless it is already present. It reports whether it inserted.
func (i *Injector) Ensure() bool {
	if i.doc.GetElementByID(StylesheetID) != nil {
		return false
	}
	parent := i.doc.Head()
	if parent == nil {
		parent = i.doc.Body()
	}
	if parent == nil {
		i.logger.Warn("Document has neither head nor body; styles not injected.")
		return false
	}

	el := i.doc.CreateElement("style")
	el.SetID(StylesheetID)
	el.SetText(stylesheet)
	parent.AppendChild(el)
	i.logger.Debug("Stylesheet injected.")
	return true
}
