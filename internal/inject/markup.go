package inject

import "github.com/xkilldash9x/pdp-injector/internal/dom"

// Markers identify nodes this system injected.
const (
	ButtonGroupID    = "custom-buttons-container"
	ButtonGroupClass = "custom-button-container"
	ARGroupClass     = "ar-button-container"
	ARButtonClass    = "ar-button"

	// ButtonGroupSelector matches current and stale button groups.
	ButtonGroupSelector = "#" + ButtonGroupID + ", ." + ButtonGroupClass
	// ARGroupSelector matches AR trigger groups.
	ARGroupSelector = "." + ARGroupClass
)

// Control labels.
const (
	LabelViewIn3D   = "View in 3D"
	LabelAddToCart  = "Add to Cart"
	AddedToCartText = "Product added to cart!"
)

func newButton(doc dom.Document, class, label string, action dom.Action) dom.Element {
	b := doc.CreateElement("button")
	b.SetAttr("class", class)
	b.SetAttr("type", "button")
	b.SetAttr("aria-label", label)
	dom.SetAction(b, action)
	b.SetText(label)
	return b
}

// buildButtonGroup builds the detached main button group.
func buildButtonGroup(doc dom.Document) dom.Element {
	group := doc.CreateElement("div")
	group.SetID(ButtonGroupID)
	group.AddClass(ButtonGroupClass)
	group.AppendChild(newButton(doc, "custom-button secondary", LabelViewIn3D, dom.ActionOpenMain))
	group.AppendChild(newButton(doc, "custom-button primary", LabelAddToCart, dom.ActionAddToCart))
	return group
}

// buildARGroup builds the detached AR trigger group for the image area.
func buildARGroup(doc dom.Document) dom.Element {
	group := doc.CreateElement("div")
	group.AddClass(ARGroupClass)
	group.AppendChild(newButton(doc, ARButtonClass, LabelViewIn3D, dom.ActionOpenImage))
	return group
}
