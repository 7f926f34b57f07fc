// internal/dom/dom.go

// Package dom is the small DOM surface the injector needs. It is implemented
// by the live CDP-backed document in internal/browser and by the in-memory
// document in internal/dom/htmldom.
//
// Lookups return a nil Element when nothing matches; absence is a normal
// condition on pages that render progressively.
package dom

// Document is a queryable, mutable HTML document.
type Document interface {
	QuerySelector(selector string) Element
	QuerySelectorAll(selector string) []Element
	GetElementByID(id string) Element
	CreateElement(tag string) Element
	Head() Element
	Body() Element
}

// Element is a single element node.
type Element interface {
	TagName() string
	ID() string
	SetID(id string)

	Attr(name string) string
	HasAttr(name string) bool
	SetAttr(name, value string)
	RemoveAttr(name string)

	HasClass(class string) bool
	AddClass(class string)
	RemoveClass(class string)

	// Style returns an inline style property, "" when unset.
	Style(property string) string
	// SetStyle sets an inline style property; an empty value removes it.
	SetStyle(property, value string)

	Text() string
	SetText(text string)

	Parent() Element
	NextSibling() Element
	Closest(selector string) Element
	QuerySelector(selector string) Element
	QuerySelectorAll(selector string) []Element

	AppendChild(child Element)
	// InsertBefore inserts child before ref. A nil ref appends.
	InsertBefore(child, ref Element)
	Remove()

	// Same reports whether both handles point at the same node.
	Same(other Element) bool
}

// Action names a user action carried by an injected control.
type Action string

const (
	ActionAddToCart Action = "add-to-cart"
	ActionOpenMain  Action = "open-main"
	ActionOpenImage Action = "open-image"
	ActionClose     Action = "close"
)

const (
	// ActionAttr holds the action name on a control.
	ActionAttr = "data-pdp-action"
	// SelfOnlyAttr restricts an action to clicks on the element itself,
	// not its descendants (overlay backdrop).
	SelfOnlyAttr = "data-pdp-self"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAddToCart, ActionOpenMain, ActionOpenImage, ActionClose:
		return true
	}
	return false
}

// SetAction binds an action to el.
func SetAction(el Element, a Action) {
	el.SetAttr(ActionAttr, string(a))
}

// ActionOf resolves the action triggered by a click on target, mirroring the
// delegated click listener installed in live pages.
func ActionOf(target Element) (Action, bool) {
	if target == nil {
		return "", false
	}
	el := target.Closest("[" + ActionAttr + "]")
	if el == nil {
		return "", false
	}
	if el.HasAttr(SelfOnlyAttr) && !el.Same(target) {
		return "", false
	}
	a := Action(el.Attr(ActionAttr))
	return a, a.Valid()
}

// IsHidden reports whether el is hidden through its inline display style.
func IsHidden(el Element) bool {
	return el != nil && el.Style("display") == "none"
}

// Hide sets display:none on el. Nil elements are ignored.
func Hide(el Element) {
	if el != nil {
		el.SetStyle("display", "none")
	}
}

// Show clears the inline display override on el. Nil elements are ignored.
func Show(el Element) {
	if el != nil {
		el.SetStyle("display", "")
	}
}

// RemoveAll detaches every element matching selector.
func RemoveAll(doc Document, selector string) int {
	els := doc.QuerySelectorAll(selector)
	for _, el := range els {
		el.Remove()
	}
	return len(els)
}
