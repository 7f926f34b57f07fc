// internal/browser/document.go
package browser

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/dom"
)

// evaluator runs a JavaScript expression in the page and returns its string
// result.
type evaluator interface {
	eval(expr string) (string, error)
}

// Document is a dom.Document backed by the bridge in a live tab. Elements are
// numeric handles into the bridge's registry.
//
// CDP failures are logged and read as absence, so a lost tab degrades the
// injector to a no-op instead of failing it.
type Document struct {
	ev     evaluator
	logger *zap.Logger
}

var _ dom.Document = (*Document)(nil)

func newDocument(ev evaluator, logger *zap.Logger) *Document {
	return &Document{ev: ev, logger: logger.Named("document")}
}

func (d *Document) call(op string, args ...any) ([]byte, bool) {
	expr, err := callExpr(op, args...)
	if err != nil {
		d.logger.Warn("Could not encode bridge call.", zap.String("op", op), zap.Error(err))
		return nil, false
	}
	out, err := d.ev.eval(expr)
	if err != nil {
		d.logger.Debug("Bridge call failed.", zap.String("op", op), zap.Error(err))
		return nil, false
	}
	return []byte(out), true
}

func (d *Document) exec(op string, args ...any) {
	d.call(op, args...)
}

func (d *Document) element(op string, args ...any) dom.Element {
	raw, ok := d.call(op, args...)
	if !ok {
		return nil
	}
	var h *int64
	if err := json.Unmarshal(raw, &h); err != nil || h == nil {
		return nil
	}
	return &Element{doc: d, h: *h}
}

func (d *Document) elements(op string, args ...any) []dom.Element {
	raw, ok := d.call(op, args...)
	if !ok {
		return nil
	}
	var hs []*int64
	if err := json.Unmarshal(raw, &hs); err != nil {
		return nil
	}
	out := make([]dom.Element, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, &Element{doc: d, h: *h})
		}
	}
	return out
}

func (d *Document) str(op string, args ...any) string {
	raw, ok := d.call(op, args...)
	if !ok {
		return ""
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return ""
	}
	return *s
}

func (d *Document) boolean(op string, args ...any) bool {
	raw, ok := d.call(op, args...)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

func (d *Document) QuerySelector(selector string) dom.Element { return d.element("qs", selector) }
func (d *Document) QuerySelectorAll(selector string) []dom.Element {
	return d.elements("qsa", selector)
}
func (d *Document) GetElementByID(id string) dom.Element { return d.element("byId", id) }
func (d *Document) CreateElement(tag string) dom.Element { return d.element("create", tag) }
func (d *Document) Head() dom.Element                    { return d.element("head") }
func (d *Document) Body() dom.Element                    { return d.element("body") }

// Element is a handle to an element in the live page.
type Element struct {
	doc *Document
	h   int64
}

var _ dom.Element = (*Element)(nil)

func (e *Element) TagName() string  { return e.doc.str("tag", e.h) }
func (e *Element) ID() string       { return e.Attr("id") }
func (e *Element) SetID(id string)  { e.SetAttr("id", id) }
func (e *Element) Text() string     { return e.doc.str("text", e.h) }
func (e *Element) SetText(t string) { e.doc.exec("setText", e.h, t) }

func (e *Element) Attr(name string) string     { return e.doc.str("attr", e.h, name) }
func (e *Element) HasAttr(name string) bool    { return e.doc.boolean("hasAttr", e.h, name) }
func (e *Element) SetAttr(name, value string)  { e.doc.exec("setAttr", e.h, name, value) }
func (e *Element) RemoveAttr(name string)      { e.doc.exec("removeAttr", e.h, name) }
func (e *Element) HasClass(class string) bool  { return e.doc.boolean("hasClass", e.h, class) }
func (e *Element) AddClass(class string)       { e.doc.exec("addClass", e.h, class) }
func (e *Element) RemoveClass(class string)    { e.doc.exec("removeClass", e.h, class) }
func (e *Element) Style(property string) string { return e.doc.str("style", e.h, property) }
func (e *Element) SetStyle(property, value string) {
	e.doc.exec("setStyle", e.h, property, value)
}

func (e *Element) Parent() dom.Element      { return e.doc.element("parent", e.h) }
func (e *Element) NextSibling() dom.Element { return e.doc.element("next", e.h) }
func (e *Element) Closest(selector string) dom.Element {
	return e.doc.element("closest", e.h, selector)
}
func (e *Element) QuerySelector(selector string) dom.Element {
	return e.doc.element("eqs", e.h, selector)
}
func (e *Element) QuerySelectorAll(selector string) []dom.Element {
	return e.doc.elements("eqsa", e.h, selector)
}

func (e *Element) AppendChild(child dom.Element) {
	if c, ok := child.(*Element); ok && c != nil {
		e.doc.exec("append", e.h, c.h)
	}
}

func (e *Element) InsertBefore(child, ref dom.Element) {
	c, ok := child.(*Element)
	if !ok || c == nil {
		return
	}
	var refHandle *int64
	if r, ok := ref.(*Element); ok && r != nil {
		refHandle = &r.h
	}
	e.doc.exec("insertBefore", e.h, c.h, refHandle)
}

func (e *Element) Remove() { e.doc.exec("remove", e.h) }

func (e *Element) Same(other dom.Element) bool {
	o, ok := other.(*Element)
	return ok && o != nil && o.doc == e.doc && o.h == e.h
}
