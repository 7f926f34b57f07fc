package htmldom

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/mutation"
)

type element struct {
	doc *Document
	n   *html.Node
}

var _ dom.Element = (*element)(nil)

func (e *element) TagName() string { return strings.ToUpper(e.n.Data) }
func (e *element) ID() string      { return attr(e.n, "id") }
func (e *element) SetID(id string) { e.SetAttr("id", id) }

func (e *element) Attr(name string) string { return attr(e.n, name) }

func (e *element) HasAttr(name string) bool {
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return true
		}
	}
	return false
}

func (e *element) SetAttr(name, value string) {
	for i, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			e.n.Attr[i].Val = value
			e.doc.record(e.n, mutation.Record{Op: mutation.OpAttr, Name: name})
			return
		}
	}
	e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
	e.doc.record(e.n, mutation.Record{Op: mutation.OpAttr, Name: name})
}

func (e *element) RemoveAttr(name string) {
	for i, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			e.n.Attr = append(e.n.Attr[:i], e.n.Attr[i+1:]...)
			e.doc.record(e.n, mutation.Record{Op: mutation.OpAttr, Name: name})
			return
		}
	}
}

func (e *element) HasClass(class string) bool {
	for _, c := range strings.Fields(attr(e.n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func (e *element) AddClass(class string) {
	if e.HasClass(class) {
		return
	}
	classes := append(strings.Fields(attr(e.n, "class")), class)
	e.SetAttr("class", strings.Join(classes, " "))
}

func (e *element) RemoveClass(class string) {
	if !e.HasClass(class) {
		return
	}
	var kept []string
	for _, c := range strings.Fields(attr(e.n, "class")) {
		if c != class {
			kept = append(kept, c)
		}
	}
	e.SetAttr("class", strings.Join(kept, " "))
}

func (e *element) Style(property string) string {
	for _, d := range parseStyle(attr(e.n, "style")) {
		if d.prop == property {
			return d.value
		}
	}
	return ""
}

func (e *element) SetStyle(property, value string) {
	decls := parseStyle(attr(e.n, "style"))
	if value == "" && e.Style(property) == "" {
		return
	}
	out := decls[:0]
	found := false
	for _, d := range decls {
		if d.prop == property {
			found = true
			if value == "" {
				continue
			}
			d.value = value
		}
		out = append(out, d)
	}
	if !found && value != "" {
		out = append(out, declaration{prop: property, value: value})
	}
	if len(out) == 0 {
		if e.HasAttr("style") {
			e.RemoveAttr("style")
		}
		return
	}
	e.SetAttr("style", formatStyle(out))
}

func (e *element) Text() string {
	var b strings.Builder
	walk(e.n, func(n *html.Node) bool {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		return true
	})
	return b.String()
}

func (e *element) SetText(text string) {
	removed := 0
	for c := e.n.FirstChild; c != nil; {
		next := c.NextSibling
		e.n.RemoveChild(c)
		removed++
		c = next
	}
	e.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	e.doc.record(e.n, mutation.Record{Op: mutation.OpChildList, Added: 1, Removed: removed})
}

func (e *element) Parent() dom.Element {
	if p := e.n.Parent; p != nil && p.Type == html.ElementNode {
		return e.doc.wrap(p)
	}
	return nil
}

func (e *element) NextSibling() dom.Element {
	for s := e.n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return e.doc.wrap(s)
		}
	}
	return nil
}

func (e *element) Closest(selector string) dom.Element {
	sel := e.doc.compile(selector)
	if sel == nil {
		return nil
	}
	for n := e.n; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if sel.Match(n) {
			return e.doc.wrap(n)
		}
	}
	return nil
}

func (e *element) QuerySelector(selector string) dom.Element {
	sel := e.doc.compile(selector)
	if sel == nil {
		return nil
	}
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if m := sel.MatchFirst(c); m != nil {
			return e.doc.wrap(m)
		}
	}
	return nil
}

func (e *element) QuerySelectorAll(selector string) []dom.Element {
	sel := e.doc.compile(selector)
	if sel == nil {
		return nil
	}
	return e.doc.wrapAll(sel.MatchAll(e.n), e.n)
}

func (e *element) AppendChild(child dom.Element) {
	e.InsertBefore(child, nil)
}

func (e *element) InsertBefore(child, ref dom.Element) {
	c, ok := child.(*element)
	if !ok || c.doc != e.doc {
		return
	}
	c.detach()
	var refNode *html.Node
	if r, ok := ref.(*element); ok && r != nil && r.n.Parent == e.n {
		refNode = r.n
	}
	e.n.InsertBefore(c.n, refNode)
	e.doc.record(e.n, mutation.Record{Op: mutation.OpChildList, Added: 1})
}

func (e *element) Remove() {
	if e.n.Parent == nil {
		return
	}
	e.detach()
}

func (e *element) detach() {
	p := e.n.Parent
	if p == nil {
		return
	}
	p.RemoveChild(e.n)
	e.doc.record(p, mutation.Record{Op: mutation.OpChildList, Removed: 1})
}

func (e *element) Same(other dom.Element) bool {
	o, ok := other.(*element)
	return ok && o != nil && o.n == e.n
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val
		}
	}
	return ""
}

type declaration struct {
	prop  string
	value string
}

func parseStyle(s string) []declaration {
	var out []declaration
	for _, part := range splitDeclarations(s) {
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.TrimSpace(value)
		if prop == "" {
			continue
		}
		out = append(out, declaration{prop: prop, value: value})
	}
	return out
}

// splitDeclarations splits an inline style on the semicolons that end
// declarations, leaving those inside quotes or parentheses alone.
func splitDeclarations(s string) []string {
	var parts []string
	start, depth := 0, 0
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; ch {
		case '\\':
			i++
		case '"', '\'':
			for i++; i < len(s) && s[i] != ch; i++ {
				if s[i] == '\\' {
					i++
				}
			}
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ';':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func formatStyle(decls []declaration) string {
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.prop + ": " + d.value
	}
	return strings.Join(parts, "; ") + ";"
}
