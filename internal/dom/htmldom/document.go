// Package htmldom implements dom.Document on top of golang.org/x/net/html,
// with CSS selectors from cascadia. It backs the offline renderer and the
// tests, and reports its own mutations the way a MutationObserver would.
package htmldom

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/mutation"
)

const emptyPage = "<!DOCTYPE html><html><head></head><body></body></html>"

// Document is an in-memory HTML document.
type Document struct {
	root *html.Node

	// selectors caches compiled selectors; nil entries mark invalid ones.
	selectors map[string]cascadia.Selector

	writes int

	mu        sync.Mutex
	pending   []mutation.Record
	seq       uint64
	observers map[int]func(mutation.Batch)
	nextObs   int
	notify    func()
}

var _ dom.Document = (*Document)(nil)

// New returns an empty document with head and body.
func New() *Document {
	d, err := ParseString(emptyPage)
	if err != nil {
		panic("htmldom: parse empty page: " + err.Error())
	}
	return d
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Document{
		root:      root,
		selectors: make(map[string]cascadia.Selector),
		observers: make(map[int]func(mutation.Batch)),
	}, nil
}

// ParseString parses an HTML document held in a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Render serialises the document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document, returning "" on failure.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Writes returns the number of mutating operations performed so far.
func (d *Document) Writes() int { return d.writes }

// Root returns the underlying document node.
func (d *Document) Root() *html.Node { return d.root }

func (d *Document) QuerySelector(selector string) dom.Element {
	sel := d.compile(selector)
	if sel == nil {
		return nil
	}
	return d.wrap(sel.MatchFirst(d.root))
}

func (d *Document) QuerySelectorAll(selector string) []dom.Element {
	sel := d.compile(selector)
	if sel == nil {
		return nil
	}
	return d.wrapAll(sel.MatchAll(d.root), nil)
}

func (d *Document) GetElementByID(id string) dom.Element {
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return d.wrap(found)
}

func (d *Document) CreateElement(tag string) dom.Element {
	tag = strings.ToLower(tag)
	return d.wrap(&html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	})
}

func (d *Document) Head() dom.Element { return d.QuerySelector("head") }
func (d *Document) Body() dom.Element { return d.QuerySelector("body") }

// Flush delivers pending mutation records to every observer as one batch.
func (d *Document) Flush() {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	d.seq++
	batch := mutation.Batch{
		Seq:       d.seq,
		Records:   d.pending,
		Timestamp: time.Now().UnixMilli(),
	}
	d.pending = nil
	handlers := make([]func(mutation.Batch), 0, len(d.observers))
	for _, h := range d.observers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(batch)
	}
}

func (d *Document) compile(selector string) cascadia.Selector {
	if sel, ok := d.selectors[selector]; ok {
		return sel
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		sel = nil
	}
	d.selectors[selector] = sel
	return sel
}

func (d *Document) wrap(n *html.Node) dom.Element {
	if n == nil {
		return nil
	}
	return &element{doc: d, n: n}
}

func (d *Document) wrapAll(nodes []*html.Node, skip *html.Node) []dom.Element {
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		if n == skip {
			continue
		}
		out = append(out, &element{doc: d, n: n})
	}
	return out
}

// record notes a mutation on target. Only mutations inside the document are
// reported, like a MutationObserver attached to the document.
func (d *Document) record(target *html.Node, rec mutation.Record) {
	d.writes++
	if !d.attached(target) {
		return
	}
	rec.Target = target.Data

	d.mu.Lock()
	if len(d.observers) == 0 {
		d.mu.Unlock()
		return
	}
	first := len(d.pending) == 0
	d.pending = append(d.pending, rec)
	notify := d.notify
	d.mu.Unlock()

	if first && notify != nil {
		notify()
	}
}

func (d *Document) attached(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == d.root {
			return true
		}
	}
	return false
}

func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

// Source adapts the document's own mutation reporting to a watcher source.
// post schedules delivery on the caller's execution queue; a burst of
// mutations is delivered as a single batch on the next turn of the queue.
type Source struct {
	doc  *Document
	post func(func())
}

// Source returns a change-notification source backed by d.
func (d *Document) Source(post func(func())) *Source {
	return &Source{doc: d, post: post}
}

// Subscribe registers handler and returns a function that cancels it.
func (s *Source) Subscribe(handler func(mutation.Batch)) (func(), error) {
	d := s.doc
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = handler
	d.notify = func() { s.post(d.Flush) }
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			if len(d.observers) == 0 {
				d.pending = nil
			}
			d.mu.Unlock()
		})
	}, nil
}
