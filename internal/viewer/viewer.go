// internal/viewer/viewer.go

// Package viewer toggles the product image area between the static image and
// the embedded 3D viewer.
//
// The mode is never stored. It is read back from the document each time, so
// whatever the host page does to its own nodes the machine always acts on
// what is actually there.
package viewer

import (
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/anchor"
	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/state"
)

// Markers of the embedded viewer nodes.
const (
	FrameID      = "3d-iframe"
	FrameCloseID = "3d-iframe-close"
	OverlayID    = "modal-3d"
	OverlayClass = "modal-overlay"
	ContentClass = "modal-content"
	CloseClass   = "modal-close"
	ShowClass    = "show"
)

// Entry names the trigger that opened the viewer.
type Entry string

const (
	EntryTriggerMain  Entry = "trigger-main"
	EntryTriggerImage Entry = "trigger-image"
	EntryBootstrap    Entry = "bootstrap"
)

// ErrUnknownEntry is returned for an entry that is not one of the known triggers.
var ErrUnknownEntry = errors.New("viewer: unknown entry")

// ParseEntry validates s as an entry.
func ParseEntry(s string) (Entry, error) {
	switch e := Entry(s); e {
	case EntryTriggerMain, EntryTriggerImage, EntryBootstrap:
		return e, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntry, s)
}

// Mode is the derived state of the image area.
type Mode int

const (
	Image Mode = iota
	Embedded
)

func (m Mode) String() string {
	if m == Embedded {
		return "embedded"
	}
	return "image"
}

// MarshalText lets modes appear as strings in JSON.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Machine opens and closes the embedded viewer. It is loop-affine.
type Machine struct {
	doc       dom.Document
	locator   *anchor.Locator
	contracts anchor.Contracts
	st        *state.State
	src       string
	title     string
	logger    *zap.Logger
}

// New builds a machine for doc.
func New(doc dom.Document, locator *anchor.Locator, contracts anchor.Contracts, st *state.State, cfg config.ViewerConfig, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		doc:       doc,
		locator:   locator,
		contracts: contracts,
		st:        st,
		src:       FrameURL(cfg.Endpoint, cfg.ProductID),
		title:     cfg.Title,
		logger:    logger.Named("viewer"),
	}
}

// FrameURL returns the viewer URL for a product.
func FrameURL(endpoint, productID string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("id", productID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Mode reads the current mode from the document.
func (m *Machine) Mode() Mode {
	if m.doc.GetElementByID(FrameID) != nil {
		return Embedded
	}
	if o := m.doc.GetElementByID(OverlayID); o != nil && o.HasClass(ShowClass) {
		return Embedded
	}
	return Image
}

// Open enters the embedded mode from entry. It is a no-op when the viewer is
// already embedded, when a bootstrap has already happened, or when the nodes
// it needs are missing.
func (m *Machine) Open(entry Entry) error {
	switch entry {
	case EntryTriggerMain, EntryTriggerImage, EntryBootstrap:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEntry, entry)
	}
	if entry == EntryBootstrap && m.st.ViewerDefaultInitialized() {
		return nil
	}
	if m.Mode() == Embedded {
		m.logger.Debug("Viewer already open.", zap.String("entry", string(entry)))
		return nil
	}

	if entry == EntryTriggerMain {
		m.openOverlay()
		return nil
	}
	if m.openInPlace() && entry == EntryBootstrap {
		m.st.MarkViewerDefaultInitialized()
		m.logger.Info("3D viewer opened by default")
	}
	return nil
}

func (m *Machine) openInPlace() bool {
	img := m.locator.Find(m.contracts.ProductImage)
	if img == nil {
		m.logger.Debug("Product image absent; viewer not opened.")
		return false
	}
	parent := img.Parent()
	if parent == nil {
		return false
	}

	frame := m.newFrame()
	frame.SetID(FrameID)
	dom.Hide(img)
	parent.AppendChild(frame)
	m.setARVisible(false)

	closer := m.doc.CreateElement("button")
	closer.SetID(FrameCloseID)
	closer.AddClass(CloseClass)
	closer.SetAttr("type", "button")
	closer.SetAttr("aria-label", "Close")
	dom.SetAction(closer, dom.ActionClose)
	closer.SetText("×")
	parent.AppendChild(closer)
	return true
}

func (m *Machine) openOverlay() {
	overlay := m.doc.GetElementByID(OverlayID)
	if overlay == nil {
		overlay = m.buildOverlay()
		if host := m.locator.Find(m.contracts.ImageHost); host != nil {
			host.AppendChild(overlay)
		} else if body := m.doc.Body(); body != nil {
			body.AppendChild(overlay)
		} else {
			m.logger.Debug("No container for the overlay.")
			return
		}
	}
	if content := overlay.QuerySelector("." + ContentClass); content != nil && content.QuerySelector("iframe") == nil {
		content.AppendChild(m.newFrame())
	}
	overlay.AddClass(ShowClass)

	dom.Hide(m.locator.Find(m.contracts.ProductImage))
	m.setARVisible(false)
}

// Close leaves the embedded mode. Closing the in-place viewer resets the
// bootstrap flag; closing the overlay does not.
func (m *Machine) Close() {
	if frame := m.doc.GetElementByID(FrameID); frame != nil {
		if closer := m.doc.GetElementByID(FrameCloseID); closer != nil {
			closer.Remove()
		}
		frame.Remove()
		m.restore()
		m.st.ResetViewerDefault()
		return
	}

	if overlay := m.doc.GetElementByID(OverlayID); overlay != nil {
		overlay.RemoveClass(ShowClass)
		for _, f := range overlay.QuerySelectorAll("iframe") {
			f.Remove()
		}
	}
	m.restore()
}

func (m *Machine) restore() {
	dom.Show(m.locator.Find(m.contracts.ProductImage))
	m.setARVisible(true)
}

func (m *Machine) setARVisible(visible bool) {
	for _, c := range []anchor.Contract{m.contracts.VendorAR, m.contracts.CustomAR} {
		el := m.locator.Find(c)
		if visible {
			dom.Show(el)
		} else {
			dom.Hide(el)
		}
	}
}

func (m *Machine) newFrame() dom.Element {
	f := m.doc.CreateElement("iframe")
	f.SetAttr("src", m.src)
	f.SetAttr("width", "100%")
	f.SetAttr("height", "100%")
	f.SetAttr("frameborder", "0")
	f.SetAttr("title", m.title)
	f.SetStyle("border", "none")
	f.SetStyle("border-radius", "8px")
	return f
}

func (m *Machine) buildOverlay() dom.Element {
	overlay := m.doc.CreateElement("div")
	overlay.SetID(OverlayID)
	overlay.AddClass(OverlayClass)
	dom.SetAction(overlay, dom.ActionClose)
	overlay.SetAttr(dom.SelfOnlyAttr, "")

	content := m.doc.CreateElement("div")
	content.AddClass(ContentClass)

	closer := m.doc.CreateElement("button")
	closer.AddClass(CloseClass)
	closer.SetAttr("type", "button")
	closer.SetAttr("aria-label", "Close")
	dom.SetAction(closer, dom.ActionClose)
	closer.SetText("×")

	content.AppendChild(closer)
	overlay.AppendChild(content)
	return overlay
}

// EmbeddedFrames counts embedded viewer frames in the document.
func (m *Machine) EmbeddedFrames() int {
	n := len(m.doc.QuerySelectorAll("#" + OverlayID + " iframe"))
	if m.doc.GetElementByID(FrameID) != nil {
		n++
	}
	return n
}
