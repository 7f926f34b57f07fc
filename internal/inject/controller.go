// internal/inject/controller.go

// Package inject places the button group and the AR trigger into the host
// page exactly once per session.
package inject

import (
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/anchor"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/state"
)

// Outcome is the result of one injection attempt.
type Outcome int

const (
	Injected Outcome = iota
	AlreadyInjected
	AnchorNotFound
)

func (o Outcome) String() string {
	switch o {
	case Injected:
		return "injected"
	case AlreadyInjected:
		return "already_injected"
	case AnchorNotFound:
		return "anchor_not_found"
	}
	return "unknown"
}

// Controller performs injection attempts. It is loop-affine.
type Controller struct {
	doc       dom.Document
	locator   *anchor.Locator
	contracts anchor.Contracts
	st        *state.State
	logger    *zap.Logger

	listeners  []func()
	viewerOpen func() bool
}

// NewController wires a controller to a document and its session state.
func NewController(doc dom.Document, locator *anchor.Locator, contracts anchor.Contracts, st *state.State, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		doc:       doc,
		locator:   locator,
		contracts: contracts,
		st:        st,
		logger:    logger.Named("controller"),
	}
}

// OnInjected registers fn to run once the button group is in place.
func (c *Controller) OnInjected(fn func()) {
	c.listeners = append(c.listeners, fn)
}

// HideARWhile makes a newly placed AR trigger start hidden whenever open
// reports an embedded viewer.
func (c *Controller) HideARWhile(open func() bool) {
	c.viewerOpen = open
}

// ButtonGroupPresent reports whether a button group is in the document.
func (c *Controller) ButtonGroupPresent() bool {
	return c.doc.QuerySelector(ButtonGroupSelector) != nil
}

// Run attempts the injection once.
func (c *Controller) Run() Outcome {
	if c.st.ButtonsInjected() {
		return AlreadyInjected
	}

	if n := dom.RemoveAll(c.doc, ButtonGroupSelector) + dom.RemoveAll(c.doc, ARGroupSelector); n > 0 {
		c.logger.Debug("Removed stale injected nodes.", zap.Int("count", n))
	}

	target, err := c.locator.Locate(c.contracts.Insertion)
	if err != nil {
		if errors.Is(err, anchor.ErrAnchorNotFound) {
			c.logger.Info("Insertion point not found; waiting for the page.", zap.Error(err))
		} else {
			c.logger.Warn("Insertion point lookup failed.", zap.Error(err))
		}
		return AnchorNotFound
	}
	parent := target.Parent()
	if parent == nil {
		c.logger.Info("Insertion point is detached; waiting for the page.")
		return AnchorNotFound
	}

	parent.InsertBefore(buildButtonGroup(c.doc), target.NextSibling())
	c.placeARTrigger()

	c.st.MarkButtonsInjected()
	c.logger.Info("Custom buttons injected successfully.")
	for _, fn := range c.listeners {
		fn()
	}
	return Injected
}

func (c *Controller) placeARTrigger() {
	host := c.locator.Find(c.contracts.ImageHost)
	if host == nil {
		c.logger.Debug("Image host absent; AR trigger skipped.")
		return
	}
	if host.QuerySelector(ARGroupSelector) != nil {
		return
	}

	group := buildARGroup(c.doc)
	if vendor := c.locator.Find(c.contracts.VendorAR); vendor != nil && vendor.Parent() != nil {
		vendor.Parent().InsertBefore(group, vendor.NextSibling())
	} else {
		host.AppendChild(group)
	}
	if c.viewerOpen != nil && c.viewerOpen() {
		dom.Hide(group)
		c.logger.Debug("Viewer is open; AR trigger placed hidden.")
		return
	}
	c.logger.Debug("AR trigger added to image area.")
}

// AddToCart is the add-to-cart action. There is no cart integration; it logs
// and returns the confirmation to show the user.
func (c *Controller) AddToCart() string {
	c.logger.Info("Add To Cart clicked")
	return AddedToCartText
}
