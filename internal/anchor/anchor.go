// internal/anchor/anchor.go

// Package anchor finds the structural anchors of the host page. Anchors are
// never cached: every lookup queries the document afresh because the host
// page may replace any node at any time.
package anchor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/retry"
)

// ErrAnchorNotFound matches every NotFoundError through errors.Is.
var ErrAnchorNotFound = errors.New("anchor not found")

// NotFoundError reports that no element satisfied a contract. Absence is a
// normal condition while the page is still rendering.
type NotFoundError struct {
	Contract string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("anchor %q not found", e.Contract)
}

// Is lets errors.Is(err, ErrAnchorNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrAnchorNotFound
}

// Contract describes how to find one anchor.
type Contract struct {
	Name string
	// Selectors are tried in order; the first with a usable match wins.
	Selectors []string
	// Exclude drops candidates whose closest ancestor-or-self matches it.
	Exclude string
}

// Contracts is the full set of anchors the injector relies on.
type Contracts struct {
	Insertion    Contract
	ImageHost    Contract
	ProductImage Contract
	VendorAR     Contract
	// CustomAR is this system's own AR trigger group inside the image host.
	CustomAR     Contract
}

// NewContracts builds the anchor contracts from configuration.
func NewContracts(cfg config.AnchorsConfig) Contracts {
	return Contracts{
		Insertion:    Contract{Name: "insertion", Selectors: cfg.Insertion},
		ImageHost:    Contract{Name: "image-host", Selectors: []string{cfg.ImageHost}},
		ProductImage: Contract{Name: "product-image", Selectors: []string{cfg.ProductImage}},
		VendorAR:     Contract{Name: "vendor-ar", Selectors: []string{cfg.VendorAR}, Exclude: cfg.ARExclude},
		CustomAR:     Contract{Name: "custom-ar", Selectors: []string{cfg.ImageHost + " " + cfg.ARExclude}},
	}
}

// Locator looks anchors up in a document.
type Locator struct {
	doc    dom.Document
	logger *zap.Logger
}

// NewLocator returns a locator over doc.
func NewLocator(doc dom.Document, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{doc: doc, logger: logger.Named("anchor")}
}

// Locate returns the first element satisfying c, or a *NotFoundError.
func (l *Locator) Locate(c Contract) (dom.Element, error) {
	for i, sel := range c.Selectors {
		if sel == "" {
			continue
		}
		for _, el := range l.doc.QuerySelectorAll(sel) {
			if c.Exclude != "" && el.Closest(c.Exclude) != nil {
				continue
			}
			if i > 0 {
				l.logger.Debug("Anchor matched a fallback selector.",
					zap.String("contract", c.Name), zap.String("selector", sel))
			}
			return el, nil
		}
	}
	return nil, &NotFoundError{Contract: c.Name}
}

// Find is Locate for callers that treat absence as nil.
func (l *Locator) Find(c Contract) dom.Element {
	el, _ := l.Locate(c)
	return el
}

// Await checks for c immediately and then once per attempt of schedule,
// calling onFound the first time it is present. It gives up silently after
// the last attempt. The check and every attempt run on sched.
func (l *Locator) Await(sched eventloop.Scheduler, c Contract, schedule retry.Schedule, onFound func(dom.Element)) *retry.Run {
	probe := func(int) bool {
		el, err := l.Locate(c)
		if err != nil {
			return false
		}
		onFound(el)
		return true
	}
	if probe(0) {
		return retry.Start(sched, retry.Schedule{}, nil)
	}
	return retry.Start(sched, schedule, probe)
}
