// internal/watch/watch.go

// Package watch re-evaluates injection readiness whenever the host page adds
// nodes, until the button group is in place.
package watch

import (
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/mutation"
	"github.com/xkilldash9x/pdp-injector/internal/state"
)

// ErrAlreadyStarted is returned by Start on a watcher that has subscribed.
var ErrAlreadyStarted = errors.New("watch: already started")

// Source delivers batches of DOM mutation records covering the whole
// document. Handlers are invoked on the session's event loop.
type Source interface {
	Subscribe(handler func(mutation.Batch)) (cancel func(), err error)
}

// Target is what the watcher inspects and re-triggers.
type Target interface {
	ButtonGroupPresent() bool
	ViewerPresent() bool
	RetryInjection()
	RetryBootstrap()
}

// Options tunes the watcher.
type Options struct {
	RetryDelay time.Duration
	// MaxRetriesPerSecond caps mutation-triggered retries, measured in loop
	// time.
	MaxRetriesPerSecond float64
	// DefaultViewer enables bootstrap retries.
	DefaultViewer bool
}

// Watcher subscribes once to a Source and schedules deferred retries.
type Watcher struct {
	sched   eventloop.Scheduler
	src     Source
	st      *state.State
	target  Target
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger

	started bool
	cancel  func()

	injectPending    *eventloop.Timer
	bootstrapPending *eventloop.Timer
}

// New creates a watcher. Nothing happens until Start.
func New(sched eventloop.Scheduler, src Source, st *state.State, target Target, opts Options, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := int(math.Ceil(opts.MaxRetriesPerSecond))
	if burst < 1 {
		burst = 1
	}
	return &Watcher{
		sched:   sched,
		src:     src,
		st:      st,
		target:  target,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.MaxRetriesPerSecond), burst),
		logger:  logger.Named("watcher"),
	}
}

// Start subscribes to the source. A watcher subscribes at most once.
func (w *Watcher) Start() error {
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true
	if w.st.ButtonsInjected() {
		w.logger.Debug("Buttons already injected; not subscribing.")
		return nil
	}
	cancel, err := w.src.Subscribe(w.handle)
	if err != nil {
		return err
	}
	w.cancel = cancel
	w.logger.Debug("Subscribed to DOM mutations.")
	return nil
}

// Attached reports whether the watcher currently holds a subscription.
func (w *Watcher) Attached() bool { return w.cancel != nil }

// Detach cancels the subscription and any pending retries. It is safe to call
// more than once.
func (w *Watcher) Detach() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
		w.logger.Debug("Detached from DOM mutations.")
	}
	if w.injectPending != nil {
		w.injectPending.Stop()
		w.injectPending = nil
	}
	if w.bootstrapPending != nil {
		w.bootstrapPending.Stop()
		w.bootstrapPending = nil
	}
}

func (w *Watcher) handle(b mutation.Batch) {
	if w.cancel == nil {
		return
	}
	if w.st.ButtonsInjected() {
		w.Detach()
		return
	}
	if b.Added() == 0 {
		return
	}

	if w.injectPending == nil && !w.target.ButtonGroupPresent() && w.allow() {
		w.injectPending = w.sched.AfterFunc(w.opts.RetryDelay, func() {
			w.injectPending = nil
			if w.st.ButtonsInjected() {
				return
			}
			w.target.RetryInjection()
		})
	}

	if w.opts.DefaultViewer && w.bootstrapPending == nil &&
		!w.st.ViewerDefaultInitialized() && !w.target.ViewerPresent() && w.allow() {
		w.bootstrapPending = w.sched.AfterFunc(w.opts.RetryDelay, func() {
			w.bootstrapPending = nil
			if w.st.ViewerDefaultInitialized() {
				return
			}
			w.target.RetryBootstrap()
		})
	}
}

func (w *Watcher) allow() bool {
	if w.limiter.AllowN(w.sched.Now(), 1) {
		return true
	}
	w.logger.Debug("Mutation-triggered retry rate limited.")
	return false
}
