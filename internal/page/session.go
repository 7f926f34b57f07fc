// internal/page/session.go

// Package page wires the injector components together for one page.
//
// Every Session method except ID, Snapshot and the constructor must run on
// the session's event loop. Callers on other goroutines go through
// Loop().Do or Loop().Post.
package page

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pdp-injector/internal/anchor"
	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/dom"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/inject"
	"github.com/xkilldash9x/pdp-injector/internal/retry"
	"github.com/xkilldash9x/pdp-injector/internal/state"
	"github.com/xkilldash9x/pdp-injector/internal/style"
	"github.com/xkilldash9x/pdp-injector/internal/viewer"
	"github.com/xkilldash9x/pdp-injector/internal/watch"
)

// Notifier shows a message to the page user.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

// Notify calls f.
func (f NotifierFunc) Notify(message string) { f(message) }

// Options holds the session schedules.
type Options struct {
	AttemptDelays     []time.Duration
	DefaultViewer     bool
	BootstrapDelay    time.Duration
	BootstrapInterval time.Duration
	BootstrapAttempts int
	Watcher           watch.Options
}

// OptionsFromConfig extracts the session options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AttemptDelays:     cfg.Injector.AttemptDelays,
		DefaultViewer:     cfg.Injector.DefaultViewer,
		BootstrapDelay:    cfg.Injector.BootstrapDelay,
		BootstrapInterval: cfg.Injector.BootstrapInterval,
		BootstrapAttempts: cfg.Injector.BootstrapAttempts,
		Watcher: watch.Options{
			RetryDelay:          cfg.Watcher.RetryDelay,
			MaxRetriesPerSecond: cfg.Watcher.MaxRetriesPerSecond,
			DefaultViewer:       cfg.Injector.DefaultViewer,
		},
	}
}

// Session is one page's injector.
type Session struct {
	id       string
	loop     *eventloop.Loop
	doc      dom.Document
	opts     Options
	notifier Notifier
	logger   *zap.Logger

	st         *state.State
	locator    *anchor.Locator
	contracts  anchor.Contracts
	styles     *style.Injector
	controller *inject.Controller
	viewer     *viewer.Machine
	watcher    *watch.Watcher

	started        bool
	attempts       *retry.Run
	bootstrapTimer *eventloop.Timer
	bootstrap      *retry.Run
}

// New assembles a session over doc. src feeds the mutation watcher.
func New(loop *eventloop.Loop, doc dom.Document, src watch.Source, cfg *config.Config, notifier Notifier, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("session_id", id))
	if notifier == nil {
		notifier = LogNotifier(logger)
	}

	st := state.New()
	locator := anchor.NewLocator(doc, logger)
	contracts := anchor.NewContracts(cfg.Anchors)
	opts := OptionsFromConfig(cfg)

	s := &Session{
		id:         id,
		loop:       loop,
		doc:        doc,
		opts:       opts,
		notifier:   notifier,
		logger:     logger.Named("session"),
		st:         st,
		locator:    locator,
		contracts:  contracts,
		styles:     style.NewInjector(doc, logger),
		controller: inject.NewController(doc, locator, contracts, st, logger),
		viewer:     viewer.New(doc, locator, contracts, st, cfg.Viewer, logger),
	}
	s.watcher = watch.New(loop, src, st, watchTarget{s}, opts.Watcher, logger)
	s.controller.OnInjected(s.onInjected)
	s.controller.HideARWhile(func() bool { return s.viewer.Mode() == viewer.Embedded })
	return s
}

// LogNotifier returns a notifier that only logs.
func LogNotifier(logger *zap.Logger) Notifier {
	return NotifierFunc(func(message string) {
		logger.Info("User notification.", zap.String("message", message))
	})
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Loop returns the session's event loop.
func (s *Session) Loop() *eventloop.Loop { return s.loop }

// State returns the shared injection state.
func (s *Session) State() *state.State { return s.st }

// Start injects the stylesheet, arms the injection attempts and the
// default-viewer bootstrap, and subscribes the mutation watcher.
func (s *Session) Start() error {
	if s.started {
		return fmt.Errorf("session %s already started", s.id)
	}
	s.started = true

	s.styles.Ensure()

	s.attempts = retry.Start(s.loop, retry.Schedule{Delays: s.opts.AttemptDelays}, func(n int) bool {
		out := s.controller.Run()
		s.logger.Debug("Injection attempt.", zap.Int("attempt", n), zap.Stringer("outcome", out))
		return out != inject.AnchorNotFound
	})

	if s.opts.DefaultViewer {
		s.bootstrapTimer = s.loop.AfterFunc(s.opts.BootstrapDelay, func() {
			s.bootstrapTimer = nil
			s.Bootstrap()
		})
	}

	if err := s.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start mutation watcher: %w", err)
	}
	s.logger.Info("Session started.")
	return nil
}

// Inject runs one injection attempt.
func (s *Session) Inject() inject.Outcome {
	return s.controller.Run()
}

// Bootstrap polls for the product image and opens the default viewer once it
// appears. A poll already in flight is reused.
func (s *Session) Bootstrap() {
	if !s.opts.DefaultViewer || s.st.ViewerDefaultInitialized() {
		return
	}
	if s.bootstrap != nil && !s.bootstrap.Done() {
		return
	}
	schedule := retry.Fixed(s.opts.BootstrapInterval, s.opts.BootstrapInterval, s.opts.BootstrapAttempts)
	s.bootstrap = s.locator.Await(s.loop, s.contracts.ProductImage, schedule, func(dom.Element) {
		if err := s.viewer.Open(viewer.EntryBootstrap); err != nil {
			s.logger.Warn("Default viewer failed to open.", zap.Error(err))
		}
	})
}

// Dispatch performs a user action.
func (s *Session) Dispatch(a dom.Action) error {
	switch a {
	case dom.ActionAddToCart:
		s.notifier.Notify(s.controller.AddToCart())
	case dom.ActionOpenMain:
		return s.viewer.Open(viewer.EntryTriggerMain)
	case dom.ActionOpenImage:
		return s.viewer.Open(viewer.EntryTriggerImage)
	case dom.ActionClose:
		s.viewer.Close()
	default:
		return fmt.Errorf("unknown action %q", a)
	}
	return nil
}

// Click resolves the action a click on target would trigger and performs it.
// It reports whether any action was bound.
func (s *Session) Click(target dom.Element) (bool, error) {
	a, ok := dom.ActionOf(target)
	if !ok {
		return false, nil
	}
	return true, s.Dispatch(a)
}

// OpenViewer opens the viewer from entry.
func (s *Session) OpenViewer(entry viewer.Entry) error {
	return s.viewer.Open(entry)
}

// CloseViewer is the global exit action.
func (s *Session) CloseViewer() {
	s.viewer.Close()
}

// Status is a point-in-time view of a session.
type Status struct {
	ID              string         `json:"id"`
	State           state.Snapshot `json:"state"`
	Mode            viewer.Mode    `json:"mode"`
	EmbeddedFrames  int            `json:"embedded_frames"`
	WatcherAttached bool           `json:"watcher_attached"`
}

// Status reads the session's status.
func (s *Session) Status() Status {
	return Status{
		ID:              s.id,
		State:           s.st.Snapshot(),
		Mode:            s.viewer.Mode(),
		EmbeddedFrames:  s.viewer.EmbeddedFrames(),
		WatcherAttached: s.watcher.Attached(),
	}
}

// Snapshot reads the flags. It is safe from any goroutine.
func (s *Session) Snapshot() state.Snapshot { return s.st.Snapshot() }

// Stop cancels every pending schedule and detaches the watcher.
func (s *Session) Stop() {
	s.attempts.Cancel()
	s.bootstrap.Cancel()
	if s.bootstrapTimer != nil {
		s.bootstrapTimer.Stop()
		s.bootstrapTimer = nil
	}
	s.watcher.Detach()
	s.logger.Debug("Session stopped.")
}

func (s *Session) onInjected() {
	s.watcher.Detach()
	s.attempts.Cancel()
}

// watchTarget exposes the session to the mutation watcher.
type watchTarget struct{ s *Session }

func (t watchTarget) ButtonGroupPresent() bool { return t.s.controller.ButtonGroupPresent() }
func (t watchTarget) ViewerPresent() bool      { return t.s.viewer.Mode() == viewer.Embedded }
func (t watchTarget) RetryInjection()          { t.s.controller.Run() }
func (t watchTarget) RetryBootstrap()          { t.s.Bootstrap() }
