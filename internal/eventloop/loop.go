// internal/eventloop/loop.go

// Package eventloop provides the single execution queue every page session
// runs on. Timer callbacks, mutation batches and user actions are posted to
// the loop and run one at a time to completion, so state checked at the top
// of a handler cannot change underneath it.
//
// A loop is driven either by Run (wall clock) or, for deterministic tests and
// offline rendering, by Advance/Drain on a loop created with NewManual.
package eventloop

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by Do when the loop has stopped.
var ErrClosed = errors.New("eventloop: closed")

// Scheduler is the subset of the loop used by components that defer work.
type Scheduler interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) *Timer
	Now() time.Time
}

// Loop is a single-threaded cooperative task queue with timers.
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	queue   []func()
	timers  timerHeap
	seq     uint64
	manual  bool
	virtual time.Time
	closed  bool
	wake    chan struct{}
}

var _ Scheduler = (*Loop)(nil)

// New returns a loop driven by the wall clock through Run.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger: logger.Named("eventloop"),
		wake:   make(chan struct{}, 1),
	}
}

// NewManual returns a loop on virtual time starting at start. Time only moves
// through Advance.
func NewManual(start time.Time, logger *zap.Logger) *Loop {
	l := New(logger)
	l.manual = true
	l.virtual = start
	return l
}

// Now returns the loop's current time.
func (l *Loop) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nowLocked()
}

func (l *Loop) nowLocked() time.Time {
	if l.manual {
		return l.virtual
	}
	return time.Now()
}

// Post queues fn. It is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	l.seq++
	t := &Timer{loop: l, when: l.nowLocked().Add(d), seq: l.seq, fn: fn, index: -1}
	if !l.closed {
		heap.Push(&l.timers, t)
	}
	l.mu.Unlock()
	l.signal()
	return t
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, func() {
		defer close(done)
		fn()
	})
	l.mu.Unlock()
	l.signal()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes tasks and timers until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l.manual {
		return fmt.Errorf("eventloop: Run called on a manual loop")
	}
	defer l.close()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		l.runQueued()
		l.runDueTimers(time.Now())
		if !l.idle() {
			continue
		}

		wait := time.Hour
		if next, ok := l.nextDeadline(); ok {
			wait = time.Until(next)
			if wait <= 0 {
				continue
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-timer.C:
		}
	}
}

// Drain runs queued tasks and timers already due on a manual loop.
func (l *Loop) Drain() {
	l.Advance(0)
}

// Advance moves virtual time forward by d, running every task and timer that
// becomes due in deadline order. Timers scheduled by callbacks are honoured
// if they fall inside the window.
func (l *Loop) Advance(d time.Duration) {
	l.mu.Lock()
	target := l.virtual.Add(d)
	l.mu.Unlock()

	for {
		l.runQueued()

		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(target) {
			l.virtual = target
			l.mu.Unlock()
			if l.idle() {
				return
			}
			continue
		}
		if l.timers[0].when.After(l.virtual) {
			l.virtual = l.timers[0].when
		}
		now := l.virtual
		l.mu.Unlock()

		l.runDueTimers(now)
	}
}

// Pending returns the number of queued tasks and armed timers.
func (l *Loop) Pending() (tasks, timers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue), len(l.timers)
}

func (l *Loop) runQueued() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.safeRun(fn)
	}
}

func (l *Loop) runDueTimers(now time.Time) {
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*Timer)
		t.fired = true
		l.mu.Unlock()

		l.safeRun(t.fn)
		l.runQueued()
	}
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked.", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (l *Loop) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) == 0
}

func (l *Loop) nextDeadline() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].when, true
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.queue = nil
	l.timers = nil
}

// Timer is a pending AfterFunc callback.
type Timer struct {
	loop  *Loop
	when  time.Time
	seq   uint64
	fn    func()
	index int
	fired bool
}

// Stop cancels the timer. It reports whether the call prevented fn from running.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.fired || t.index < 0 {
		return false
	}
	heap.Remove(&l.timers, t.index)
	return true
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
