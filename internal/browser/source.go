// internal/browser/source.go
package browser

import (
	"sync"

	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/mutation"
)

// Source fans the bridge's mutation batches out to subscribers on the loop.
type Source struct {
	loop *eventloop.Loop

	mu   sync.Mutex
	next int
	subs []subscription
}

type subscription struct {
	id      int
	handler func(mutation.Batch)
}

func newSource(loop *eventloop.Loop) *Source {
	return &Source{loop: loop}
}

// Subscribe registers handler and returns a function that cancels it.
func (s *Source) Subscribe(handler func(mutation.Batch)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.subs = append(s.subs, subscription{id: id, handler: handler})
	return func() { s.unsubscribe(id) }, nil
}

func (s *Source) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// deliver queues b for every current subscriber. Subscribers that cancel
// before the task runs do not see it.
func (s *Source) deliver(b mutation.Batch) {
	if b.Empty() {
		return
	}
	s.loop.Post(func() {
		s.mu.Lock()
		subs := append([]subscription(nil), s.subs...)
		s.mu.Unlock()
		for _, sub := range subs {
			if s.active(sub.id) {
				sub.handler(b)
			}
		}
	})
}

func (s *Source) active(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.id == id {
			return true
		}
	}
	return false
}
