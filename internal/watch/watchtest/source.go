// Package watchtest provides a hand-driven mutation source for tests.
package watchtest

import (
	"sync"

	"github.com/xkilldash9x/pdp-injector/internal/mutation"
)

// Source records subscriptions and delivers batches on demand.
type Source struct {
	mu       sync.Mutex
	handlers map[int]func(mutation.Batch)
	next     int
	seq      uint64

	// Subscriptions counts calls to Subscribe.
	Subscriptions int
	// Err, when set, is returned by Subscribe.
	Err error
}

// NewSource returns an empty source.
func NewSource() *Source {
	return &Source{handlers: make(map[int]func(mutation.Batch))}
}

// Subscribe implements watch.Source.
func (s *Source) Subscribe(handler func(mutation.Batch)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions++
	if s.Err != nil {
		return nil, s.Err
	}
	id := s.next
	s.next++
	s.handlers[id] = handler
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}, nil
}

// Active returns the number of live subscriptions.
func (s *Source) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Emit delivers records as one batch to every subscriber, synchronously.
func (s *Source) Emit(records ...mutation.Record) {
	s.mu.Lock()
	s.seq++
	b := mutation.Batch{Seq: s.seq, Records: records}
	handlers := make([]func(mutation.Batch), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(b)
	}
}

// Added is a childList record with n added nodes.
func Added(n int) mutation.Record {
	return mutation.Record{Op: mutation.OpChildList, Target: "body", Added: n}
}
