// Package signal provides the per-stage subscription registry. Each
// pipeline stage publishes its artifact through a Signal; downstream sinks
// subscribe with a callback and release the subscription through the
// returned handle. Emission reads a snapshot of the sink list so no lock
// is held across callbacks.
package signal

import (
	"sync"

	"github.com/google/uuid"
)

// Signal is a registry of sinks for one artifact type. The zero value is
// ready to use.
type Signal[T any] struct {
	mu    sync.Mutex
	sinks map[string]func(T)
}

// Handle releases a subscription when Unsubscribe is called. Safe to call
// more than once.
type Handle struct {
	once    sync.Once
	release func()
}

// Unsubscribe removes the sink from the registry.
func (h *Handle) Unsubscribe() {
	if h == nil {
		return
	}
	h.once.Do(h.release)
}

// Subscribe registers fn to receive every emitted artifact.
func (s *Signal[T]) Subscribe(fn func(T)) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sinks == nil {
		s.sinks = make(map[string]func(T))
	}
	id := uuid.NewString()
	s.sinks[id] = fn
	return &Handle{release: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.sinks, id)
	}}
}

// NumSinks returns the current subscriber count.
func (s *Signal[T]) NumSinks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// Emit delivers v to every registered sink. Sinks run synchronously on the
// caller's goroutine, outside the registry lock.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	snapshot := make([]func(T), 0, len(s.sinks))
	for _, fn := range s.sinks {
		snapshot = append(snapshot, fn)
	}
	s.mu.Unlock()

	for _, fn := range snapshot {
		fn(v)
	}
}
