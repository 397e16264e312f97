// Package netstatus tracks whether the network is reachable.
//
// The cache manager consumes a Monitor to decide when cached data may be
// served in place of a failed or skipped fetch. Static is driven by hand;
// Prober dials a TCP endpoint periodically.
package netstatus

import (
	"sort"
	"sync"
)

// Monitor reports network reachability and notifies subscribers when it
// changes.
type Monitor interface {
	// Online reports the last known state.
	Online() bool
	// Subscribe registers fn for state changes. The returned function
	// removes the subscription.
	Subscribe(fn func(online bool)) func()
}

// subscribers is a registry of change callbacks, notified in registration
// order.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(bool)
}

func (s *subscribers) add(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fns == nil {
		s.fns = make(map[int]func(bool))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) notify(online bool) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Static is a Monitor whose state is set explicitly.
type Static struct {
	mu     sync.RWMutex
	online bool
	subs   subscribers
}

// NewStatic returns a monitor with the given initial state.
func NewStatic(online bool) *Static {
	return &Static{online: online}
}

// Online reports the current state.
func (s *Static) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// SetOnline updates the state. Subscribers are notified only when the state
// actually changes.
func (s *Static) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.subs.notify(online)
	}
}

// Subscribe registers fn for state changes.
func (s *Static) Subscribe(fn func(online bool)) func() {
	return s.subs.add(fn)
}

var _ Monitor = (*Static)(nil)
