package protocol

import (
	"context"
	"sync"

	"github.com/zoravur/materialize-live/internal/apperr"
)

// Subscriptions tracks the running subscriptions of one connection by
// client-chosen id.
type Subscriptions struct {
	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	cancel context.CancelFunc
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{subs: make(map[string]*subscription)}
}

// Add registers cancel under id. Ids must be unique among live
// subscriptions of a connection. The returned release forgets this
// subscription once it ends on its own; it never touches a later
// subscription that reuses the id.
func (s *Subscriptions) Add(id string, cancel context.CancelFunc) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; ok {
		return nil, apperr.Newf(apperr.InvalidTarget, "subscription %q already exists", id)
	}
	sub := &subscription{cancel: cancel}
	s.subs[id] = sub
	return func() {
		s.mu.Lock()
		if s.subs[id] == sub {
			delete(s.subs, id)
		}
		s.mu.Unlock()
	}, nil
}

// Remove cancels and forgets id, reporting whether it was running.
func (s *Subscriptions) Remove(id string) bool {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if ok {
		sub.cancel()
	}
	return ok
}

func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// CloseAll cancels every subscription.
func (s *Subscriptions) CloseAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}
