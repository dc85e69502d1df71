package feed

import (
	"context"
	"sync"

	"order-sync/internal/domain"
)

// Subscriber owns at most one Subscription on behalf of a single consumer.
// Moving it to another scope closes the old channel before the new one opens.
type Subscriber struct {
	transport Transport
	handler   Handler
	opts      Options

	mu  sync.Mutex
	cur *Subscription
}

func NewSubscriber(t Transport, h Handler, opts Options) *Subscriber {
	return &Subscriber{transport: t, handler: h, opts: opts}
}

// Open makes scope the subscriber's only channel. Asking again for the scope
// already open returns the existing subscription.
func (s *Subscriber) Open(ctx context.Context, scope domain.Scope) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil && s.cur.Scope() == scope && s.cur.State() != StateClosed {
		return s.cur, nil
	}
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
	sub, err := Open(ctx, s.transport, scope, s.handler, s.opts)
	if err != nil {
		return nil, err
	}
	s.cur = sub
	return sub, nil
}

// Current returns the open subscription or nil.
func (s *Subscriber) Current() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Subscriber) State() State {
	if sub := s.Current(); sub != nil {
		return sub.State()
	}
	return StateIdle
}

func (s *Subscriber) Reopen() {
	if sub := s.Current(); sub != nil {
		sub.Reopen()
	}
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
}
