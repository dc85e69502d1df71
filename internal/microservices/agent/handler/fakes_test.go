package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"order-sync/internal/domain"
	"order-sync/internal/feed"
	"order-sync/internal/gateway"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func order(id, user string, st domain.Status, sec int) domain.Order {
	return domain.Order{
		ID: id, UserID: user, RestaurantID: "r1", Status: st,
		CreatedAt: t0, UpdatedAt: t0.Add(time.Duration(sec) * time.Second),
	}
}

type memGateway struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	err    error
}

func newMemGateway(orders ...domain.Order) *memGateway {
	g := &memGateway{orders: map[string]domain.Order{}}
	for _, o := range orders {
		g.orders[o.ID] = o
	}
	return g
}

func (g *memGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *memGateway) FetchOrder(_ context.Context, id string) (domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return domain.Order{}, g.err
	}
	o, ok := g.orders[id]
	if !ok {
		return domain.Order{}, gateway.ErrNotFound
	}
	return o, nil
}

func (g *memGateway) FetchOrders(_ context.Context, scope domain.Scope) ([]domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	var out []domain.Order
	for _, o := range g.orders {
		if scope.Matches(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (g *memGateway) MutateOrder(_ context.Context, id string, p gateway.Patch) (domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok {
		return domain.Order{}, gateway.ErrNotFound
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.Notes != nil {
		o.Notes = *p.Notes
	}
	o.UpdatedAt = o.UpdatedAt.Add(time.Second)
	g.orders[id] = o
	return o, nil
}

// chanTransport hands every scope one stream fed by publish.
type chanTransport struct {
	mu      sync.Mutex
	streams map[domain.Scope]chan feed.Message
}

func newChanTransport() *chanTransport {
	return &chanTransport{streams: map[domain.Scope]chan feed.Message{}}
}

func (t *chanTransport) Connect(_ context.Context, scope domain.Scope) (feed.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan feed.Message, 16)
	t.streams[scope] = ch
	return chanStream(ch), nil
}

func (t *chanTransport) connected(scope domain.Scope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.streams[scope]
	return ok
}

func (t *chanTransport) publish(scope domain.Scope, op domain.Operation, o domain.Order) error {
	t.mu.Lock()
	ch, ok := t.streams[scope]
	t.mu.Unlock()
	if !ok {
		return errors.New("no stream for " + scope.String())
	}
	row, _ := json.Marshal(o)
	m := feed.Message{EventType: string(op), Table: feed.Table, New: row}
	if op == domain.OpDelete {
		m = feed.Message{EventType: string(op), Table: feed.Table, Old: row}
	}
	ch <- m
	return nil
}

type chanStream chan feed.Message

func (s chanStream) Recv(ctx context.Context) (feed.Message, error) {
	select {
	case m := <-s:
		return m, nil
	case <-ctx.Done():
		return feed.Message{}, ctx.Err()
	}
}

func (s chanStream) Close() error { return nil }

type tokenRecorder struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (r *tokenRecorder) SetToken(tok string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil && tok != "" {
		return r.err
	}
	r.tokens = append(r.tokens, tok)
	return nil
}
