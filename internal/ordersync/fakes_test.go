package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"order-sync/internal/auth"
	"order-sync/internal/domain"
	"order-sync/internal/feed"
	"order-sync/internal/gateway"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func order(id, user string, st domain.Status, r int) domain.Order {
	return domain.Order{ID: id, UserID: user, RestaurantID: "r1", Status: st, CreatedAt: t0, UpdatedAt: at(r)}
}

// fakeGateway serves orders from memory. hold, when set, blocks FetchOrders
// until it is closed, ignoring cancellation, to model a late response.
type fakeGateway struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	listErr error
	hold    chan struct{}
	lists   int
}

func newFakeGateway(orders ...domain.Order) *fakeGateway {
	g := &fakeGateway{orders: map[string]domain.Order{}}
	for _, o := range orders {
		g.orders[o.ID] = o
	}
	return g
}

func (g *fakeGateway) put(o domain.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[o.ID] = o
}

func (g *fakeGateway) setListErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listErr = err
}

func (g *fakeGateway) listCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lists
}

func (g *fakeGateway) FetchOrder(_ context.Context, id string) (domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok {
		return domain.Order{}, gateway.ErrNotFound
	}
	return o, nil
}

func (g *fakeGateway) FetchOrders(_ context.Context, scope domain.Scope) ([]domain.Order, error) {
	g.mu.Lock()
	g.lists++
	hold, err := g.hold, g.listErr
	var out []domain.Order
	for _, o := range g.orders {
		if scope.Matches(o) {
			out = append(out, o)
		}
	}
	g.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return out, err
}

func (g *fakeGateway) MutateOrder(_ context.Context, id string, p gateway.Patch) (domain.Order, error) {
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

type fakeStream struct {
	scope  domain.Scope
	t      *fakeTransport
	msgs   chan feed.Message
	broken chan struct{}
	once   sync.Once
	brk    sync.Once
}

func (s *fakeStream) Recv(ctx context.Context) (feed.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case <-s.broken:
		return feed.Message{}, errors.New("connection reset")
	case <-ctx.Done():
		return feed.Message{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { s.t.record("close:" + s.scope.String()) })
	return nil
}

type fakeTransport struct {
	mu      sync.Mutex
	down    bool
	log     []string
	streams map[domain.Scope]*fakeStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{streams: map[domain.Scope]*fakeStream{}}
}

func (t *fakeTransport) record(e string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, e)
}

func (t *fakeTransport) events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.log...)
}

func (t *fakeTransport) count(prefix string) int {
	n := 0
	for _, e := range t.events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (t *fakeTransport) setDown(down bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.down = down
}

func (t *fakeTransport) Connect(_ context.Context, scope domain.Scope) (feed.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, "connect:"+scope.String())
	if t.down {
		return nil, errors.New("connection refused")
	}
	s := &fakeStream{scope: scope, t: t, msgs: make(chan feed.Message), broken: make(chan struct{})}
	t.streams[scope] = s
	return s, nil
}

func (t *fakeTransport) stream(scope domain.Scope) *fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams[scope]
}

// push blocks until the subscription has read the message.
func (t *fakeTransport) push(scope domain.Scope, op domain.Operation, o domain.Order) bool {
	row, _ := json.Marshal(o)
	return t.pushRow(scope, op, row)
}

// relayRow renders o the way to_jsonb does: every column is present and unset
// nullable columns are null.
func relayRow(o domain.Order) []byte {
	row, _ := json.Marshal(o)
	cols := map[string]any{}
	_ = json.Unmarshal(row, &cols)
	for _, c := range []string{"items", "delivery_address", "notes", "payment_status"} {
		if _, ok := cols[c]; !ok {
			cols[c] = nil
		}
	}
	row, _ = json.Marshal(cols)
	return row
}

func (t *fakeTransport) pushRow(scope domain.Scope, op domain.Operation, row []byte) bool {
	s := t.stream(scope)
	if s == nil {
		return false
	}
	m := feed.Message{EventType: string(op), Table: "orders", New: row}
	if op == domain.OpDelete {
		m = feed.Message{EventType: string(op), Table: "orders", Old: row}
	}
	select {
	case s.msgs <- m:
		return true
	case <-time.After(time.Second):
		return false
	}
}

func (t *fakeTransport) dropAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.streams {
		s.brk.Do(func() { close(s.broken) })
	}
}

type switchableIdentity struct {
	mu sync.Mutex
	id auth.Identity
}

func (p *switchableIdentity) set(id auth.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
}

func (p *switchableIdentity) Identity(context.Context) (auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id.UserID == "" {
		return auth.Identity{}, auth.ErrNoIdentity
	}
	return p.id, nil
}

func (p *switchableIdentity) Token(context.Context) (string, error) { return "", nil }
