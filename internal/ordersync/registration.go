package ordersync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"order-sync/internal/domain"
	"order-sync/internal/reconcile"
)

// Params is what an observer asks for. Both ids empty means "follow the
// signed-in identity".
type Params struct {
	UserID       string
	RestaurantID string

	// OnUpdate runs once per changed order per merge round, usually on the
	// session's engine goroutine. It must return quickly and must not close the
	// registration. When the registration moves to a scope, it first receives
	// the scope's current orders with reconcile.SourceView unless OnScope is set.
	OnUpdate func(reconcile.Change)
	OnHealth func(Health)
	// OnScope receives the new scope and its current orders each time the
	// registration moves, in place of the replay through OnUpdate.
	OnScope func(domain.Scope, []domain.Order)
}

// Registration is one observer's handle. Close it when the observer goes away.
type Registration struct {
	m *Manager

	// opMu serializes rescoping and closing, which may wait for a session to stop.
	opMu sync.Mutex

	// deliverMu orders callbacks: a scope move's replay and the session's
	// changes never interleave.
	deliverMu sync.Mutex
	// since is the view version already replayed for sess. Guarded by deliverMu.
	since uint64

	mu     sync.RWMutex
	params Params
	scope  domain.Scope
	sess   *session
	closed bool
}

func (r *Registration) Scope() domain.Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scope
}

func (r *Registration) current() *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sess
}

// Snapshot is the current immutable view, or nil while idle.
func (r *Registration) Snapshot() *reconcile.Snapshot {
	if s := r.current(); s != nil {
		return s.engine.Snapshot()
	}
	return nil
}

// Orders lists the scope's orders, newest first.
func (r *Registration) Orders() []domain.Order {
	if snap := r.Snapshot(); snap != nil {
		return snap.Orders()
	}
	return nil
}

func (r *Registration) Order(id string) (domain.Order, bool) {
	if snap := r.Snapshot(); snap != nil {
		return snap.Order(id)
	}
	return domain.Order{}, false
}

func (r *Registration) Health() Health {
	if s := r.current(); s != nil {
		return s.currentHealth()
	}
	return HealthIdle
}

// Ready is closed once the scope's first fetch has completed or failed. While
// idle it is already closed.
func (r *Registration) Ready() <-chan struct{} {
	if s := r.current(); s != nil {
		return s.ready
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Reconfigure replaces the registration's params and moves it to the scope they
// resolve to. The new scope's sources are running before the old ones are released.
func (r *Registration) Reconfigure(ctx context.Context, p Params) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.rescope(ctx, p)
}

// reresolve re-runs resolution for registrations that follow the identity.
func (r *Registration) reresolve(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.RLock()
	p, closed := r.params, r.closed
	r.mu.RUnlock()
	if closed || p.explicit() {
		return nil
	}
	return r.rescope(ctx, p)
}

func (r *Registration) rescope(ctx context.Context, p Params) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	old, oldScope := r.sess, r.scope
	r.mu.RUnlock()

	id, idErr := r.m.cfg.Credentials.Identity(ctx)
	scope := Resolve(p, id, idErr)

	if scope == oldScope && old != nil {
		r.mu.Lock()
		r.params = p
		r.mu.Unlock()
		return nil
	}

	var next *session
	if !scope.IsNone() {
		s, err := r.m.acquire(scope)
		if err != nil {
			return err
		}
		s.addObserver(r)
		next = s
		if old != nil {
			next.awaitFeed(ctx)
		}
	}

	r.switchTo(p, scope, next)

	if old != nil {
		old.removeObserver(r)
		r.m.release(old)
	}
	r.m.log.Info("registration_scoped", zap.Stringer("from", oldScope), zap.Stringer("to", scope))

	h := HealthIdle
	if next != nil {
		h = next.currentHealth()
	}
	r.healthChanged(h)
	return nil
}

// Close releases the registration's scope. The last registration on a scope
// stops its feed and poller before Close returns.
func (r *Registration) Close() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	old := r.sess
	r.sess, r.scope = nil, domain.Scope{}
	r.mu.Unlock()

	if old != nil {
		old.removeObserver(r)
		r.m.release(old)
	}
	r.m.forget(r)
}

// switchTo points the registration at next and hands the observer what next
// already holds. Changes next publishes later arrive through deliver; those
// already covered by the handed-over view are skipped there.
func (r *Registration) switchTo(p Params, scope domain.Scope, next *session) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	r.params, r.scope, r.sess = p, scope, next
	r.mu.Unlock()

	var snap *reconcile.Snapshot
	if next != nil {
		snap = next.engine.Snapshot()
		r.since = snap.Version()
	}
	switch {
	case p.OnScope != nil:
		var orders []domain.Order
		if snap != nil {
			orders = snap.Orders()
		}
		p.OnScope(scope, orders)
	case p.OnUpdate != nil && snap != nil:
		for _, c := range snap.Changes() {
			p.OnUpdate(c)
		}
	}
}

func (r *Registration) deliver(from *session, changes []reconcile.Change) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	r.mu.RLock()
	fn, active := r.params.OnUpdate, r.sess == from && !r.closed
	r.mu.RUnlock()
	if !active || fn == nil {
		return
	}
	for _, c := range changes {
		if c.Version > r.since {
			fn(c)
		}
	}
}

func (r *Registration) healthChanged(h Health) {
	r.mu.RLock()
	fn, closed := r.params.OnHealth, r.closed
	r.mu.RUnlock()
	if fn != nil && !closed {
		fn(h)
	}
}
