package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"order-sync/internal/common/logger"
	"order-sync/internal/common/metrics"
	"order-sync/internal/domain"
)

var (
	ErrClosed        = errors.New("reconcile: engine closed")
	ErrScopeMismatch = errors.New("reconcile: batch issued for another scope")
)

// maxCoalesce bounds how many queued batches are merged into one notification round.
const maxCoalesce = 32

// Batch is a group of updates from one source, tagged with the scope it was requested for.
type Batch struct {
	Scope   domain.Scope
	Source  Source
	Updates []Update
}

// Change is delivered to observers once per order per merge round.
type Change struct {
	OrderID     string
	Order       domain.Order
	Deleted     bool
	Source      Source
	Invalidated []string
	// Version is the version of the first snapshot that shows the change.
	Version uint64
}

// Notifier runs on the engine goroutine after the new snapshot is visible.
// It must not block and must not tear down the engine that calls it.
type Notifier func(changes []Change)

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option   { return func(e *Engine) { e.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithNotifier(n Notifier) Option        { return func(e *Engine) { e.notify = n } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// Engine is the single writer of one scope's cached view. Sources hand it batches
// through Submit; Run applies them one at a time in arrival order.
type Engine struct {
	scope     domain.Scope
	in        chan Batch
	done      chan struct{}
	snap      atomic.Pointer[Snapshot]
	queueSize int
	notify    Notifier
	now       func() time.Time
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func New(scope domain.Scope, opts ...Option) *Engine {
	e := &Engine{
		scope:     scope,
		done:      make(chan struct{}),
		queueSize: 64,
		now:       time.Now,
		log:       logger.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.in = make(chan Batch, e.queueSize)
	e.snap.Store(emptySnapshot(scope))
	return e
}

func (e *Engine) Scope() domain.Scope { return e.scope }

// Snapshot returns the current immutable view.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

// Done is closed once Run has returned; nothing is applied after that.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Submit queues a batch. It blocks while the queue is full, which is how slow
// merging pushes back on the feed and the poller.
func (e *Engine) Submit(ctx context.Context, b Batch) error {
	if b.Scope != e.scope {
		e.metrics.Discarded(metrics.ReasonScope)
		e.log.Debug("batch_discarded", zap.String("reason", metrics.ReasonScope),
			zap.Stringer("batch_scope", b.Scope), zap.Stringer("scope", e.scope))
		return ErrScopeMismatch
	}
	select {
	case <-e.done:
		e.metrics.Discarded(metrics.ReasonClosed)
		return ErrClosed
	default:
	}
	select {
	case e.in <- b:
		return nil
	case <-e.done:
		e.metrics.Discarded(metrics.ReasonClosed)
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitEvent turns a feed change event into a one-update batch.
func (e *Engine) SubmitEvent(ctx context.Context, ev domain.ChangeEvent) error {
	u := Update{ReceivedAt: ev.ReceivedAt}
	switch {
	case ev.Operation == domain.OpDelete:
		u.Deleted = true
		if ev.Old != nil {
			u.Order = *ev.Old
		}
		u.Order.ID = ev.OrderID
	case ev.New != nil:
		u.Order = *ev.New
	default:
		e.metrics.Malformed()
		e.log.Warn("malformed_event_dropped", zap.String("order_id", ev.OrderID),
			zap.String("operation", string(ev.Operation)), zap.String("reason", "no new row"))
		return nil
	}
	return e.Submit(ctx, Batch{Scope: e.scope, Source: SourceFeed, Updates: []Update{u}})
}

// Run applies queued batches until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-e.in:
			if ctx.Err() != nil {
				return nil
			}
			batches := []Batch{b}
		drain:
			for len(batches) < maxCoalesce {
				select {
				case more := <-e.in:
					batches = append(batches, more)
				default:
					break drain
				}
			}
			e.apply(batches)
		}
	}
}

func (e *Engine) apply(batches []Batch) {
	cur := e.snap.Load()
	var next *Snapshot
	changes := map[string]*Change{}
	var touched []string

	for _, b := range batches {
		for _, u := range b.Updates {
			if u.Order.ID == "" || (!u.Deleted && !u.Order.Status.Valid()) {
				e.metrics.Malformed()
				e.log.Warn("malformed_update_dropped", zap.String("source", string(b.Source)),
					zap.String("order_id", u.Order.ID), zap.String("status", string(u.Order.Status)))
				continue
			}
			if u.ReceivedAt.IsZero() {
				u.ReceivedAt = e.now()
			}

			view := cur
			if next != nil {
				view = next
			}
			old, exists := view.entries[u.Order.ID]
			out := merge(old, exists, u)
			if out.reason != "" {
				e.metrics.Discarded(out.reason)
				e.log.Debug("update_ignored", zap.String("order_id", u.Order.ID),
					zap.String("source", string(b.Source)), zap.String("reason", out.reason))
			}
			if !out.store {
				continue
			}
			if next == nil {
				next = cur.clone()
			}
			next.entries[u.Order.ID] = out.next
			if !out.notify {
				continue
			}
			e.metrics.Applied(string(b.Source))
			c, seen := changes[u.Order.ID]
			if !seen {
				c = &Change{OrderID: u.Order.ID}
				changes[u.Order.ID] = c
				touched = append(touched, u.Order.ID)
			}
			c.Order = out.next.order
			c.Deleted = out.next.deleted
			c.Source = b.Source
			c.Invalidated = e.invalidated(old, exists, out.next)
		}
	}

	if next == nil {
		return
	}
	e.snap.Store(next)
	if len(touched) == 0 {
		return
	}
	out := make([]Change, 0, len(touched))
	for _, id := range touched {
		c := changes[id]
		c.Version = next.version
		out = append(out, *c)
	}
	e.metrics.Notified(len(out))
	if e.notify != nil {
		e.notify(out)
	}
}

// invalidated lists the detail query plus the scope list when the order is, or was, on it.
func (e *Engine) invalidated(old entry, existed bool, now entry) []string {
	keys := []string{DetailKey(now.order.ID)}
	onList := e.scope.Matches(now.order) || (existed && !old.deleted && e.scope.Matches(old.order))
	if onList {
		keys = append(keys, ListKey(e.scope))
	}
	return keys
}
