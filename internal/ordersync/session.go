package ordersync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-sync/internal/common/logger"
	"order-sync/internal/domain"
	"order-sync/internal/feed"
	"order-sync/internal/poller"
	"order-sync/internal/reconcile"
)

// session is everything kept alive for one scope while at least one registration
// watches it: the engine, the feed subscription and the poller.
type session struct {
	id    string
	scope domain.Scope
	m     *Manager
	log   *logger.Logger
	refs  int // guarded by Manager.mu

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	engine *reconcile.Engine
	sub    *feed.Subscriber
	poller *poller.Poller
	ready  chan struct{}
	opened chan struct{}
	once   sync.Once

	feedState atomic.Int32
	health    atomic.Value // Health

	obsMu     sync.RWMutex
	observers map[*Registration]struct{}
}

func newSession(m *Manager, scope domain.Scope) *session {
	ctx, cancel := context.WithCancel(m.ctx)
	s := &session{
		id:        uuid.NewString(),
		scope:     scope,
		m:         m,
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
		opened:    make(chan struct{}),
		observers: map[*Registration]struct{}{},
	}
	s.log = m.log.With(zap.String("session_id", s.id), zap.Stringer("scope", scope))
	s.health.Store(HealthPolling)

	s.engine = reconcile.New(scope,
		reconcile.WithLogger(s.log),
		reconcile.WithMetrics(m.cfg.Metrics),
		reconcile.WithQueueSize(m.cfg.QueueSize),
		reconcile.WithNotifier(s.dispatch),
	)
	s.poller = poller.New(scope, m.cfg.Gateway.FetchOrders, s.submitSnapshot, poller.Options{
		Interval: m.cfg.PollInterval,
		Timeout:  m.cfg.FetchTimeout,
		Logger:   s.log,
		Metrics:  m.cfg.Metrics,
		OnResult: func(error) { s.refreshHealth() },
	})
	s.sub = feed.NewSubscriber(m.cfg.Transport, s.engine.SubmitEvent, feed.Options{
		Backoff:     m.cfg.Backoff,
		OpenTimeout: m.cfg.OpenTimeout,
		Logger:      s.log,
		Metrics:     m.cfg.Metrics,
		OnState:     s.onFeedState,
	})
	return s
}

func (s *session) start() error {
	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		_ = s.engine.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.poller.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		defer close(s.ready)
		s.initialFetch()
	}()

	if _, err := s.sub.Open(s.ctx, s.scope); err != nil {
		s.stop()
		return err
	}
	s.m.cfg.Metrics.SessionOpened()
	s.log.Info("session_started")
	return nil
}

// stop tears the session down. The feed is closed first so no event is handed
// to the engine afterwards; anything still in flight is then rejected by the
// stopped engine.
func (s *session) stop() {
	s.sub.Close()
	s.cancel()
	s.wg.Wait()
	s.log.Info("session_stopped")
}

// awaitFeed waits, at most the open timeout, until the feed has opened or given up.
func (s *session) awaitFeed(ctx context.Context) {
	t := time.NewTimer(s.m.cfg.OpenTimeout)
	defer t.Stop()
	select {
	case <-s.opened:
	case <-t.C:
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
}

func (s *session) initialFetch() {
	ctx, cancel := context.WithTimeout(s.ctx, s.m.cfg.FetchTimeout)
	defer cancel()
	orders, err := s.m.cfg.Gateway.FetchOrders(ctx, s.scope)
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Warn("initial_fetch_failed", zap.Error(err))
		}
		return
	}
	if err := s.submit(s.ctx, reconcile.SourceFetch, orders...); err != nil && s.ctx.Err() == nil {
		s.log.Debug("initial_fetch_discarded", zap.Error(err))
	}
}

func (s *session) submitSnapshot(ctx context.Context, scope domain.Scope, orders []domain.Order) error {
	return s.engine.Submit(ctx, reconcile.Batch{Scope: scope, Source: reconcile.SourcePoll, Updates: updates(orders)})
}

func (s *session) submit(ctx context.Context, src reconcile.Source, orders ...domain.Order) error {
	return s.engine.Submit(ctx, reconcile.Batch{Scope: s.scope, Source: src, Updates: updates(orders)})
}

func updates(orders []domain.Order) []reconcile.Update {
	now := time.Now()
	out := make([]reconcile.Update, len(orders))
	for i, o := range orders {
		out[i] = reconcile.Update{Order: o, ReceivedAt: now}
	}
	return out
}

func (s *session) onFeedState(st feed.State) {
	s.feedState.Store(int32(st))
	switch st {
	case feed.StateOpen:
		s.once.Do(func() { close(s.opened) })
		// catch up on whatever happened while the channel was down
		s.poller.Tick(s.ctx)
	case feed.StateFailed:
		s.once.Do(func() { close(s.opened) })
	}
	s.refreshHealth()
}

func (s *session) refreshHealth() {
	h := health(feed.State(s.feedState.Load()), s.poller.ConsecutiveFailures(), s.m.cfg.PollFailureThreshold)
	if prev := s.health.Swap(h); prev == h {
		return
	}
	s.log.Info("sync_health_changed", zap.String("health", string(h)))
	for _, r := range s.observerList() {
		if r.current() == s {
			r.healthChanged(h)
		}
	}
}

func (s *session) currentHealth() Health { return s.health.Load().(Health) }

func (s *session) addObserver(r *Registration) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers[r] = struct{}{}
}

func (s *session) removeObserver(r *Registration) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	delete(s.observers, r)
}

func (s *session) observerList() []*Registration {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	out := make([]*Registration, 0, len(s.observers))
	for r := range s.observers {
		out = append(out, r)
	}
	return out
}

// dispatch runs on the engine goroutine.
func (s *session) dispatch(changes []reconcile.Change) {
	for _, r := range s.observerList() {
		r.deliver(s, changes)
	}
}

// offer hands a gateway snapshot to the session if the order belongs to it or
// is already cached by it.
func (s *session) offer(ctx context.Context, src reconcile.Source, o domain.Order) {
	if !s.scope.Matches(o) {
		if _, cached := s.engine.Snapshot().Order(o.ID); !cached {
			return
		}
	}
	err := s.submit(ctx, src, o)
	if err != nil && !errors.Is(err, reconcile.ErrClosed) {
		s.log.Debug("snapshot_not_applied", zap.Error(err), zap.String("order_id", o.ID))
	}
}
