// Package ordersync is the one entry point observers use to watch orders. It
// resolves each registration to a scope and shares one engine, feed
// subscription and poller between all registrations on the same scope.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-sync/internal/auth"
	"order-sync/internal/common/logger"
	"order-sync/internal/common/metrics"
	"order-sync/internal/domain"
	"order-sync/internal/feed"
	"order-sync/internal/gateway"
	"order-sync/internal/reconcile"
)

var ErrClosed = errors.New("ordersync: manager closed")

type Config struct {
	Gateway     gateway.Gateway
	Transport   feed.Transport
	Credentials auth.Provider

	PollInterval time.Duration
	FetchTimeout time.Duration
	OpenTimeout  time.Duration
	QueueSize    int
	Backoff      feed.Backoff

	// PollFailureThreshold is how many consecutive poll failures, with the feed
	// given up, it takes to report connection issues.
	PollFailureThreshold int

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

type Manager struct {
	cfg    Config
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[domain.Scope]*session
	regs     map[*Registration]struct{}
	closed   bool
}

func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Gateway == nil || cfg.Transport == nil {
		return nil, fmt.Errorf("ordersync: gateway and transport are required")
	}
	if cfg.Credentials == nil {
		cfg.Credentials = auth.NewStatic(auth.Identity{}, "")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.PollFailureThreshold <= 0 {
		cfg.PollFailureThreshold = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	mctx, cancel := context.WithCancel(ctx)
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		ctx:      mctx,
		cancel:   cancel,
		sessions: map[domain.Scope]*session{},
		regs:     map[*Registration]struct{}{},
	}, nil
}

// Register starts watching the scope p resolves to. A registration that
// resolves to no scope is valid and idle until Reconfigure or IdentityChanged
// gives it one.
func (m *Manager) Register(ctx context.Context, p Params) (*Registration, error) {
	r := &Registration{m: m}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.regs[r] = struct{}{}
	m.mu.Unlock()

	if err := r.Reconfigure(ctx, p); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// acquire returns the running session for scope, starting one if needed, and
// takes a reference on it.
func (m *Manager) acquire(scope domain.Scope) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[scope]; ok {
		s.refs++
		return s, nil
	}
	s := newSession(m, scope)
	if err := s.start(); err != nil {
		return nil, err
	}
	s.refs = 1
	m.sessions[scope] = s
	return s, nil
}

// release drops a reference and stops the session when it was the last one.
func (m *Manager) release(s *session) {
	m.mu.Lock()
	s.refs--
	last := s.refs <= 0
	if last && m.sessions[s.scope] == s {
		delete(m.sessions, s.scope)
	}
	m.mu.Unlock()

	if last {
		s.stop()
		m.cfg.Metrics.SessionClosed()
	}
}

func (m *Manager) forget(r *Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regs, r)
}

func (m *Manager) activeSessions() []*session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// View returns the live snapshot for scope if some registration is watching it.
func (m *Manager) View(scope domain.Scope) (*reconcile.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[scope]
	if !ok {
		return nil, false
	}
	return s.engine.Snapshot(), true
}

// Mutate patches an order through the gateway and feeds the returned row to
// every session that shows it.
func (m *Manager) Mutate(ctx context.Context, id string, p gateway.Patch) (domain.Order, error) {
	o, err := m.cfg.Gateway.MutateOrder(ctx, id, p)
	if err != nil {
		return domain.Order{}, err
	}
	m.offer(ctx, reconcile.SourceMutation, o)
	return o, nil
}

// Refresh refetches one order, typically for a detail screen.
func (m *Manager) Refresh(ctx context.Context, id string) (domain.Order, error) {
	o, err := m.cfg.Gateway.FetchOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	m.offer(ctx, reconcile.SourceFetch, o)
	return o, nil
}

func (m *Manager) offer(ctx context.Context, src reconcile.Source, o domain.Order) {
	for _, s := range m.activeSessions() {
		s.offer(ctx, src, o)
	}
}

// Reopen retries every feed that gave up, e.g. when the app comes back to the foreground.
func (m *Manager) Reopen() {
	for _, s := range m.activeSessions() {
		s.sub.Reopen()
	}
}

// IdentityChanged re-resolves registrations that follow the signed-in identity.
// Registrations move concurrently, so the wait for a new scope's feed is paid
// once rather than once per registration.
func (m *Manager) IdentityChanged(ctx context.Context) {
	m.mu.Lock()
	regs := make([]*Registration, 0, len(m.regs))
	for r := range m.regs {
		regs = append(regs, r)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range regs {
		wg.Add(1)
		go func(r *Registration) {
			defer wg.Done()
			if err := r.reresolve(ctx); err != nil && !errors.Is(err, ErrClosed) {
				m.log.Error("rescope_failed", err)
			}
		}(r)
	}
	wg.Wait()
}

type SessionStatus struct {
	Scope     string `json:"scope"`
	Feed      string `json:"feed"`
	Health    Health `json:"health"`
	Observers int    `json:"observers"`
	Orders    int    `json:"orders"`
	Version   uint64 `json:"version"`
}

// Status describes every running session, sorted by scope.
func (m *Manager) Status() []SessionStatus {
	sessions := m.activeSessions()
	out := make([]SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		snap := s.engine.Snapshot()
		out = append(out, SessionStatus{
			Scope:     s.scope.String(),
			Feed:      s.sub.State().String(),
			Health:    s.currentHealth(),
			Observers: len(s.observerList()),
			Orders:    snap.Len(),
			Version:   snap.Version(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

// Close ends every registration and stops all sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	regs := make([]*Registration, 0, len(m.regs))
	for r := range m.regs {
		regs = append(regs, r)
	}
	m.mu.Unlock()

	for _, r := range regs {
		r.Close()
	}
	m.cancel()
	m.log.Info("manager_closed", zap.Int("registrations", len(regs)))
}
