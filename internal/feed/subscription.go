package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"order-sync/internal/common/logger"
	"order-sync/internal/common/metrics"
	"order-sync/internal/domain"
)

var (
	ErrNoScope = errors.New("feed: no scope to subscribe to")
	ErrClosed  = errors.New("feed: subscription closed")
)

// Handler receives decoded events one at a time. A Handler that blocks stops
// the subscription from reading further messages.
type Handler func(ctx context.Context, ev domain.ChangeEvent) error

type Options struct {
	Backoff     Backoff
	OpenTimeout time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.Metrics

	// OnState is called from the subscription goroutine on every transition
	// except the final one to closed.
	OnState func(State)
}

// Subscription keeps one channel open for a scope, reconnecting with backoff
// until the attempt budget runs out.
type Subscription struct {
	scope     domain.Scope
	transport Transport
	handler   Handler
	opts      Options
	log       *logger.Logger

	state     atomic.Int32
	reopen    chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts a subscription for scope. The returned subscription runs until
// Close is called or ctx is cancelled.
func Open(ctx context.Context, t Transport, scope domain.Scope, h Handler, opts Options) (*Subscription, error) {
	if scope.IsNone() {
		return nil, ErrNoScope
	}
	if t == nil || h == nil {
		return nil, fmt.Errorf("feed: transport and handler are required")
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		scope:     scope,
		transport: t,
		handler:   h,
		opts:      opts,
		log:       log.With(zap.Stringer("scope", scope)),
		reopen:    make(chan struct{}, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.run(runCtx)
	return s, nil
}

func (s *Subscription) Scope() domain.Scope { return s.scope }

func (s *Subscription) State() State { return State(s.state.Load()) }

// Done is closed when the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Reopen restarts a failed subscription, or cuts a pending reconnect wait short.
func (s *Subscription) Reopen() {
	switch s.State() {
	case StateFailed, StateReconnecting:
		select {
		case s.reopen <- struct{}{}:
		default:
		}
	}
}

// Close stops the subscription. Once it returns the handler is never called
// again. It must not be called from inside the handler.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.opts.Metrics.ForgetScope(s.scope.String())
		s.log.Info("feed_closed")
	})
}

func (s *Subscription) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.opts.Metrics.FeedState(s.scope.String(), int(st))
	s.log.Debug("feed_state", zap.Stringer("state", st))
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.state.Store(int32(StateClosed))

	failures := 0
	for {
		s.setState(StateConnecting)
		opened, err := s.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return
		}
		if opened {
			failures = 0
		}
		failures++

		if s.opts.Backoff.Exhausted(failures) {
			s.setState(StateFailed)
			s.log.Error("feed_failed", err, zap.Int("attempts", failures))
			select {
			case <-ctx.Done():
				return
			case <-s.reopen:
				s.log.Info("feed_reopened")
				failures = 0
				continue
			}
		}

		delay := s.opts.Backoff.Delay(failures)
		s.setState(StateReconnecting)
		s.opts.Metrics.Reconnect()
		s.log.Warn("feed_reconnecting", zap.Error(err), zap.Int("attempt", failures), zap.Duration("delay", delay))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		case <-s.reopen:
			t.Stop()
		}
	}
}

// connectAndConsume opens one channel and reads it until it breaks.
func (s *Subscription) connectAndConsume(ctx context.Context) (bool, error) {
	octx, cancel := context.WithTimeout(ctx, s.opts.OpenTimeout)
	stream, err := s.transport.Connect(octx, s.scope)
	cancel()
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer stream.Close()

	select {
	case <-s.reopen:
	default:
	}
	s.setState(StateOpen)
	s.log.Info("feed_open")

	for {
		msg, err := stream.Recv(ctx)
		if err != nil {
			return true, fmt.Errorf("recv: %w", err)
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = time.Now()
		}
		ev, err := Decode(msg)
		if err != nil {
			s.opts.Metrics.Malformed()
			s.log.Warn("malformed_event_dropped", zap.Error(err), zap.String("event_type", msg.EventType))
		} else if err := s.handler(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			s.log.Warn("event_not_applied", zap.Error(err), zap.String("order_id", ev.OrderID))
		}
		if msg.Ack != nil {
			if err := msg.Ack(); err != nil {
				return true, fmt.Errorf("ack: %w", err)
			}
		}
	}
}
