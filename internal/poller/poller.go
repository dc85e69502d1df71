// Package poller refetches a scope's orders on a fixed interval as a backstop
// for the change feed.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"order-sync/internal/common/logger"
	"order-sync/internal/common/metrics"
	"order-sync/internal/domain"
)

// FetchFunc lists the orders visible on scope.
type FetchFunc func(ctx context.Context, scope domain.Scope) ([]domain.Order, error)

// Sink receives each successful result together with the scope it was fetched for.
type Sink func(ctx context.Context, scope domain.Scope, orders []domain.Order) error

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *logger.Logger
	Metrics  *metrics.Metrics

	// OnResult is called after every completed fetch with its error (nil on success).
	OnResult func(err error)
}

type Poller struct {
	scope    domain.Scope
	fetch    FetchFunc
	sink     Sink
	opts     Options
	log      *logger.Logger
	inFlight atomic.Bool
	failures atomic.Int32
	wg       sync.WaitGroup
}

func New(scope domain.Scope, fetch FetchFunc, sink Sink, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Poller{scope: scope, fetch: fetch, sink: sink, opts: opts, log: log.With(zap.Stringer("scope", scope))}
}

// Run ticks until ctx is cancelled and returns once any in-flight fetch has finished.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Tick(ctx)
		}
	}
}

// Tick starts one fetch in the background. It returns false, and does nothing,
// when the previous fetch has not finished yet.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.opts.Metrics.PollSkipped()
		p.log.Debug("poll_skipped")
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		p.poll(ctx)
	}()
	return true
}

// ConsecutiveFailures counts failed fetches since the last success.
func (p *Poller) ConsecutiveFailures() int { return int(p.failures.Load()) }

// Wait blocks until the in-flight fetch, if any, is done.
func (p *Poller) Wait() { p.wg.Wait() }

func (p *Poller) poll(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	orders, err := p.fetch(fctx, p.scope)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		n := p.failures.Add(1)
		p.opts.Metrics.PollFailed()
		p.log.Warn("poll_failed", zap.Error(err), zap.Int32("consecutive", n))
		p.report(err)
		return
	}
	p.failures.Store(0)
	if ctx.Err() != nil {
		return
	}
	if err := p.sink(ctx, p.scope, orders); err != nil && ctx.Err() == nil {
		p.log.Debug("poll_result_discarded", zap.Error(err))
	}
	p.report(nil)
}

func (p *Poller) report(err error) {
	if p.opts.OnResult != nil {
		p.opts.OnResult(err)
	}
}
