package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-sync/internal/domain"
)

var scope = domain.ByUser("u1")

func TestTick_SkipsWhileFetchInFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context, _ domain.Scope) ([]domain.Order, error) {
		calls.Add(1)
		<-release
		return nil, nil
	}
	p := New(scope, fetch, func(context.Context, domain.Scope, []domain.Order) error { return nil }, Options{})

	require.True(t, p.Tick(context.Background()))
	assert.False(t, p.Tick(context.Background()))
	assert.False(t, p.Tick(context.Background()))
	close(release)
	p.Wait()

	assert.True(t, p.Tick(context.Background()))
	p.Wait()
	assert.Equal(t, int32(2), calls.Load())
}

func TestTick_TimeoutCountsAsFailure(t *testing.T) {
	fetch := func(ctx context.Context, _ domain.Scope) ([]domain.Order, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	var results []error
	var mu sync.Mutex
	p := New(scope, fetch, func(context.Context, domain.Scope, []domain.Order) error { return nil }, Options{
		Timeout:  5 * time.Millisecond,
		OnResult: func(err error) { mu.Lock(); results = append(results, err); mu.Unlock() },
	})

	p.Tick(context.Background())
	p.Wait()
	p.Tick(context.Background())
	p.Wait()

	assert.Equal(t, 2, p.ConsecutiveFailures())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0], context.DeadlineExceeded)
}

func TestTick_SuccessResetsFailuresAndTagsScope(t *testing.T) {
	fail := true
	fetch := func(context.Context, domain.Scope) ([]domain.Order, error) {
		if fail {
			return nil, errors.New("503")
		}
		return []domain.Order{{ID: "o1", Status: domain.StatusPending}}, nil
	}
	var got domain.Scope
	var orders []domain.Order
	sink := func(_ context.Context, s domain.Scope, o []domain.Order) error {
		got, orders = s, o
		return nil
	}
	p := New(scope, fetch, sink, Options{})

	p.Tick(context.Background())
	p.Wait()
	assert.Equal(t, 1, p.ConsecutiveFailures())
	assert.Nil(t, orders)

	fail = false
	p.Tick(context.Background())
	p.Wait()
	assert.Equal(t, 0, p.ConsecutiveFailures())
	assert.Equal(t, scope, got)
	assert.Len(t, orders, 1)
}

func TestRun_PollsOnIntervalAndStops(t *testing.T) {
	var calls atomic.Int32
	fetch := func(context.Context, domain.Scope) ([]domain.Order, error) {
		calls.Add(1)
		return nil, nil
	}
	p := New(scope, fetch, func(context.Context, domain.Scope, []domain.Order) error { return nil }, Options{Interval: 2 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
	n := calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}
