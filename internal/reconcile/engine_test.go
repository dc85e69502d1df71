package reconcile

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-sync/internal/common/metrics"
	"order-sync/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	rounds [][]Change
	perID  map[string]int
}

func newRecorder() *recorder { return &recorder{perID: map[string]int{}} }

func (r *recorder) notify(changes []Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, changes)
	for _, c := range changes {
		r.perID[c.OrderID]++
	}
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perID[id]
}

var userScope = domain.ByUser("u1")

func batch(src Source, updates ...Update) Batch {
	return Batch{Scope: userScope, Source: src, Updates: updates}
}

func TestEngine_ScenarioA_StalePollIgnored(t *testing.T) {
	rec := newRecorder()
	e := New(userScope, WithNotifier(rec.notify))

	e.apply([]Batch{batch(SourceFetch, upd("o1", domain.StatusPending, 1))})
	e.apply([]Batch{batch(SourceFeed, upd("o1", domain.StatusConfirmed, 10))})
	e.apply([]Batch{batch(SourcePoll, upd("o1", domain.StatusPending, 5))})

	got, ok := e.Snapshot().Order("o1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, 2, rec.count("o1"))
}

func TestEngine_DuplicateDeliveryNotifiesOnce(t *testing.T) {
	rec := newRecorder()
	e := New(userScope, WithNotifier(rec.notify))

	b := batch(SourceFeed, upd("o1", domain.StatusConfirmed, 10))
	e.apply([]Batch{b})
	v := e.Snapshot().Version()
	e.apply([]Batch{b})

	assert.Equal(t, 1, rec.count("o1"))
	assert.Equal(t, v, e.Snapshot().Version(), "duplicate must not publish a new view")
}

func TestEngine_CoalescesPerOrder(t *testing.T) {
	rec := newRecorder()
	e := New(userScope, WithNotifier(rec.notify))

	e.apply([]Batch{
		batch(SourceFeed, upd("o1", domain.StatusConfirmed, 10)),
		batch(SourcePoll, upd("o1", domain.StatusPreparing, 11), upd("o2", domain.StatusPending, 3)),
		batch(SourceFeed, upd("o1", domain.StatusPreparing, 11)),
	})

	require.Len(t, rec.rounds, 1)
	round := rec.rounds[0]
	require.Len(t, round, 2)
	assert.Equal(t, "o1", round[0].OrderID)
	assert.Equal(t, domain.StatusPreparing, round[0].Order.Status)
	assert.Equal(t, SourcePoll, round[0].Source)
	assert.ElementsMatch(t, []string{DetailKey("o1"), ListKey(userScope)}, round[0].Invalidated)
	assert.Equal(t, "o2", round[1].OrderID)
}

func TestEngine_MalformedUpdateDoesNotStall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rec := newRecorder()
	e := New(userScope, WithNotifier(rec.notify), WithMetrics(m))

	e.apply([]Batch{batch(SourceFeed,
		Update{Order: domain.Order{Status: domain.StatusReady}},
		Update{Order: domain.Order{ID: "o9", Status: "teleported"}},
		upd("o1", domain.StatusReady, 4),
	)})

	assert.Equal(t, 1, rec.count("o1"))
	assert.Equal(t, 0, rec.count("o9"))
	expected := `
# HELP ordersync_malformed_events_total Change events dropped because they could not be decoded
# TYPE ordersync_malformed_events_total counter
ordersync_malformed_events_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ordersync_malformed_events_total"))
}

func TestEngine_DeleteRemovesFromView(t *testing.T) {
	rec := newRecorder()
	e := New(userScope, WithNotifier(rec.notify))
	e.apply([]Batch{batch(SourceFetch, upd("o1", domain.StatusReady, 4))})

	old := order("o1", domain.StatusReady, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()
	require.NoError(t, e.SubmitEvent(ctx, domain.ChangeEvent{
		Operation: domain.OpDelete, OrderID: "o1", Old: &old, ReceivedAt: at(50),
	}))

	require.Eventually(t, func() bool { return rec.count("o1") == 2 }, time.Second, 5*time.Millisecond)
	_, ok := e.Snapshot().Order("o1")
	assert.False(t, ok)
	assert.Empty(t, e.Snapshot().Orders())
}

func TestEngine_OrderLeavingScopeInvalidatesList(t *testing.T) {
	rec := newRecorder()
	e := New(userScope, WithNotifier(rec.notify))
	e.apply([]Batch{batch(SourceFetch, upd("o1", domain.StatusPending, 1))})

	moved := upd("o1", domain.StatusConfirmed, 2)
	moved.Order.UserID = "u2"
	e.apply([]Batch{batch(SourceFeed, moved)})

	require.Len(t, rec.rounds, 2)
	assert.Contains(t, rec.rounds[1][0].Invalidated, ListKey(userScope))
	assert.Empty(t, e.Snapshot().Orders())
}

func TestEngine_SubmitRejectsOtherScope(t *testing.T) {
	e := New(userScope)
	err := e.Submit(context.Background(), Batch{Scope: domain.ByRestaurant("r1"), Source: SourcePoll})
	assert.ErrorIs(t, err, ErrScopeMismatch)
}

func TestEngine_SubmitAfterStopIsDiscarded(t *testing.T) {
	rec := newRecorder()
	e := New(userScope, WithNotifier(rec.notify))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	cancel()
	<-e.Done()

	err := e.Submit(context.Background(), batch(SourcePoll, upd("o1", domain.StatusReady, 4)))
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := e.Snapshot().Order("o1")
	assert.False(t, ok)
	assert.Equal(t, 0, rec.count("o1"))
}

func TestEngine_RunAppliesInArrivalOrder(t *testing.T) {
	rec := newRecorder()
	e := New(userScope, WithNotifier(rec.notify), WithQueueSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	require.NoError(t, e.Submit(ctx, batch(SourceFeed, upd("o1", domain.StatusPreparing, 20))))
	require.NoError(t, e.Submit(ctx, batch(SourceFeed, upd("o1", domain.StatusConfirmed, 15))))
	require.NoError(t, e.Submit(ctx, batch(SourceFeed, upd("o2", domain.StatusPending, 1))))

	require.Eventually(t, func() bool { return rec.count("o2") == 1 }, time.Second, 5*time.Millisecond)
	got, _ := e.Snapshot().Order("o1")
	assert.Equal(t, domain.StatusPreparing, got.Status)
	assert.Equal(t, 1, rec.count("o1"))
}

func TestSnapshot_OrdersNewestFirstInScope(t *testing.T) {
	e := New(userScope)
	a := upd("a", domain.StatusPending, 1)
	b := upd("b", domain.StatusPending, 1)
	b.Order.CreatedAt = t0.Add(time.Minute)
	other := upd("c", domain.StatusPending, 1)
	other.Order.UserID = "u2"
	e.apply([]Batch{batch(SourcePoll, a, b, other)})

	list := e.Snapshot().Orders()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)
	_, ok := e.Snapshot().Order("c")
	assert.True(t, ok, "detail lookups still see out-of-scope rows")
}

func TestSnapshot_ChangesRestateTheView(t *testing.T) {
	rec := newRecorder()
	e := New(userScope, WithNotifier(rec.notify))
	e.apply([]Batch{batch(SourceFetch, upd("a", domain.StatusPending, 1), upd("b", domain.StatusReady, 1))})
	e.apply([]Batch{batch(SourceFeed, upd("a", domain.StatusConfirmed, 2))})

	snap := e.Snapshot()
	require.Len(t, rec.rounds, 2)
	assert.Equal(t, snap.Version(), rec.rounds[1][0].Version, "changes carry the version that first shows them")
	assert.Less(t, rec.rounds[0][0].Version, snap.Version())

	replay := snap.Changes()
	require.Len(t, replay, 2)
	for _, c := range replay {
		assert.Equal(t, SourceView, c.Source)
		assert.Equal(t, snap.Version(), c.Version)
		assert.Contains(t, c.Invalidated, ListKey(userScope))
	}
}
