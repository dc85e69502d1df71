package reconcile

import (
	"time"

	"order-sync/internal/common/metrics"
	"order-sync/internal/domain"
)

// Source names where an update came from. It only affects logging and metrics;
// every source goes through the same merge rule.
type Source string

const (
	SourceFetch    Source = "fetch"
	SourceFeed     Source = "feed"
	SourcePoll     Source = "poll"
	SourceMutation Source = "mutation"
	// SourceView marks a change replayed from a published view, not merged.
	SourceView Source = "view"
)

// Update is a full snapshot of one order (or a deletion of it).
type Update struct {
	Order      domain.Order
	Deleted    bool
	ReceivedAt time.Time
}

// Recency is the marker R: the row's updated_at, or the receipt time when the row has none.
func (u Update) Recency() time.Time {
	if !u.Order.UpdatedAt.IsZero() {
		return u.Order.UpdatedAt
	}
	return u.ReceivedAt
}

type entry struct {
	order   domain.Order
	r       time.Time
	deleted bool
}

type outcome struct {
	next   entry
	store  bool
	notify bool
	reason string
}

// merge decides what an update does to the current entry for its id.
//
// Newer-or-equal R wins, except that a cancellation always wins over a live order
// and nothing but another cancellation replaces a cancelled order. A live order's
// status never moves backwards. Tombstones win ties so a stale snapshot of the
// deleted row cannot bring it back.
func merge(cur entry, exists bool, u Update) outcome {
	r := u.Recency()
	next := entry{order: u.Order, r: r, deleted: u.Deleted}

	if !exists {
		return outcome{next: next, store: true, notify: !u.Deleted}
	}

	if !u.Deleted && u.Order.Status == domain.StatusCancelled {
		switch {
		case cur.deleted && r.Before(cur.r):
			return outcome{reason: metrics.ReasonStale}
		case !cur.deleted && cur.order.Status == domain.StatusCancelled && r.Before(cur.r):
			return outcome{reason: metrics.ReasonStale}
		case !cur.deleted && cur.order.Equal(u.Order):
			return outcome{next: raise(cur, r), store: r.After(cur.r), reason: metrics.ReasonDuplicate}
		}
		next.r = latest(cur.r, r)
		return outcome{next: next, store: true, notify: true}
	}

	if r.Before(cur.r) {
		return outcome{reason: metrics.ReasonStale}
	}
	if cur.deleted && !u.Deleted && !r.After(cur.r) {
		return outcome{reason: metrics.ReasonStale}
	}
	if !cur.deleted && !u.Deleted {
		if cur.order.Status == domain.StatusCancelled || u.Order.Status.Rank() < cur.order.Status.Rank() {
			return outcome{reason: metrics.ReasonRegression}
		}
	}
	if cur.deleted && u.Deleted {
		return outcome{next: raise(cur, r), store: r.After(cur.r), reason: metrics.ReasonDuplicate}
	}
	if !cur.deleted && !u.Deleted && cur.order.Equal(u.Order) {
		return outcome{next: raise(cur, r), store: r.After(cur.r), reason: metrics.ReasonDuplicate}
	}
	return outcome{next: next, store: true, notify: true}
}

func raise(e entry, r time.Time) entry {
	e.r = latest(e.r, r)
	return e
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
