package reconcile

import (
	"sort"

	"order-sync/internal/domain"
)

// Query keys invalidated by a change.
func ListKey(s domain.Scope) string  { return "orders:list:" + s.Filter() }
func DetailKey(orderID string) string { return "orders:detail:" + orderID }

// Snapshot is an immutable cached view of one scope. Readers may hold on to it
// for as long as they like; the engine publishes a new one per merge batch.
type Snapshot struct {
	scope   domain.Scope
	entries map[string]entry
	version uint64
}

func emptySnapshot(scope domain.Scope) *Snapshot {
	return &Snapshot{scope: scope, entries: map[string]entry{}}
}

func (s *Snapshot) clone() *Snapshot {
	entries := make(map[string]entry, len(s.entries)+1)
	for k, v := range s.entries {
		entries[k] = v
	}
	return &Snapshot{scope: s.scope, entries: entries, version: s.version + 1}
}

func (s *Snapshot) Scope() domain.Scope { return s.scope }

// Version increases every time the engine publishes a changed view.
func (s *Snapshot) Version() uint64 { return s.version }

// Order returns the cached order, ignoring deleted ones.
func (s *Snapshot) Order(id string) (domain.Order, bool) {
	e, ok := s.entries[id]
	if !ok || e.deleted {
		return domain.Order{}, false
	}
	return e.order, true
}

// Orders lists the live orders visible on the scope, newest first.
func (s *Snapshot) Orders() []domain.Order {
	out := make([]domain.Order, 0, len(s.entries))
	for _, e := range s.entries {
		if e.deleted || !s.scope.Matches(e.order) {
			continue
		}
		out = append(out, e.order)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Changes restates the view as one change per live order, for observers that
// join after those orders were merged.
func (s *Snapshot) Changes() []Change {
	orders := s.Orders()
	out := make([]Change, 0, len(orders))
	for _, o := range orders {
		out = append(out, Change{
			OrderID:     o.ID,
			Order:       o,
			Source:      SourceView,
			Invalidated: []string{DetailKey(o.ID), ListKey(s.scope)},
			Version:     s.version,
		})
	}
	return out
}

func (s *Snapshot) Len() int { return len(s.Orders()) }
