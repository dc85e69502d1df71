package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-sync/internal/domain"
)

const Table = "orders"

var ErrMalformed = errors.New("feed: malformed change event")

// Message is one raw notification as it comes off the wire.
type Message struct {
	EventType  string          `json:"eventType"`
	Table      string          `json:"table"`
	New        json.RawMessage `json:"new,omitempty"`
	Old        json.RawMessage `json:"old,omitempty"`
	ReceivedAt time.Time       `json:"-"`

	// Ack confirms the message to the transport once it has been handed downstream.
	// Nil when the transport does not need it.
	Ack func() error `json:"-"`
}

// Stream is one open channel. Recv blocks until a message arrives, ctx is done or
// the channel breaks.
type Stream interface {
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Transport opens a channel filtered to a scope.
type Transport interface {
	Connect(ctx context.Context, scope domain.Scope) (Stream, error)
}

// Decode turns a raw message into a ChangeEvent. Anything without an order id,
// with an unknown event type or for another table is rejected with ErrMalformed.
func Decode(m Message) (domain.ChangeEvent, error) {
	if m.Table != "" && m.Table != Table {
		return domain.ChangeEvent{}, fmt.Errorf("%w: table %q", ErrMalformed, m.Table)
	}
	op, ok := domain.ParseOperation(m.EventType)
	if !ok || op == domain.OpAll {
		return domain.ChangeEvent{}, fmt.Errorf("%w: event type %q", ErrMalformed, m.EventType)
	}
	ev := domain.ChangeEvent{Operation: op, ReceivedAt: m.ReceivedAt}

	var err error
	if ev.New, err = decodeRow(m.New); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: new: %v", ErrMalformed, err)
	}
	if ev.Old, err = decodeRow(m.Old); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: old: %v", ErrMalformed, err)
	}

	switch {
	case op == domain.OpDelete && ev.Old != nil:
		ev.OrderID = ev.Old.ID
	case ev.New != nil:
		ev.OrderID = ev.New.ID
	}
	if ev.OrderID == "" {
		return domain.ChangeEvent{}, fmt.Errorf("%w: missing order id", ErrMalformed)
	}
	return ev, nil
}

func decodeRow(raw json.RawMessage) (*domain.Order, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("{}")) {
		return nil, nil
	}
	var o domain.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	// Nullable jsonb columns arrive as null; the gateways leave them unset.
	o.Items = nilIfNull(o.Items)
	o.DeliveryAddress = nilIfNull(o.DeliveryAddress)
	return &o, nil
}

func nilIfNull(raw json.RawMessage) json.RawMessage {
	if t := bytes.TrimSpace(raw); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil
	}
	return raw
}
