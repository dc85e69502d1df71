package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Rank orders the lifecycle. Cancelled is absorbing and ranks above everything.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusConfirmed:
		return 1
	case StatusPreparing:
		return 2
	case StatusReady:
		return 3
	case StatusDelivered:
		return 4
	case StatusCancelled:
		return 5
	default:
		return -1
	}
}

func (s Status) Valid() bool { return s.Rank() >= 0 }

// Order is a full row of the orders relation. Payload fields are carried as-is.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	RestaurantID    string          `json:"restaurant_id"`
	Status          Status          `json:"status"`
	Items           json.RawMessage `json:"items,omitempty"`
	Subtotal        float64         `json:"subtotal"`
	Tax             float64         `json:"tax"`
	DeliveryFee     float64         `json:"delivery_fee"`
	Total           float64         `json:"total"`
	DeliveryAddress json.RawMessage `json:"delivery_address,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	PaymentStatus   string          `json:"payment_status,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Equal reports whether two snapshots carry the same row.
func (o Order) Equal(other Order) bool {
	return o.ID == other.ID &&
		o.UserID == other.UserID &&
		o.RestaurantID == other.RestaurantID &&
		o.Status == other.Status &&
		rawEqual(o.Items, other.Items) &&
		o.Subtotal == other.Subtotal &&
		o.Tax == other.Tax &&
		o.DeliveryFee == other.DeliveryFee &&
		o.Total == other.Total &&
		rawEqual(o.DeliveryAddress, other.DeliveryAddress) &&
		o.Notes == other.Notes &&
		o.PaymentStatus == other.PaymentStatus &&
		o.CreatedAt.Equal(other.CreatedAt) &&
		o.UpdatedAt.Equal(other.UpdatedAt)
}

// rawEqual compares JSON payloads by value: an absent payload equals a JSON null
// and insignificant whitespace is ignored.
func rawEqual(a, b json.RawMessage) bool {
	a, b = bytes.TrimSpace(a), bytes.TrimSpace(b)
	if bytes.Equal(a, b) {
		return true
	}
	if isNull(a) && isNull(b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
