package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusRank(t *testing.T) {
	lifecycle := []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled}
	for i := 1; i < len(lifecycle); i++ {
		assert.Less(t, lifecycle[i-1].Rank(), lifecycle[i].Rank(), "%s < %s", lifecycle[i-1], lifecycle[i])
	}
	assert.False(t, Status("lost").Valid())
	assert.False(t, Status("").Valid())
	assert.True(t, StatusCancelled.Valid())
}

func TestParseOperation(t *testing.T) {
	for _, s := range []string{"INSERT", "UPDATE", "DELETE", "*"} {
		op, ok := ParseOperation(s)
		assert.True(t, ok, s)
		assert.Equal(t, Operation(s), op)
	}
	_, ok := ParseOperation("insert")
	assert.False(t, ok)
	_, ok = ParseOperation("TRUNCATE")
	assert.False(t, ok)
}

func TestScope(t *testing.T) {
	o := Order{ID: "o1", UserID: "u1", RestaurantID: "r1"}

	cases := []struct {
		name    string
		scope   Scope
		none    bool
		filter  string
		matches bool
	}{
		{"user", ByUser("u1"), false, "user_id=eq.u1", true},
		{"other user", ByUser("u2"), false, "user_id=eq.u2", false},
		{"restaurant", ByRestaurant("r1"), false, "restaurant_id=eq.r1", true},
		{"empty user id", ByUser(""), true, "", false},
		{"zero", Scope{}, true, "", false},
		{"kind without id", Scope{Kind: ScopeUser}, true, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.none, tc.scope.IsNone())
			assert.Equal(t, tc.filter, tc.scope.Filter())
			assert.Equal(t, tc.matches, tc.scope.Matches(o))
		})
	}
	assert.Equal(t, "none", Scope{}.String())
	assert.Equal(t, ByUser("u1"), ByUser("u1"), "scopes are comparable map keys")
}

func TestOrderEqual(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Order{ID: "o1", Status: StatusReady, Items: json.RawMessage(`[{"sku":"p1"}]`), Total: 12.5, UpdatedAt: ts}
	b := a
	b.UpdatedAt = ts.In(time.FixedZone("x", 3600))
	assert.True(t, a.Equal(b), "same instant in another zone")

	b.Items = json.RawMessage(`[{"sku":"p2"}]`)
	assert.False(t, a.Equal(b))

	c := a
	c.Notes = "leave at door"
	assert.False(t, a.Equal(c))
}

func TestOrderEqual_NullPayloads(t *testing.T) {
	a := Order{ID: "o1", Status: StatusConfirmed, Items: json.RawMessage(`[{"sku": "p1"}]`)}
	b := a
	b.DeliveryAddress = json.RawMessage("null")
	assert.True(t, a.Equal(b), "null and absent payloads carry the same row")

	b.Items = json.RawMessage(`[{"sku":"p1"}]`)
	assert.True(t, a.Equal(b), "whitespace inside a payload is not a change")

	b.DeliveryAddress = json.RawMessage(`{"city":"Almaty"}`)
	assert.False(t, a.Equal(b))
}
