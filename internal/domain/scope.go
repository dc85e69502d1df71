package domain

import "fmt"

type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeUser
	ScopeRestaurant
)

// Scope selects the orders a subscription or poll is interested in.
// The zero value is the "none" scope.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func ByUser(userID string) Scope {
	if userID == "" {
		return Scope{}
	}
	return Scope{Kind: ScopeUser, ID: userID}
}

func ByRestaurant(restaurantID string) Scope {
	if restaurantID == "" {
		return Scope{}
	}
	return Scope{Kind: ScopeRestaurant, ID: restaurantID}
}

func (s Scope) IsNone() bool { return s.Kind == ScopeNone || s.ID == "" }

// Column is the orders column the scope filters on.
func (s Scope) Column() string {
	switch s.Kind {
	case ScopeUser:
		return "user_id"
	case ScopeRestaurant:
		return "restaurant_id"
	}
	return ""
}

// Filter renders the change feed filter, e.g. "user_id=eq.42".
func (s Scope) Filter() string {
	if s.IsNone() {
		return ""
	}
	return fmt.Sprintf("%s=eq.%s", s.Column(), s.ID)
}

// Matches reports whether the order is visible on this scope.
func (s Scope) Matches(o Order) bool {
	switch s.Kind {
	case ScopeUser:
		return s.ID != "" && o.UserID == s.ID
	case ScopeRestaurant:
		return s.ID != "" && o.RestaurantID == s.ID
	}
	return false
}

func (s Scope) String() string {
	if s.IsNone() {
		return "none"
	}
	return s.Filter()
}
