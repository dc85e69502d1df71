package ordersync

import (
	"order-sync/internal/auth"
	"order-sync/internal/domain"
)

// Resolve picks the scope for a registration: an explicit user id, then an
// explicit restaurant id, then the signed-in identity. Restaurant owners default
// to their restaurant, everybody else to their own orders. With no identity the
// scope is none.
func Resolve(p Params, id auth.Identity, idErr error) domain.Scope {
	switch {
	case p.UserID != "":
		return domain.ByUser(p.UserID)
	case p.RestaurantID != "":
		return domain.ByRestaurant(p.RestaurantID)
	case idErr != nil:
		return domain.Scope{}
	case id.Role == auth.RoleRestaurantOwner:
		return domain.ByRestaurant(id.RestaurantID)
	default:
		return domain.ByUser(id.UserID)
	}
}

func (p Params) explicit() bool { return p.UserID != "" || p.RestaurantID != "" }
