// Package auth supplies the signed-in identity that order scopes default to.
package auth

import (
	"context"
	"errors"
)

type Role string

const (
	RoleCustomer        Role = "customer"
	RoleRestaurantOwner Role = "restaurant_owner"
	RoleAdmin           Role = "admin"
)

var ErrNoIdentity = errors.New("auth: no signed-in identity")

type Identity struct {
	UserID       string
	RestaurantID string
	Role         Role
}

// Provider is read on every scope resolution and on every gateway call.
type Provider interface {
	// Identity returns ErrNoIdentity while signed out.
	Identity(ctx context.Context) (Identity, error)
	Token(ctx context.Context) (string, error)
}

// Static always reports the same identity. Used for service accounts and tests.
type Static struct {
	id    Identity
	token string
}

func NewStatic(id Identity, token string) *Static { return &Static{id: id, token: token} }

func (s *Static) Identity(context.Context) (Identity, error) {
	if s.id.UserID == "" && s.id.RestaurantID == "" {
		return Identity{}, ErrNoIdentity
	}
	return s.id, nil
}

func (s *Static) Token(context.Context) (string, error) { return s.token, nil }
