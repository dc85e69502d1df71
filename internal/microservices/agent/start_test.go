package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-sync/internal/auth"
	"order-sync/internal/common/config"
)

func TestNewCredentials_Static(t *testing.T) {
	creds, tokens, err := newCredentials(config.Auth{UserID: "u1", Role: "customer", Token: "anon"})
	require.NoError(t, err)
	assert.Nil(t, tokens)

	id, err := creds.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: "u1", Role: auth.RoleCustomer}, id)
	tok, _ := creds.Token(context.Background())
	assert.Equal(t, "anon", tok)
}

func TestNewCredentials_JWT(t *testing.T) {
	issuer := auth.NewJWTProvider("s3cret")
	tok, err := issuer.Issue(auth.Identity{UserID: "owner-1", RestaurantID: "r1", Role: auth.RoleRestaurantOwner}, time.Hour)
	require.NoError(t, err)

	creds, tokens, err := newCredentials(config.Auth{JWTSecret: "s3cret", Token: tok})
	require.NoError(t, err)
	require.NotNil(t, tokens)

	id, err := creds.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", id.RestaurantID)
	assert.Equal(t, auth.RoleRestaurantOwner, id.Role)

	_, _, err = newCredentials(config.Auth{JWTSecret: "other", Token: tok})
	assert.Error(t, err)
}

func TestNewCredentials_JWTWithoutToken(t *testing.T) {
	creds, _, err := newCredentials(config.Auth{JWTSecret: "s3cret"})
	require.NoError(t, err)
	_, err = creds.Identity(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoIdentity)
}
