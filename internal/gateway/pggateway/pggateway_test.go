package pggateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-sync/internal/domain"
	"order-sync/internal/gateway"
)

func TestListQuery(t *testing.T) {
	q, args, err := listQuery(domain.ByRestaurant("r1"))
	require.NoError(t, err)
	assert.Contains(t, q, "WHERE restaurant_id = $1")
	assert.Equal(t, []any{"r1"}, args)

	_, _, err = listQuery(domain.Scope{})
	assert.Error(t, err)
}

func TestPatchQuery(t *testing.T) {
	st := domain.StatusPreparing
	paid := "paid"
	q, args, err := patchQuery("o1", gateway.Patch{Status: &st, PaymentStatus: &paid})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(q, "UPDATE orders SET status = $2, payment_status = $3, updated_at = now() WHERE id::text = $1"))
	assert.Equal(t, []any{"o1", "preparing", "paid"}, args)

	_, _, err = patchQuery("o1", gateway.Patch{})
	assert.ErrorIs(t, err, gateway.ErrEmptyPatch)
}
