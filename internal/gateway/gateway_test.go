package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"order-sync/internal/domain"
)

func TestPatchValidate(t *testing.T) {
	ready := domain.StatusReady
	bogus := domain.Status("lost")
	notes := "ring twice"

	assert.ErrorIs(t, Patch{}.Validate(), ErrEmptyPatch)
	assert.NoError(t, Patch{Status: &ready}.Validate())
	assert.NoError(t, Patch{Notes: &notes}.Validate())
	assert.Error(t, Patch{Status: &bogus}.Validate())
}
