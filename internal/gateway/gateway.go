// Package gateway is the request/response side of order sync: single-order
// reads, scope listings and mutations against the system of record.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"order-sync/internal/domain"
)

var (
	ErrNotFound   = errors.New("gateway: order not found")
	ErrEmptyPatch = errors.New("gateway: patch changes nothing")
)

// Gateway results are full order snapshots and go through the same merge as
// feed events.
type Gateway interface {
	FetchOrder(ctx context.Context, id string) (domain.Order, error)
	FetchOrders(ctx context.Context, scope domain.Scope) ([]domain.Order, error)
	MutateOrder(ctx context.Context, id string, p Patch) (domain.Order, error)
}

// Patch lists the fields a client may change. Nil means unchanged.
type Patch struct {
	Status        *domain.Status `json:"status,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
	PaymentStatus *string        `json:"payment_status,omitempty"`
}

func (p Patch) Validate() error {
	if p.Status == nil && p.Notes == nil && p.PaymentStatus == nil {
		return ErrEmptyPatch
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("gateway: unknown status %q", *p.Status)
	}
	return nil
}
