// Package repository installs the orders change trigger and listens for its notifications.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type RelayRepositoryInterface interface {
	InstallSchema(ctx context.Context) error
	Listen(ctx context.Context, handle func(ctx context.Context, payload string) error) error
}

type RelayRepository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *RelayRepository { return &RelayRepository{pool: pool} }

func (r *RelayRepository) InstallSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("install schema: %w", err)
	}
	return nil
}

// Listen holds one pooled connection in LISTEN mode and calls handle for every
// notification, in order. It returns when ctx ends, the connection breaks or
// handle fails.
func (r *RelayRepository) Listen(ctx context.Context, handle func(ctx context.Context, payload string) error) error {
	pc, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	// a connection that was in LISTEN mode must not go back to the pool
	conn := pc.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if err := handle(ctx, n.Payload); err != nil {
			return err
		}
	}
}
