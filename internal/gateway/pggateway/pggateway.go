// Package pggateway reads and patches orders directly in Postgres.
package pggateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-sync/internal/domain"
	"order-sync/internal/gateway"
)

const columns = `id::text, user_id, restaurant_id, status, COALESCE(items, 'null'::jsonb),
subtotal, tax, delivery_fee, total, COALESCE(delivery_address, 'null'::jsonb),
COALESCE(notes, ''), COALESCE(payment_status, ''), created_at, COALESCE(updated_at, created_at)`

const listLimit = 200

type Gateway struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Gateway { return &Gateway{pool: pool} }

var _ gateway.Gateway = (*Gateway)(nil)

func (g *Gateway) FetchOrder(ctx context.Context, id string) (domain.Order, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+columns+` FROM orders WHERE id::text = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, gateway.ErrNotFound
	}
	return o, err
}

func (g *Gateway) FetchOrders(ctx context.Context, scope domain.Scope) ([]domain.Order, error) {
	q, args, err := listQuery(scope)
	if err != nil {
		return nil, err
	}
	rows, err := g.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Order, 0, 16)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MutateOrder applies p and returns the row as stored. The orders trigger bumps updated_at.
func (g *Gateway) MutateOrder(ctx context.Context, id string, p gateway.Patch) (domain.Order, error) {
	q, args, err := patchQuery(id, p)
	if err != nil {
		return domain.Order{}, err
	}
	o, err := scanOrder(g.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, gateway.ErrNotFound
	}
	return o, err
}

func listQuery(scope domain.Scope) (string, []any, error) {
	col := scope.Column()
	if scope.IsNone() || col == "" {
		return "", nil, fmt.Errorf("pggateway: cannot list orders without a scope")
	}
	q := fmt.Sprintf(`SELECT %s FROM orders WHERE %s = $1 ORDER BY created_at DESC LIMIT %d`, columns, col, listLimit)
	return q, []any{scope.ID}, nil
}

func patchQuery(id string, p gateway.Patch) (string, []any, error) {
	if err := p.Validate(); err != nil {
		return "", nil, err
	}
	var sets []string
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Notes != nil {
		add("notes", *p.Notes)
	}
	if p.PaymentStatus != nil {
		add("payment_status", *p.PaymentStatus)
	}
	sets = append(sets, "updated_at = now()")
	q := fmt.Sprintf(`UPDATE orders SET %s WHERE id::text = $1 RETURNING %s`, strings.Join(sets, ", "), columns)
	return q, args, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status string
	var items, addr []byte
	err := row.Scan(&o.ID, &o.UserID, &o.RestaurantID, &status, &items,
		&o.Subtotal, &o.Tax, &o.DeliveryFee, &o.Total, &addr,
		&o.Notes, &o.PaymentStatus, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.Status(status)
	if string(items) != "null" {
		o.Items = items
	}
	if string(addr) != "null" {
		o.DeliveryAddress = addr
	}
	return o, nil
}
