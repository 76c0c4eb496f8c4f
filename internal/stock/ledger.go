// Package stock is the authoritative per-product available-quantity counter.
// Reserve and Release operate on a single product; callers serialize
// concurrent reservations of the same product with the product's lock and
// compensate partially reserved orders themselves.
package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplite/order-fulfillment/internal/orders"
)

type Ledger struct{ DB *pgxpool.Pool }

// Reserve decrements available stock for one product. The read-then-write
// runs in a transaction with a row lock so the counter can never go negative
// even if a caller skips the product lock.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var available bool
	var stock int
	err = tx.QueryRow(ctx, `SELECT stock, available FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&stock, &available)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", orders.ErrProductUnavailable, productID)
	}
	if err != nil {
		return err
	}
	if !available {
		return fmt.Errorf("%w: %s", orders.ErrProductUnavailable, productID)
	}
	if stock < qty {
		return fmt.Errorf("%w: product %s has %d, need %d", orders.ErrInsufficientStock, productID, stock, qty)
	}

	if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at=now() WHERE id=$1`, productID, qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Release increments available stock unconditionally. Compensating action
// for cancellation and for rolling back a partially reserved order.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) error {
	_, err := l.DB.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at=now() WHERE id=$1`, productID, qty)
	return err
}
