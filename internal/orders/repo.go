package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// Create persists a new order with its line items in one transaction.
// Idempotent via external_id: if an order with the same external id already
// exists it is returned unchanged with existed=true and nothing is written.
func (r *Repo) Create(ctx context.Context, o *Order) (existed bool, err error) {
	if o.ExternalID != "" {
		ex, err := r.GetByExternalID(ctx, o.ExternalID)
		if err == nil {
			*o = *ex
			return true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, user_id, status, payment_status, payment_method,
		                   total_cents, discount_cents, loyalty_points_earned, delivery_address)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10)`,
		o.ID, o.ExternalID, o.UserID, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.TotalCents, o.DiscountCents, o.LoyaltyPointsEarned, o.DeliveryAddress,
	)
	if err != nil {
		return false, err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, price_cents)
			VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Qty, it.PriceCents,
		)
		if err != nil {
			return false, err
		}
	}

	return false, tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, COALESCE(external_id,''), user_id, status, payment_status, payment_method,
		       total_cents, discount_cents, loyalty_points_earned, delivery_address,
		       delivered_at, rating, COALESCE(review,''), created_at, updated_at
		FROM orders WHERE id=$1`, orderID)
	return r.scanOrder(ctx, row)
}

func (r *Repo) GetByExternalID(ctx context.Context, externalID string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT id, COALESCE(external_id,''), user_id, status, payment_status, payment_method,
		       total_cents, discount_cents, loyalty_points_earned, delivery_address,
		       delivered_at, rating, COALESCE(review,''), created_at, updated_at
		FROM orders WHERE external_id=$1`, externalID)
	return r.scanOrder(ctx, row)
}

func (r *Repo) scanOrder(ctx context.Context, row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.TotalCents, &o.DiscountCents, &o.LoyaltyPointsEarned, &o.DeliveryAddress,
		&o.DeliveredAt, &o.Rating, &o.Review, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, qty, price_cents FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

func (r *Repo) UpdateStatus(ctx context.Context, orderID string, st Status) error {
	return r.exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, st)
}

// SetDeliveredAt stamps the actual delivery time once; a second call is a no-op.
func (r *Repo) SetDeliveredAt(ctx context.Context, orderID string, at time.Time) error {
	_, err := r.DB.Exec(ctx, `UPDATE orders SET delivered_at=$2, updated_at=now() WHERE id=$1 AND delivered_at IS NULL`, orderID, at)
	return err
}

func (r *Repo) SetPaymentStatus(ctx context.Context, orderID string, ps PaymentStatus) error {
	return r.exec(ctx, `UPDATE orders SET payment_status=$2, updated_at=now() WHERE id=$1`, orderID, ps)
}

func (r *Repo) SetRating(ctx context.Context, orderID string, rating int, review string) error {
	return r.exec(ctx, `UPDATE orders SET rating=$2, review=$3, updated_at=now() WHERE id=$1`, orderID, rating, review)
}

func (r *Repo) SetLoyaltyEarned(ctx context.Context, orderID string, points int) error {
	return r.exec(ctx, `UPDATE orders SET loyalty_points_earned=$2, updated_at=now() WHERE id=$1`, orderID, points)
}

func (r *Repo) exec(ctx context.Context, sql string, args ...any) error {
	ct, err := r.DB.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: no row updated", ErrNotFound)
	}
	return nil
}
