// Package catalog is the authority for product prices and availability.
// Totals are always computed from it, never from caller input.
package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplite/order-fulfillment/internal/orders"
)

type PriceInfo struct {
	PriceCents int
	Available  bool
}

type Repo struct{ DB *pgxpool.Pool }

// Prices returns the current unit price and availability flag for each
// requested product id. A product missing from the result does not exist.
func (r *Repo) Prices(ctx context.Context, productIDs []string) (map[string]PriceInfo, error) {
	if len(productIDs) == 0 {
		return map[string]PriceInfo{}, nil
	}
	params := ""
	args := make([]any, 0, len(productIDs))
	for i, id := range productIDs {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	rows, err := r.DB.Query(ctx, `SELECT id, price_cents, available FROM products WHERE id IN (`+params+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]PriceInfo, len(productIDs))
	for rows.Next() {
		var id string
		var p PriceInfo
		if err := rows.Scan(&id, &p.PriceCents, &p.Available); err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, rows.Err()
}

func (r *Repo) List(ctx context.Context) ([]orders.Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, stock, available, price_cents, created_at, updated_at
	                              FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.Available, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
