// Package loyalty keeps per-user reward point balances. The amount awarded
// for an order is recorded on the order itself, so award and reversal stay
// idempotent per order (the fulfillment service guards on that record).
package loyalty

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Points is the award for a given order total: floor(0.1 x total), i.e. one
// point per 10 currency units spent.
func Points(totalCents int) int {
	return totalCents / 1000
}

type Ledger struct{ DB *pgxpool.Pool }

// Add applies a signed delta to the user's balance, creating the account on
// first award. The points >= 0 check constraint backstops over-reversal.
func (l *Ledger) Add(ctx context.Context, userID string, delta int) error {
	_, err := l.DB.Exec(ctx, `
		INSERT INTO loyalty_accounts(user_id, points) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET points = loyalty_accounts.points + EXCLUDED.points, updated_at = now()`,
		userID, delta)
	return err
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	var points int
	err := l.DB.QueryRow(ctx, `SELECT points FROM loyalty_accounts WHERE user_id=$1`, userID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		// No account yet means zero balance.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return points, nil
}
