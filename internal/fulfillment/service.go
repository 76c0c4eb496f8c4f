// Package fulfillment orchestrates the order state machine, the stock and
// loyalty ledgers, and the lock provider so that order operations look atomic
// to callers.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shoplite/order-fulfillment/internal/catalog"
	"github.com/shoplite/order-fulfillment/internal/lockx"
	"github.com/shoplite/order-fulfillment/internal/loyalty"
	"github.com/shoplite/order-fulfillment/internal/orders"
)

const RoleAdmin = "admin"

type OrderStore interface {
	Create(ctx context.Context, o *orders.Order) (existed bool, err error)
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, st orders.Status) error
	SetDeliveredAt(ctx context.Context, orderID string, at time.Time) error
	SetPaymentStatus(ctx context.Context, orderID string, ps orders.PaymentStatus) error
	SetRating(ctx context.Context, orderID string, rating int, review string) error
	SetLoyaltyEarned(ctx context.Context, orderID string, points int) error
}

type StockLedger interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
}

type LoyaltyLedger interface {
	Add(ctx context.Context, userID string, delta int) error
}

type Catalog interface {
	Prices(ctx context.Context, productIDs []string) (map[string]catalog.PriceInfo, error)
}

type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

type Notifier interface {
	OrderCreated(o *orders.Order)
	StatusChanged(orderID string, from, to orders.Status)
	PaymentProcessed(orderID string, status orders.PaymentStatus, ref string)
}

// StatusCache is told about every status-changing write so readers never
// serve a stale cached order past the write. Optional; nil disables it.
type StatusCache interface {
	Invalidate(ctx context.Context, orderID string)
}

type Service struct {
	Orders  OrderStore
	Stock   StockLedger
	Loyalty LoyaltyLedger
	Catalog Catalog
	Locks   Locker
	Notify  Notifier
	Cache   StatusCache
}

func (s *Service) invalidateStatus(ctx context.Context, orderID string) {
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, orderID)
	}
}

type ItemInput struct {
	ProductID string
	Qty       int
}

type CreateOrderInput struct {
	ExternalID      string
	UserID          string
	Items           []ItemInput
	DeliveryAddress string
	PaymentMethod   string
	DiscountCents   int
}

// CreateOrder reserves stock for every line item all-or-nothing, prices the
// order from the catalog, persists it as pending and awards loyalty points.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*orders.Order, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	// Idempotency short-circuit: a retried job or request with the same
	// external id must not reserve twice.
	if in.ExternalID != "" {
		if o, err := s.Orders.GetByExternalID(ctx, in.ExternalID); err == nil {
			return o, nil
		} else if !errors.Is(err, orders.ErrNotFound) {
			return nil, err
		}
	}

	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}
	prices, err := s.Catalog.Prices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read prices: %w", err)
	}

	total := 0
	lines := make([]orders.LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		p, found := prices[it.ProductID]
		if !found || !p.Available {
			return nil, fmt.Errorf("%w: %s", orders.ErrProductUnavailable, it.ProductID)
		}
		total += p.PriceCents * it.Qty
		lines = append(lines, orders.LineItem{ProductID: it.ProductID, Qty: it.Qty, PriceCents: p.PriceCents})
	}

	if err := s.reserveAll(ctx, lines); err != nil {
		return nil, err
	}

	o := &orders.Order{
		ID:              uuid.NewString(),
		ExternalID:      in.ExternalID,
		UserID:          in.UserID,
		Items:           lines,
		Status:          orders.StatusPending,
		PaymentStatus:   orders.PaymentPending,
		PaymentMethod:   in.PaymentMethod,
		TotalCents:      total,
		DiscountCents:   in.DiscountCents,
		DeliveryAddress: in.DeliveryAddress,
	}

	existed, err := s.Orders.Create(ctx, o)
	if err != nil {
		s.releaseAll(ctx, lines)
		return nil, err
	}
	if existed {
		// Lost a race with a concurrent identical create; ours never happened.
		s.releaseAll(ctx, lines)
		return o, nil
	}

	s.awardPoints(ctx, o)
	s.Notify.OrderCreated(o)
	return o, nil
}

// reserveAll takes each product's lock before the read-then-write on its
// counter. Any failure releases every reservation made so far, so a
// multi-item order reserves all-or-nothing.
func (s *Service) reserveAll(ctx context.Context, lines []orders.LineItem) error {
	reserved := make([]orders.LineItem, 0, len(lines))
	for _, it := range lines {
		err := s.Locks.WithLock(ctx, lockx.ProductKey(it.ProductID), func(ctx context.Context) error {
			return s.Stock.Reserve(ctx, it.ProductID, it.Qty)
		})
		if err != nil {
			s.releaseAll(ctx, reserved)
			return err
		}
		reserved = append(reserved, it)
	}
	return nil
}

func (s *Service) releaseAll(ctx context.Context, lines []orders.LineItem) {
	for _, it := range lines {
		if err := s.Stock.Release(ctx, it.ProductID, it.Qty); err != nil {
			// Compensation must not mask the original failure; log and move on.
			log.Printf("release stock product=%s qty=%d: %v", it.ProductID, it.Qty, err)
		}
	}
}

func (s *Service) awardPoints(ctx context.Context, o *orders.Order) {
	if o.LoyaltyPointsEarned > 0 {
		return // already awarded for this order
	}
	points := loyalty.Points(o.TotalCents)
	if points == 0 {
		return
	}
	if err := s.Loyalty.Add(ctx, o.UserID, points); err != nil {
		log.Printf("award points order=%s: %v", o.ID, err)
		return
	}
	if err := s.Orders.SetLoyaltyEarned(ctx, o.ID, points); err != nil {
		log.Printf("record points order=%s: %v", o.ID, err)
		return
	}
	o.LoyaltyPointsEarned = points
}

// CancelOrder releases stock and reverses loyalty points, then marks the
// order cancelled. Runs under the order's lock so a concurrent status update
// cannot race the cancellation.
func (s *Service) CancelOrder(ctx context.Context, orderID, requestingUser string, isAdmin bool) error {
	return s.Locks.WithLock(ctx, lockx.OrderKey(orderID), func(ctx context.Context) error {
		o, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !isAdmin && o.UserID != requestingUser {
			return fmt.Errorf("%w: user %s does not own order %s", orders.ErrNotAuthorized, requestingUser, orderID)
		}
		return s.cancelLocked(ctx, o)
	})
}

func (s *Service) cancelLocked(ctx context.Context, o *orders.Order) error {
	if err := orders.Transition(o.Status, orders.StatusCancelled); err != nil {
		return err
	}

	for _, it := range o.Items {
		if err := s.Stock.Release(ctx, it.ProductID, it.Qty); err != nil {
			return fmt.Errorf("release stock: %w", err)
		}
	}

	// Reverse exactly what was recorded; no-op if nothing was awarded or the
	// reversal already ran (the record is cleared below).
	if o.LoyaltyPointsEarned > 0 {
		if err := s.Loyalty.Add(ctx, o.UserID, -o.LoyaltyPointsEarned); err != nil {
			return fmt.Errorf("reverse points: %w", err)
		}
		if err := s.Orders.SetLoyaltyEarned(ctx, o.ID, 0); err != nil {
			return fmt.Errorf("clear points record: %w", err)
		}
	}

	if err := s.Orders.UpdateStatus(ctx, o.ID, orders.StatusCancelled); err != nil {
		return err
	}
	s.invalidateStatus(ctx, o.ID)
	s.Notify.StatusChanged(o.ID, o.Status, orders.StatusCancelled)
	return nil
}

// UpdateStatus applies an admin-driven status transition. A transition to
// cancelled goes through the full cancellation path so stock and points are
// compensated; a transition to delivered stamps the delivery time once.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, newStatus orders.Status, requestingRole string) error {
	if requestingRole != RoleAdmin {
		return fmt.Errorf("%w: role %q cannot update status", orders.ErrNotAuthorized, requestingRole)
	}
	return s.Locks.WithLock(ctx, lockx.OrderKey(orderID), func(ctx context.Context) error {
		o, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if newStatus == orders.StatusCancelled {
			return s.cancelLocked(ctx, o)
		}
		if err := orders.Transition(o.Status, newStatus); err != nil {
			return err
		}
		if newStatus == orders.StatusDelivered && o.DeliveredAt == nil {
			if err := s.Orders.SetDeliveredAt(ctx, o.ID, time.Now().UTC()); err != nil {
				return err
			}
		}
		if err := s.Orders.UpdateStatus(ctx, o.ID, newStatus); err != nil {
			return err
		}
		s.invalidateStatus(ctx, o.ID)
		s.Notify.StatusChanged(o.ID, o.Status, newStatus)
		return nil
	})
}

// ProcessPayment records the payment outcome and, on success, confirms a
// pending order.
func (s *Service) ProcessPayment(ctx context.Context, orderID string, succeeded bool, ref string) error {
	return s.Locks.WithLock(ctx, lockx.OrderKey(orderID), func(ctx context.Context) error {
		o, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		ps := orders.PaymentFailed
		if succeeded {
			ps = orders.PaymentPaid
		}
		if err := s.Orders.SetPaymentStatus(ctx, o.ID, ps); err != nil {
			return err
		}
		if succeeded && o.Status == orders.StatusPending {
			if err := s.Orders.UpdateStatus(ctx, o.ID, orders.StatusConfirmed); err != nil {
				return err
			}
			s.Notify.StatusChanged(o.ID, o.Status, orders.StatusConfirmed)
		}
		s.invalidateStatus(ctx, o.ID)
		s.Notify.PaymentProcessed(o.ID, ps, ref)
		return nil
	})
}

// RateOrder attaches a one-time rating to a delivered order.
func (s *Service) RateOrder(ctx context.Context, orderID string, rating int, review, requestingUser string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be 1-5", orders.ErrInvalidRequest)
	}
	return s.Locks.WithLock(ctx, lockx.OrderKey(orderID), func(ctx context.Context) error {
		o, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != requestingUser {
			return fmt.Errorf("%w: user %s does not own order %s", orders.ErrNotAuthorized, requestingUser, orderID)
		}
		if o.Status != orders.StatusDelivered {
			return fmt.Errorf("%w: order not delivered", orders.ErrInvalidRequest)
		}
		if o.Rating != nil {
			return fmt.Errorf("%w: order %s", orders.ErrAlreadyRated, orderID)
		}
		return s.Orders.SetRating(ctx, o.ID, rating, review)
	})
}

func validateCreate(in CreateOrderInput) error {
	if in.UserID == "" {
		return fmt.Errorf("%w: missing user id", orders.ErrInvalidRequest)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order must have at least one item", orders.ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID == "" || it.Qty < 1 {
			return fmt.Errorf("%w: bad line item", orders.ErrInvalidRequest)
		}
		if seen[it.ProductID] {
			return fmt.Errorf("%w: duplicate product %s", orders.ErrInvalidRequest, it.ProductID)
		}
		seen[it.ProductID] = true
	}
	if in.DiscountCents < 0 {
		return fmt.Errorf("%w: negative discount", orders.ErrInvalidRequest)
	}
	return nil
}
