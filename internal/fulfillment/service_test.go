package fulfillment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplite/order-fulfillment/internal/catalog"
	"github.com/shoplite/order-fulfillment/internal/lockx"
	"github.com/shoplite/order-fulfillment/internal/orders"
)

// ---- fakes ----

type fakeOrderStore struct {
	byID map[string]*orders.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{byID: map[string]*orders.Order{}}
}

func (s *fakeOrderStore) Create(ctx context.Context, o *orders.Order) (bool, error) {
	if o.ExternalID != "" {
		for _, ex := range s.byID {
			if ex.ExternalID == o.ExternalID {
				*o = *ex
				return true, nil
			}
		}
	}
	cp := *o
	s.byID[o.ID] = &cp
	return false, nil
}

func (s *fakeOrderStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	o, ok := s.byID[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) GetByExternalID(ctx context.Context, externalID string) (*orders.Order, error) {
	for _, o := range s.byID {
		if o.ExternalID == externalID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, orders.ErrNotFound
}

func (s *fakeOrderStore) UpdateStatus(ctx context.Context, id string, st orders.Status) error {
	o, ok := s.byID[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.Status = st
	return nil
}

func (s *fakeOrderStore) SetDeliveredAt(ctx context.Context, id string, at time.Time) error {
	if o, ok := s.byID[id]; ok && o.DeliveredAt == nil {
		o.DeliveredAt = &at
	}
	return nil
}

func (s *fakeOrderStore) SetPaymentStatus(ctx context.Context, id string, ps orders.PaymentStatus) error {
	o, ok := s.byID[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.PaymentStatus = ps
	return nil
}

func (s *fakeOrderStore) SetRating(ctx context.Context, id string, rating int, review string) error {
	o, ok := s.byID[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.Rating = &rating
	o.Review = review
	return nil
}

func (s *fakeOrderStore) SetLoyaltyEarned(ctx context.Context, id string, points int) error {
	o, ok := s.byID[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.LoyaltyPointsEarned = points
	return nil
}

type fakeStock struct {
	avail       map[string]int
	unavailable map[string]bool
}

func (f *fakeStock) Reserve(ctx context.Context, productID string, qty int) error {
	if f.unavailable[productID] {
		return fmt.Errorf("%w: %s", orders.ErrProductUnavailable, productID)
	}
	if f.avail[productID] < qty {
		return fmt.Errorf("%w: %s", orders.ErrInsufficientStock, productID)
	}
	f.avail[productID] -= qty
	return nil
}

func (f *fakeStock) Release(ctx context.Context, productID string, qty int) error {
	f.avail[productID] += qty
	return nil
}

type fakeLoyalty struct {
	balances map[string]int
}

func (f *fakeLoyalty) Add(ctx context.Context, userID string, delta int) error {
	f.balances[userID] += delta
	return nil
}

type fakeCatalog struct {
	prices map[string]catalog.PriceInfo
}

func (f *fakeCatalog) Prices(ctx context.Context, ids []string) (map[string]catalog.PriceInfo, error) {
	out := map[string]catalog.PriceInfo{}
	for _, id := range ids {
		if p, ok := f.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) OrderCreated(o *orders.Order) { n.events = append(n.events, "created") }
func (n *recordingNotifier) StatusChanged(id string, from, to orders.Status) {
	n.events = append(n.events, fmt.Sprintf("status:%s->%s", from, to))
}
func (n *recordingNotifier) PaymentProcessed(id string, st orders.PaymentStatus, ref string) {
	n.events = append(n.events, "payment:"+string(st))
}

type recordingCache struct {
	invalidated []string
}

func (c *recordingCache) Invalidate(ctx context.Context, orderID string) {
	c.invalidated = append(c.invalidated, orderID)
}

type fixture struct {
	svc     *Service
	store   *fakeOrderStore
	stock   *fakeStock
	loyalty *fakeLoyalty
	locks   *lockx.Manager
	notify  *recordingNotifier
	cache   *recordingCache
}

func newFixture() *fixture {
	store := newFakeOrderStore()
	st := &fakeStock{
		avail:       map[string]int{"p1": 5, "p2": 1},
		unavailable: map[string]bool{},
	}
	loy := &fakeLoyalty{balances: map[string]int{}}
	cat := &fakeCatalog{prices: map[string]catalog.PriceInfo{
		"p1": {PriceCents: 2500, Available: true},
		"p2": {PriceCents: 10000, Available: true},
	}}
	locks := &lockx.Manager{Provider: lockx.NewMemoryProvider(), TTL: time.Minute}
	notifier := &recordingNotifier{}
	cache := &recordingCache{}
	return &fixture{
		svc: &Service{
			Orders:  store,
			Stock:   st,
			Loyalty: loy,
			Catalog: cat,
			Locks:   locks,
			Notify:  notifier,
			Cache:   cache,
		},
		store:   store,
		stock:   st,
		loyalty: loy,
		locks:   locks,
		notify:  notifier,
		cache:   cache,
	}
}

// ---- create ----

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, CreateOrderInput{
		UserID: "u1",
		Items:  []ItemInput{{ProductID: "p1", Qty: 3}},
	})
	require.NoError(t, err)

	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, 3*2500, o.TotalCents, "total computed from catalog prices")
	assert.Equal(t, 2, f.stock.avail["p1"], "5 - 3 reserved")
	assert.Equal(t, 7, o.LoyaltyPointsEarned, "floor(0.1 * 75.00)")
	assert.Equal(t, 7, f.loyalty.balances["u1"])
	assert.Contains(t, f.notify.events, "created")
}

func TestCreateOrder_RollsBackPartialReservation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// p1 has plenty, p2 has 1: the second item fails and the first item's
	// reservation must be compensated.
	_, err := f.svc.CreateOrder(ctx, CreateOrderInput{
		UserID: "u1",
		Items: []ItemInput{
			{ProductID: "p1", Qty: 2},
			{ProductID: "p2", Qty: 3},
		},
	})
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)
	assert.Equal(t, 5, f.stock.avail["p1"], "rolled back")
	assert.Equal(t, 1, f.stock.avail["p2"], "unchanged")
	assert.Empty(t, f.store.byID, "no order persisted")
	assert.Zero(t, f.loyalty.balances["u1"])
}

func TestCreateOrder_ProductUnavailable(t *testing.T) {
	f := newFixture()
	f.stock.unavailable["p1"] = true

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1",
		Items:  []ItemInput{{ProductID: "p1", Qty: 1}},
	})
	assert.ErrorIs(t, err, orders.ErrProductUnavailable)
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1",
		Items:  []ItemInput{{ProductID: "ghost", Qty: 1}},
	})
	assert.ErrorIs(t, err, orders.ErrProductUnavailable)
	assert.Equal(t, 5, f.stock.avail["p1"])
}

func TestCreateOrder_InvalidRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []CreateOrderInput{
		{UserID: "u1"},
		{Items: []ItemInput{{ProductID: "p1", Qty: 1}}},
		{UserID: "u1", Items: []ItemInput{{ProductID: "p1", Qty: 0}}},
		{UserID: "u1", Items: []ItemInput{{ProductID: "p1", Qty: 1}, {ProductID: "p1", Qty: 2}}},
	}
	for i, in := range cases {
		_, err := f.svc.CreateOrder(ctx, in)
		assert.ErrorIs(t, err, orders.ErrInvalidRequest, "case %d", i)
	}
}

func TestCreateOrder_IdempotentViaExternalID(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	in := CreateOrderInput{
		ExternalID: "chk-42",
		UserID:     "u1",
		Items:      []ItemInput{{ProductID: "p1", Qty: 2}},
	}
	first, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)

	second, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, f.stock.avail["p1"], "stock reserved exactly once")
	assert.Equal(t, first.LoyaltyPointsEarned, f.loyalty.balances["u1"], "points awarded exactly once")
}

func TestCreateOrder_FailsFastWhenProductLockHeld(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, ok, err := f.locks.Provider.Acquire(ctx, lockx.ProductKey("p1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.CreateOrder(ctx, CreateOrderInput{
		UserID: "u1",
		Items:  []ItemInput{{ProductID: "p1", Qty: 1}},
	})
	assert.ErrorIs(t, err, lockx.ErrUnavailable)
	assert.Equal(t, 5, f.stock.avail["p1"])
}

// ---- cancel ----

func mustCreate(t *testing.T, f *fixture) *orders.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1",
		Items:  []ItemInput{{ProductID: "p1", Qty: 3}},
	})
	require.NoError(t, err)
	return o
}

func TestCancelOrder_RestoresStockAndReversesPoints(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)
	require.Equal(t, 7, f.loyalty.balances["u1"])

	require.NoError(t, f.svc.CancelOrder(ctx, o.ID, "u1", false))

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, 5, f.stock.avail["p1"], "stock restored")
	assert.Zero(t, f.loyalty.balances["u1"], "reversal subtracts exactly the recorded amount")
	assert.Zero(t, got.LoyaltyPointsEarned, "record cleared so reversal is idempotent")
}

func TestCancelOrder_NotOwner(t *testing.T) {
	f := newFixture()
	o := mustCreate(t, f)

	err := f.svc.CancelOrder(context.Background(), o.ID, "intruder", false)
	assert.ErrorIs(t, err, orders.ErrNotAuthorized)
}

func TestCancelOrder_AdminMayCancelAnyOrder(t *testing.T) {
	f := newFixture()
	o := mustCreate(t, f)

	assert.NoError(t, f.svc.CancelOrder(context.Background(), o.ID, "ops", true))
}

func TestCancelOrder_TerminalStatusRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)

	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, RoleAdmin))
	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, orders.StatusDelivered, RoleAdmin))

	err := f.svc.CancelOrder(ctx, o.ID, "u1", false)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, 2, f.stock.avail["p1"], "no stock released for a delivered order")
}

// ---- status updates ----

func TestUpdateStatus_AdminOnly(t *testing.T) {
	f := newFixture()
	o := mustCreate(t, f)

	err := f.svc.UpdateStatus(context.Background(), o.ID, orders.StatusConfirmed, "customer")
	assert.ErrorIs(t, err, orders.ErrNotAuthorized)
}

func TestUpdateStatus_DeliveredStampsTimestampOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)

	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, RoleAdmin))
	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, orders.StatusDelivered, RoleAdmin))

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
}

func TestUpdateStatus_FromDeliveredRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)

	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, RoleAdmin))
	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, orders.StatusDelivered, RoleAdmin))

	for _, to := range []orders.Status{orders.StatusPending, orders.StatusConfirmed, orders.StatusCancelled} {
		err := f.svc.UpdateStatus(ctx, o.ID, to, RoleAdmin)
		assert.ErrorIs(t, err, orders.ErrInvalidTransition, "delivered -> %s", to)
	}
}

func TestStatusWrites_EvictCachedOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)
	f.cache.invalidated = nil

	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, RoleAdmin))
	assert.Contains(t, f.cache.invalidated, o.ID, "status update evicts the cached order")

	f.cache.invalidated = nil
	require.NoError(t, f.svc.ProcessPayment(ctx, o.ID, false, "txn-9"))
	assert.Contains(t, f.cache.invalidated, o.ID, "payment outcome evicts the cached order")
}

func TestCancelOrder_EvictsCachedOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)
	f.cache.invalidated = nil

	require.NoError(t, f.svc.CancelOrder(ctx, o.ID, "u1", false))
	assert.Contains(t, f.cache.invalidated, o.ID)
}

func TestUpdateStatus_NoCacheConfigured(t *testing.T) {
	f := newFixture()
	f.svc.Cache = nil
	o := mustCreate(t, f)

	assert.NoError(t, f.svc.UpdateStatus(context.Background(), o.ID, orders.StatusConfirmed, RoleAdmin))
}

func TestUpdateStatus_CancelledGoesThroughCompensation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)

	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, orders.StatusCancelled, RoleAdmin))
	assert.Equal(t, 5, f.stock.avail["p1"], "admin cancel releases stock too")
	assert.Zero(t, f.loyalty.balances["u1"])
}

// ---- payment ----

func TestProcessPayment_SuccessConfirmsPendingOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)

	require.NoError(t, f.svc.ProcessPayment(ctx, o.ID, true, "txn-1"))

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
}

func TestProcessPayment_FailureLeavesOrderPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)

	require.NoError(t, f.svc.ProcessPayment(ctx, o.ID, false, "txn-2"))

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, orders.StatusPending, got.Status)
}

// ---- rating ----

func deliver(t *testing.T, f *fixture, orderID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.UpdateStatus(ctx, orderID, orders.StatusConfirmed, RoleAdmin))
	require.NoError(t, f.svc.UpdateStatus(ctx, orderID, orders.StatusDelivered, RoleAdmin))
}

func TestRateOrder_RequiresDelivered(t *testing.T) {
	f := newFixture()
	o := mustCreate(t, f)

	err := f.svc.RateOrder(context.Background(), o.ID, 5, "great", "u1")
	assert.ErrorIs(t, err, orders.ErrInvalidRequest)
}

func TestRateOrder_SecondAttemptFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := mustCreate(t, f)
	deliver(t, f, o.ID)

	require.NoError(t, f.svc.RateOrder(ctx, o.ID, 4, "good", "u1"))

	err := f.svc.RateOrder(ctx, o.ID, 5, "changed my mind", "u1")
	assert.ErrorIs(t, err, orders.ErrAlreadyRated)

	got, _ := f.store.Get(ctx, o.ID)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4, *got.Rating, "first rating sticks")
}

func TestRateOrder_OwnerOnly(t *testing.T) {
	f := newFixture()
	o := mustCreate(t, f)
	deliver(t, f, o.ID)

	err := f.svc.RateOrder(context.Background(), o.ID, 3, "", "someone-else")
	assert.ErrorIs(t, err, orders.ErrNotAuthorized)
}

func TestRateOrder_RatingRange(t *testing.T) {
	f := newFixture()
	o := mustCreate(t, f)
	deliver(t, f, o.ID)

	for _, r := range []int{0, 6, -1} {
		err := f.svc.RateOrder(context.Background(), o.ID, r, "", "u1")
		assert.ErrorIs(t, err, orders.ErrInvalidRequest, "rating %d", r)
	}
}
