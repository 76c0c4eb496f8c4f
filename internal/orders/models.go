package orders

import "time"

type Product struct {
	ID         string
	SKU        string
	Name       string
	Stock      int
	Available  bool
	PriceCents int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type LineItem struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"` // unit price snapshot at order time
}

type Order struct {
	ID            string
	ExternalID    string
	UserID        string
	Items         []LineItem
	Status        Status
	PaymentStatus PaymentStatus
	PaymentMethod string

	TotalCents    int // always sum(qty * unit price), computed server-side
	DiscountCents int

	// Set at most once on creation; cleared when the award is reversed so
	// the reversal itself is idempotent.
	LoyaltyPointsEarned int

	DeliveryAddress string
	DeliveredAt     *time.Time

	Rating *int // settable once, only when delivered
	Review string

	CreatedAt time.Time
	UpdatedAt time.Time
}
