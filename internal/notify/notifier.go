// Package notify publishes best-effort notification events after fulfillment
// operations. Delivery failure never rolls back the operation that produced
// the event.
package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/shoplite/order-fulfillment/internal/kafka"
	"github.com/shoplite/order-fulfillment/internal/orders"
)

const Topic = "order.notifications"

const (
	EventOrderCreated     = "OrderCreated"
	EventStatusChanged    = "OrderStatusChanged"
	EventPaymentProcessed = "PaymentProcessed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID    string            `json:"order_id"`
	UserID     string            `json:"user_id"`
	Items      []orders.LineItem `json:"items"`
	TotalCents int               `json:"total_cents"`
	Points     int               `json:"loyalty_points_earned"`
}

type StatusChangedPayload struct {
	OrderID string        `json:"order_id"`
	From    orders.Status `json:"from"`
	To      orders.Status `json:"to"`
}

type PaymentProcessedPayload struct {
	OrderID   string               `json:"order_id"`
	Status    orders.PaymentStatus `json:"status"`
	Reference string               `json:"reference,omitempty"`
}

type Notifier struct {
	Producer *kafkax.Producer
	Service  string
}

func (n *Notifier) OrderCreated(o *orders.Order) {
	n.publish(EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID: o.ID, UserID: o.UserID, Items: o.Items,
		TotalCents: o.TotalCents, Points: o.LoyaltyPointsEarned,
	})
}

func (n *Notifier) StatusChanged(orderID string, from, to orders.Status) {
	n.publish(EventStatusChanged, orderID, StatusChangedPayload{OrderID: orderID, From: from, To: to})
}

func (n *Notifier) PaymentProcessed(orderID string, status orders.PaymentStatus, ref string) {
	n.publish(EventPaymentProcessed, orderID, PaymentProcessedPayload{OrderID: orderID, Status: status, Reference: ref})
}

func (n *Notifier) publish(eventType, orderID string, payload any) {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	n.Producer.Publish([]byte(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
