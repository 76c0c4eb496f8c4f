// Package jobs defines the asynchronous fulfillment job schema, the per-type
// queue topics, and the retry/backoff policy.
package jobs

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeCreateOrder    Type = "create-order"
	TypeUpdateStatus   Type = "update-order-status"
	TypeProcessPayment Type = "process-payment"
)

var AllTypes = []Type{TypeCreateOrder, TypeUpdateStatus, TypeProcessPayment}

// Topic maps a job type to its queue topic. Workers pull jobs by type.
func Topic(t Type) string { return "jobs." + string(t) }

// Partition key = order id where known, so retries of the same order land on
// the same partition. No cross-job ordering is guaranteed either way; the
// per-resource lock, not queue order, is what protects correctness.
func PartitionKey(j Job) []byte {
	if j.OrderID != "" {
		return []byte(j.OrderID)
	}
	return []byte(j.ID)
}

type ItemInput struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

type OrderData struct {
	ExternalID      string      `json:"externalId,omitempty"`
	UserID          string      `json:"userId"`
	Items           []ItemInput `json:"items"`
	DeliveryAddress string      `json:"deliveryAddress,omitempty"`
	PaymentMethod   string      `json:"paymentMethod,omitempty"`
	DiscountCents   int         `json:"discountCents,omitempty"`
}

type PaymentData struct {
	Reference string `json:"reference,omitempty"`
	Succeeded bool   `json:"succeeded"`
}

// Job is the wire payload queued by the request path.
type Job struct {
	ID          string       `json:"id"`
	Type        Type         `json:"type"`
	OrderID     string       `json:"orderId,omitempty"`
	OrderData   *OrderData   `json:"orderData,omitempty"`
	NewStatus   string       `json:"newStatus,omitempty"`
	PaymentData *PaymentData `json:"paymentData,omitempty"`
	EnqueuedAt  time.Time    `json:"enqueuedAt"`
}

func (j Job) Validate() error {
	switch j.Type {
	case TypeCreateOrder:
		if j.OrderData == nil {
			return fmt.Errorf("create-order job %s: missing orderData", j.ID)
		}
	case TypeUpdateStatus:
		if j.OrderID == "" || j.NewStatus == "" {
			return fmt.Errorf("update-order-status job %s: missing orderId or newStatus", j.ID)
		}
	case TypeProcessPayment:
		if j.OrderID == "" || j.PaymentData == nil {
			return fmt.Errorf("process-payment job %s: missing orderId or paymentData", j.ID)
		}
	default:
		return fmt.Errorf("job %s: unknown type %q", j.ID, j.Type)
	}
	return nil
}

// Terminal job states recorded in the job store.
const (
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Backoff returns the delay before retry number attempt (1-based):
// base, 2*base, 4*base, ...
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
