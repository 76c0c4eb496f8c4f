// Package worker executes fulfillment jobs pulled from the queue, applying
// the retry/backoff policy and recording terminal outcomes.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/shoplite/order-fulfillment/internal/fulfillment"
	"github.com/shoplite/order-fulfillment/internal/jobs"
	"github.com/shoplite/order-fulfillment/internal/lockx"
	"github.com/shoplite/order-fulfillment/internal/orders"
)

// Executor is the slice of the fulfillment service the runner drives.
type Executor interface {
	CreateOrder(ctx context.Context, in fulfillment.CreateOrderInput) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, newStatus orders.Status, requestingRole string) error
	ProcessPayment(ctx context.Context, orderID string, succeeded bool, ref string) error
}

// JobLog records attempts and terminal job states.
type JobLog interface {
	RecordAttempt(ctx context.Context, jobID string, t jobs.Type) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, lastErr string) error
}

type Runner struct {
	Exec        Executor
	Log         JobLog
	MaxAttempts int
	BackoffBase time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Handle processes one queued job. It returns nil once the job has reached a
// terminal state (completed or failed) so the offset is committed; the only
// non-nil returns are malformed messages and context cancellation, the
// latter leaving the offset uncommitted so another worker reclaims the job.
func (r *Runner) Handle(ctx context.Context, m kafkago.Message) (err error) {
	// A panicking handler must not commit the offset; surface the panic as an
	// error so the message is redelivered to a healthy worker.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job handler panic: %v", p)
			log.Printf("%v", err)
		}
	}()

	var job jobs.Job
	if err := json.Unmarshal(m.Value, &job); err != nil {
		log.Printf("drop undecodable job message: %v", err)
		return nil
	}
	if err := job.Validate(); err != nil {
		log.Printf("drop invalid job: %v", err)
		return nil
	}

	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := r.Log.RecordAttempt(ctx, job.ID, job.Type); err != nil {
			log.Printf("record attempt job=%s: %v", job.ID, err)
		}

		lastErr = r.dispatch(ctx, job)
		if lastErr == nil {
			if err := r.Log.MarkCompleted(ctx, job.ID); err != nil {
				log.Printf("mark completed job=%s: %v", job.ID, err)
			}
			return nil
		}
		if !retryable(lastErr) {
			break
		}
		if attempt == maxAttempts {
			break
		}

		delay := jobs.Backoff(r.backoffBase(), attempt)
		log.Printf("job %s attempt %d/%d failed, retrying in %s: %v", job.ID, attempt, maxAttempts, delay, lastErr)
		if err := r.doSleep(ctx, delay); err != nil {
			return err // shutting down; leave the offset uncommitted
		}
	}

	log.Printf("job %s failed permanently: %v", job.ID, lastErr)
	if err := r.Log.MarkFailed(ctx, job.ID, lastErr.Error()); err != nil {
		log.Printf("mark failed job=%s: %v", job.ID, err)
	}
	return nil
}

func (r *Runner) dispatch(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case jobs.TypeCreateOrder:
		d := job.OrderData
		items := make([]fulfillment.ItemInput, 0, len(d.Items))
		for _, it := range d.Items {
			items = append(items, fulfillment.ItemInput{ProductID: it.ProductID, Qty: it.Qty})
		}
		_, err := r.Exec.CreateOrder(ctx, fulfillment.CreateOrderInput{
			ExternalID:      d.ExternalID,
			UserID:          d.UserID,
			Items:           items,
			DeliveryAddress: d.DeliveryAddress,
			PaymentMethod:   d.PaymentMethod,
			DiscountCents:   d.DiscountCents,
		})
		return err
	case jobs.TypeUpdateStatus:
		// Jobs are enqueued by the already-authorized request path.
		return r.Exec.UpdateStatus(ctx, job.OrderID, orders.Status(job.NewStatus), fulfillment.RoleAdmin)
	case jobs.TypeProcessPayment:
		return r.Exec.ProcessPayment(ctx, job.OrderID, job.PaymentData.Succeeded, job.PaymentData.Reference)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// retryable reports whether a failure is worth another attempt. Business-rule
// and client errors are final on the first try; lock contention and
// infrastructure errors get the backoff treatment.
func retryable(err error) bool {
	switch {
	case errors.Is(err, orders.ErrInvalidRequest),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrProductUnavailable),
		errors.Is(err, orders.ErrAlreadyRated),
		errors.Is(err, orders.ErrNotAuthorized),
		errors.Is(err, orders.ErrNotFound):
		return false
	case errors.Is(err, lockx.ErrUnavailable):
		return true
	default:
		return true
	}
}

func (r *Runner) backoffBase() time.Duration {
	if r.BackoffBase > 0 {
		return r.BackoffBase
	}
	return 2 * time.Second
}

func (r *Runner) doSleep(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
