package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message is fully processed and its
// offset may be committed. An uncommitted message is redelivered after a
// group rebalance, which is how a stalled job from a dead worker gets
// requeued.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r *kafka.Reader
}

func NewConsumer(brokers []string, group, topic string) *Consumer {
	return &Consumer{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})}
}

// Start consumes one message at a time: the worker process is intentionally a
// single logical thread of control per topic, all cross-process coordination
// goes through the lock provider.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()
	for {
		// FetchMessage, not ReadMessage: with a group id ReadMessage commits
		// the offset on delivery, which would lose the job if the worker died
		// mid-processing.
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if err := h(ctx, m); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, m); err != nil {
			return err
		}
	}
}
