// Package scaling is the periodic sampler that resizes the worker pool. It
// is advisory only and sits outside the correctness-critical path.
package scaling

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

type Metrics struct {
	CPUPercent  float64
	MemPercent  float64
	RequestRate float64 // requests or jobs per second
}

type Pool interface {
	Size() int
	Resize(n int)
}

type Controller struct {
	Pool   Pool
	Sample func() Metrics

	CPUHigh float64
	MemHigh float64
	RPSHigh float64

	MinWorkers int
	MaxWorkers int

	// evaluating prevents overlapping evaluation cycles when a sample stalls.
	evaluating atomic.Bool
}

func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Evaluate()
		}
	}
}

// Evaluate scales up when any metric exceeds its threshold and scales down
// only when all three sit below half their thresholds.
func (c *Controller) Evaluate() {
	if !c.evaluating.CompareAndSwap(false, true) {
		return
	}
	defer c.evaluating.Store(false)

	m := c.Sample()
	size := c.Pool.Size()

	switch {
	case m.CPUPercent > c.CPUHigh || m.MemPercent > c.MemHigh || m.RequestRate > c.RPSHigh:
		if size < c.MaxWorkers {
			log.Printf("scaling up: cpu=%.1f mem=%.1f rps=%.1f workers=%d", m.CPUPercent, m.MemPercent, m.RequestRate, size)
			c.Pool.Resize(size + 1)
		}
	case m.CPUPercent < c.CPUHigh/2 && m.MemPercent < c.MemHigh/2 && m.RequestRate < c.RPSHigh/2:
		if size > c.MinWorkers {
			log.Printf("scaling down: cpu=%.1f mem=%.1f rps=%.1f workers=%d", m.CPUPercent, m.MemPercent, m.RequestRate, size)
			c.Pool.Resize(size - 1)
		}
	}
}
