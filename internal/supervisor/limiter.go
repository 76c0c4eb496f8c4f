package supervisor

import (
	"sync"
	"time"
)

// RestartLimiter bounds how many worker restarts may happen inside a sliding
// window. An unconditional immediate refork would turn a deterministic crash
// into a resource-exhausting crash loop.
type RestartLimiter struct {
	Max    int
	Window time.Duration

	mu    sync.Mutex
	times []time.Time
	now   func() time.Time
}

func NewRestartLimiter(max int, window time.Duration) *RestartLimiter {
	return &RestartLimiter{Max: max, Window: window, now: time.Now}
}

// Allow records a restart and reports whether it is within the budget.
func (l *RestartLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.Window)
	kept := l.times[:0]
	for _, t := range l.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.times = kept

	if len(l.times) >= l.Max {
		return false
	}
	l.times = append(l.times, now)
	return true
}
