package lockx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProvider is an in-process Provider for tests and local development.
type MemoryProvider struct {
	mu    sync.Mutex
	locks map[string]memLock
}

type memLock struct {
	token     string
	expiresAt time.Time
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{locks: make(map[string]memLock)}
}

func (p *MemoryProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, held := p.locks[key]; held && time.Now().Before(l.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	p.locks[key] = memLock{token: token, expiresAt: time.Now().Add(ttl)}
	return token, true, nil
}

func (p *MemoryProvider) Release(ctx context.Context, key, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, held := p.locks[key]; held && l.token == token {
		delete(p.locks, key)
	}
	return nil
}
