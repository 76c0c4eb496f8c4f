package scaling

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateKey = "metrics:request_count"

// RedisRate shares a request counter between the API processes that serve
// traffic and the supervisor master that samples it.
type RedisRate struct {
	RDB       *redis.Client
	lastReset atomic.Int64
}

func NewRedisRate(rdb *redis.Client) *RedisRate {
	r := &RedisRate{RDB: rdb}
	r.lastReset.Store(time.Now().UnixNano())
	return r
}

// Incr is best-effort; a missed increment only skews the scaling signal.
func (r *RedisRate) Incr() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = r.RDB.Incr(ctx, rateKey).Err()
}

func (r *RedisRate) RatePerSec() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := r.RDB.GetDel(ctx, rateKey).Int64()
	now := time.Now().UnixNano()
	elapsed := time.Duration(now - r.lastReset.Swap(now))
	if err != nil || elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}
