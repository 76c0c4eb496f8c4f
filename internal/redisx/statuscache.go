package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusCache evicts the cached order body when a status write lands, so
// GET /orders/{id} reflects worker-side writes immediately. Eviction is best
// effort; the cache TTL bounds staleness if Redis is briefly down.
type StatusCache struct{ RDB *redis.Client }

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) {
	_ = c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
