package redisx

import "time"

const (
	// Dedupe async create submissions: idem:order:create:{external_id} -> job_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cache order status: order_status:{order_id} -> {"status":"...", ...}
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
)
