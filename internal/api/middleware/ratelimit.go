package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const limiterPrefix = "accessgate_limiter"

// NewRateLimiter creates a Gin middleware for rate limiting by client IP.
// requests is the number of requests allowed per period. Counters live in
// redis when client is non-nil so every replica shares them, and in process
// memory otherwise.
func NewRateLimiter(requests int64, period time.Duration, client *redis.Client) (gin.HandlerFunc, error) {
	if requests <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d: must be positive", requests)
	}
	if period <= 0 {
		return nil, fmt.Errorf("invalid rate limit period %s: must be positive", period)
	}

	rate := limiter.Rate{
		Period: period,
		Limit:  requests,
	}

	var store limiter.Store
	if client != nil {
		var err error
		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: limiterPrefix})
		if err != nil {
			return nil, fmt.Errorf("create redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          limiterPrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		})
	}

	instance := limiter.New(store, rate)
	return mgin.NewMiddleware(instance), nil
}
