package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/realestate-escrow/backend/internal/http/dto"
	"github.com/redis/go-redis/v9"
)

// RateLimitRedisTimeout bounds the Redis round trip of one check. A slow or
// unreachable Redis costs a request at most this much before failing open.
var RateLimitRedisTimeout = 150 * time.Millisecond

// RateLimitMiddleware is a fixed-window counter in Redis. Requests whose
// wallet was resolved earlier in the chain (IdentifyMiddleware) are counted
// per wallet, anonymous ones per IP. Redis errors fail open.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject := c.IP()
		if actor := GetActor(c); actor != (common.Address{}) {
			subject = actor.Hex()
		}
		key := fmt.Sprintf("rl:%s:%s", c.Path(), subject)

		ctx, cancel := context.WithTimeout(c.UserContext(), RateLimitRedisTimeout)
		count, err := rdb.Incr(ctx, key).Result()
		if err == nil && count == 1 {
			rdb.Expire(ctx, key, window)
		}
		cancel()
		if err != nil {
			return c.Next() // fail open
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error:     "rate limit exceeded",
				Code:      "rate_limited",
				RequestID: GetRequestID(c),
			})
		}

		return c.Next()
	}
}
