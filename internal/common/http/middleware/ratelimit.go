package middleware

import (
	"context"
	"fmt"
	"time"

	"ojcore/internal/common/cache"
	pkgerrors "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"
	"ojcore/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiter enforces fixed-window limits using Redis counters.
type RateLimiter struct {
	cache        cache.BasicOps
	redisTimeout time.Duration
}

func NewRateLimiter(cacheClient cache.BasicOps, redisTimeout time.Duration) *RateLimiter {
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &RateLimiter{cache: cacheClient, redisTimeout: redisTimeout}
}

// Allow counts one hit against key and fails with TooManyRequests once the
// window holds more than max hits.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l == nil || l.cache == nil || max <= 0 || window <= 0 {
		return nil
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	var count int64 = 1
	if !acquired {
		count, err = l.cache.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		if ttl, ttlErr := l.cache.TTL(ctxCache, key); ttlErr == nil && ttl < 0 {
			_ = l.cache.Expire(ctxCache, key, window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests)
	}
	return nil
}

// IPRateLimit limits requests per client address on one route.
// Cache failures let the request through.
func IPRateLimit(limiter *RateLimiter, routeKey string, max int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rate:ip:%s:%s", c.ClientIP(), routeKey)
		if err := limiter.Allow(c.Request.Context(), key, max, window); err != nil {
			if pkgerrors.Is(err, pkgerrors.TooManyRequests) {
				response.AbortWithError(c, err)
				return
			}
			logger.Warn(c.Request.Context(), "rate limit unavailable", zap.String("route", routeKey), zap.Error(err))
		}
		c.Next()
	}
}
