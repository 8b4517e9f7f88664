package repository

import (
	"context"
	"errors"
	"time"

	"ojcore/internal/common/cache"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
)

// extendTTL only ever lengthens the key lifetime.
func extendTTL(ctx context.Context, cacheClient cache.BasicOps, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	currentTTL, err := cacheClient.TTL(ctx, key)
	if err != nil {
		return cacheClient.Expire(ctx, key, ttl)
	}

	if currentTTL < 0 || ttl > currentTTL {
		return cacheClient.Expire(ctx, key, ttl)
	}

	return nil
}
