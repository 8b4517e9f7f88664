package cache

import (
	"context"
	"time"
)

// Cache defines the cache operations used by repositories and services.
type Cache interface {
	BasicOps
	HashOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" with a nil error when the key does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; a zero ttl means no expiry
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns -1 for keys without expiry and -2 for missing keys
	TTL(ctx context.Context, key string) (time.Duration, error)

	Incr(ctx context.Context, key string) (int64, error)
}

// HashOps defines hash (map) operations
type HashOps interface {
	HSet(ctx context.Context, key, field string, value interface{}) error

	// HSetIfExists overwrites the field only when it is already present and
	// reports whether it did. The check and the write are atomic.
	HSetIfExists(ctx context.Context, key, field string, value interface{}) (bool, error)

	// HGet returns "" with a nil error when the field does not exist
	HGet(ctx context.Context, key, field string) (string, error)

	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HDel reports how many fields were actually removed
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	HLen(ctx context.Context, key string) (int64, error)
}

// LockOps defines distributed lock operations.
// The token identifies the holder so only it can release the lock.
type LockOps interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock reports false when the lock expired or belongs to someone else
	Unlock(ctx context.Context, key, token string) (bool, error)
}
