package cache

import (
	"context"
	"time"
)

// Cache holds short-lived values such as session tokens. MemoryCache serves the
// single local process; RedisCache lets several API processes share sessions.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// Touch resets the TTL of an existing key. Returns ErrCacheMiss if absent.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// Close releases background resources.
	Close() error
}

// CacheError is a constant error value.
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)
