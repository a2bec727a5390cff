package cache

import (
	"context"
	"time"
)

// Store is a keyed byte store with per-key expiry.
// It backs pending purchase claims and conversation state, either in
// process memory (single instance) or in Redis (shared between replicas).
type Store interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores the value only when the key is absent and reports
	// whether it was stored.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes a value by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found.
	ErrCacheMiss CacheError = "cache miss"
)
