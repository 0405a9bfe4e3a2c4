// Package ratelimit provides per-caller request throttling.
//
// The in-process token bucket (MemoryLimiter) is the default. The
// Limiter interface is the contract for swapping in a shared backend
// when running more than one replica.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. The key is
	// opaque to the limiter; callers build it from the authenticated
	// principal (e.g. "user:<uuid>"). An error means the limiter
	// itself failed; callers fail open rather than dropping traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases any background resources.
	Close() error
}

// NoopLimiter permits every request. Used when throttling is disabled.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Close() error { return nil }
