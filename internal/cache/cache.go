// Package cache provides the shared key/value store behind the rate limiter
// and the pool-status snapshot. Values are plain strings with a per-entry
// TTL. Atomic increments are deliberately not part of the contract: the rate
// limiter tolerates get/set counter slippage under concurrent requests.
package cache

import (
	"context"
	"time"
)

// Store is the process-wide key/value store.
type Store interface {
	// Get returns the value for key, or ("", false) if absent or expired.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores value under key for ttl. A ttl of 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration)
}
