// Package counter provides the windowed counter store backing the rate
// limiter: a pluggable key/value store with atomic increment-and-read and
// per-key expiry. The memory implementation serves single-process
// deployments; the redis implementation shares counts across instances.
package counter

import (
	"context"
	"time"
)

// Store is a windowed counter. Implementations must be safe for concurrent
// use and must make Increment atomic with respect to concurrent callers on
// the same key, so no update is lost under race.
type Store interface {
	// Increment adds one to the counter for key and returns the resulting
	// count. The counter expires window after its first increment; a later
	// increment on an expired key starts a fresh count at 1.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close stops background goroutines and releases resources.
	Close() error
}
