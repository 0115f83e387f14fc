// Package lock serializes work per key. Mutations of one listing must never
// interleave; different keys run concurrently.
package lock

import "context"

// Locker runs fn while holding the lock for key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
