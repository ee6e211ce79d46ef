// internal/domain/lock_store.go
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrItemLocked is returned when an item cannot be claimed because a live
// lock is held on behalf of another order.
var ErrItemLocked = errors.New("item locked by another order")

// LockStore is the ledger of per-item reservation claims.
//
// Expired entries must behave as absent on every operation, whether or not
// the store has physically removed them yet.
type LockStore interface {
	// Acquire attempts to claim key for owner until now+ttl. It must be a
	// non-blocking call. If another owner holds a live lock on key, it
	// returns ErrItemLocked. Re-acquiring a key the same owner already
	// holds succeeds and refreshes the expiry.
	Acquire(ctx context.Context, key ItemKey, owner string, ttl time.Duration) (*Lock, error)

	// Release frees the lock on key if it is held by owner. It reports
	// false when no live lock by that owner exists; callers treat a miss
	// as benign.
	Release(ctx context.Context, key ItemKey, owner string) (bool, error)

	// IsLive reports whether any owner currently holds a live lock on key.
	IsLive(ctx context.Context, key ItemKey) (bool, error)

	// SweepExpired removes entries whose expiry has passed and returns how
	// many were dropped.
	SweepExpired(ctx context.Context) (int, error)

	// LiveCount returns the number of live locks currently held.
	LiveCount(ctx context.Context) (int, error)
}
