// internal/infra/memory/lock_table.go
package memory

import (
	"context"
	"sync"
	"time"

	"inventory-reserve/internal/domain"
)

// LockTable is the in-process implementation of domain.LockStore: a single
// mutex-guarded map from item key to its current claim.
//
// Expired entries behave as absent on every operation. They are physically
// dropped either lazily, when an operation lands on one, or in bulk by
// SweepExpired.
type LockTable struct {
	mu    sync.Mutex
	locks map[domain.ItemKey]domain.Lock
	now   func() time.Time
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{
		locks: make(map[domain.ItemKey]domain.Lock),
		now:   time.Now,
	}
}

// Acquire claims key for owner until now+ttl. A live claim by another owner
// wins: the call returns domain.ErrItemLocked and changes nothing. Expired
// entries lose to the new claim, and a re-acquire by the same owner simply
// refreshes the expiry.
func (t *LockTable) Acquire(ctx context.Context, key domain.ItemKey, owner string, ttl time.Duration) (*domain.Lock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if cur, ok := t.locks[key]; ok && cur.Live(now) && cur.Owner != owner {
		return nil, domain.ErrItemLocked
	}

	lock := domain.Lock{
		Key:        key,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	t.locks[key] = lock
	return &lock, nil
}

// Release drops the lock on key when owner holds it live. Expired entries
// and claims by other owners are reported as a miss.
func (t *LockTable) Release(ctx context.Context, key domain.ItemKey, owner string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.locks[key]
	if !ok {
		return false, nil
	}
	if !cur.Live(t.now()) {
		delete(t.locks, key) // lazy drop
		return false, nil
	}
	if cur.Owner != owner {
		return false, nil
	}
	delete(t.locks, key)
	return true, nil
}

// IsLive reports whether key is currently claimed. Landing on an expired
// entry drops it on the spot.
func (t *LockTable) IsLive(ctx context.Context, key domain.ItemKey) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.locks[key]
	if !ok {
		return false, nil
	}
	if !cur.Live(t.now()) {
		delete(t.locks, key)
		return false, nil
	}
	return true, nil
}

// SweepExpired removes every entry past its expiry and returns the count.
// The expiry check happens under the same mutex hold as the removal, so a
// claim refreshed since the sweep began is never dropped.
func (t *LockTable) SweepExpired(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, cur := range t.locks {
		if !cur.Live(now) {
			delete(t.locks, key)
			removed++
		}
	}
	return removed, nil
}

// LiveCount returns the number of live claims, dropping the expired
// entries it walks over.
func (t *LockTable) LiveCount(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	n := 0
	for key, cur := range t.locks {
		if !cur.Live(now) {
			delete(t.locks, key)
			continue
		}
		n++
	}
	return n, nil
}
