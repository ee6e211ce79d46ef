// internal/domain/lock.go
package domain

import "time"

// Lock is a time-bounded claim on one item, held on behalf of an order.
type Lock struct {
	Key        ItemKey   `json:"key"`
	Owner      string    `json:"owner"` // order ID the claim belongs to
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Live reports whether the lock still blocks other owners at the given
// instant. A lock at exactly ExpiresAt is already expired.
func (l Lock) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}
