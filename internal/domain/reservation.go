// internal/domain/reservation.go
package domain

import "time"

// BlockReason explains why a cart line could not be reserved.
type BlockReason string

const (
	// BlockReasonLocked means another order holds a live lock on the item.
	BlockReasonLocked BlockReason = "locked"
	// BlockReasonOutOfStock means the vendor cannot fill the line at all.
	BlockReasonOutOfStock BlockReason = "outOfStock"
)

// BlockedItem names one cart line that prevented a reservation.
type BlockedItem struct {
	ItemID string      `json:"item_id"`
	Kind   ItemKind    `json:"kind"`
	Reason BlockReason `json:"reason"`
}

// ReservationResult is the all-or-nothing outcome of reserving a cart.
// Either Reserved is true and Locks covers every distinct item, or
// Reserved is false, no locks remain held, and Blocked lists what stood
// in the way.
type ReservationResult struct {
	Reserved bool          `json:"reserved"`
	Locks    []Lock        `json:"-"`
	Blocked  []BlockedItem `json:"blocked,omitempty"`
}

// LatestExpiry returns the latest expiry across the held locks, which is
// the payment deadline for the order built on top of them. Zero when no
// locks are held.
func (r *ReservationResult) LatestExpiry() time.Time {
	var latest time.Time
	for _, l := range r.Locks {
		if l.ExpiresAt.After(latest) {
			latest = l.ExpiresAt
		}
	}
	return latest
}
