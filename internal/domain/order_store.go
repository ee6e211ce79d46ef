package domain

import (
	"context"
	"errors"
	"time"
)

// ErrOrderNotFound is a sentinel error returned when an order is not found.
var ErrOrderNotFound = errors.New("order not found")

// ErrOrderExists is returned when creating an order whose ID is already taken.
var ErrOrderExists = errors.New("order already exists")

// ErrInvalidTransition is returned when an order cannot legally move to the
// requested status. Payment and expiry paths treat it as "someone else got
// there first" and carry on.
var ErrInvalidTransition = errors.New("invalid order status transition")

// OrderStore persists orders together with the per-actor order lists.
//
// Every mutating call is atomic: the order document and the owner's and
// vendor's active/past lists change together or not at all, and the status
// check happens inside the same transaction so that two racing finalizers
// cannot both win.
type OrderStore interface {
	// Create writes a new pendingPayment order and registers its ID on the
	// owner's and vendor's active lists.
	Create(ctx context.Context, order *Order) error

	// Get retrieves an order by ID.
	Get(ctx context.Context, id string) (*Order, error)

	// ExpiredPending lists orders still in pendingPayment whose
	// reservation deadline lies before now.
	ExpiredPending(ctx context.Context, now time.Time) ([]*Order, error)

	// LivePending lists orders in pendingPayment whose reservation
	// deadline has not yet passed.
	LivePending(ctx context.Context, now time.Time) ([]*Order, error)

	// CountPending returns how many orders sit in pendingPayment and how
	// many of those are already past their deadline.
	CountPending(ctx context.Context, now time.Time) (pending int, expired int, err error)

	// MarkInProgress flips a pendingPayment order to inProgress. Any other
	// current status yields ErrInvalidTransition and no write.
	MarkInProgress(ctx context.Context, id string) (*Order, error)

	// FinalizeFailed flips a pendingPayment order to failed and moves its
	// ID from the owner's and vendor's active lists to their past lists.
	// Any other current status yields ErrInvalidTransition and no write.
	FinalizeFailed(ctx context.Context, id string) (*Order, error)

	// Advance moves a paid order to a later fulfillment stage. Reaching a
	// terminal stage moves the ID from the active lists to the past lists.
	Advance(ctx context.Context, id string, to OrderStatus) (*Order, error)
}
