package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus defines the lifecycle state of an order.
type OrderStatus string

const (
	// StatusPendingPayment is the only state in which item locks are held.
	StatusPendingPayment OrderStatus = "pendingPayment"
	StatusInProgress     OrderStatus = "inProgress"
	StatusCompleted      OrderStatus = "completed"
	StatusOnTheWay       OrderStatus = "onTheWay"
	StatusDelivered      OrderStatus = "delivered"
	StatusFailed         OrderStatus = "failed"
)

// ErrEmptyCart is returned when a checkout carries no cart lines.
var ErrEmptyCart = errors.New("cart cannot be empty")

// ParseOrderStatus maps a wire string to an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case StatusPendingPayment, StatusInProgress, StatusCompleted,
		StatusOnTheWay, StatusDelivered, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown order status: %s", s)
	}
}

// OrderItem is one cart line frozen at checkout, with the unit price the
// buyer saw at that moment.
type OrderItem struct {
	ItemID    string          `json:"item_id"`
	Kind      ItemKind        `json:"kind"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Key returns the lock key this item was reserved under.
func (i OrderItem) Key() ItemKey {
	return ItemKey{ID: i.ItemID, Kind: i.Kind}
}

// Order represents a buyer's reservation against a single vendor.
type Order struct {
	ID       string          `json:"id"`
	OwnerID  string          `json:"owner_id"`
	VendorID string          `json:"vendor_id"`
	Items    []OrderItem     `json:"items"`
	Status   OrderStatus     `json:"status"`
	Total    decimal.Decimal `json:"total"`
	// ReservationExpiresAt is the deadline for payment; past it the order
	// is fair game for the expiry sweeper.
	ReservationExpiresAt time.Time `json:"reservation_expires_at"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewOrder builds a pendingPayment order from reserved cart items. The
// total is the sum of quantity times unit price across all items.
func NewOrder(id, ownerID, vendorID string, items []OrderItem, expiresAt time.Time) (*Order, error) {
	if id == "" {
		return nil, fmt.Errorf("order ID cannot be empty")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("order owner ID cannot be empty")
	}
	if vendorID == "" {
		return nil, fmt.Errorf("order vendor ID cannot be empty")
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	now := time.Now()
	return &Order{
		ID:                   id,
		OwnerID:              ownerID,
		VendorID:             vendorID,
		Items:                items,
		Status:               StatusPendingPayment,
		Total:                total,
		ReservationExpiresAt: expiresAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// Expired reports whether the payment window has passed for an order that
// is still awaiting payment. Orders past pendingPayment never expire.
func (o *Order) Expired(now time.Time) bool {
	return o.Status == StatusPendingPayment && now.After(o.ReservationExpiresAt)
}

// MarkInProgress records a confirmed payment. Only a pendingPayment order
// can move to inProgress.
func (o *Order) MarkInProgress() error {
	if o.Status != StatusPendingPayment {
		return ErrInvalidTransition
	}
	o.Status = StatusInProgress
	o.UpdatedAt = time.Now()
	return nil
}

// MarkFailed finalizes an order that never got paid, whether through a
// failed payment, a cancellation or reservation expiry. Only a
// pendingPayment order can move to failed.
func (o *Order) MarkFailed() error {
	if o.Status != StatusPendingPayment {
		return ErrInvalidTransition
	}
	o.Status = StatusFailed
	o.UpdatedAt = time.Now()
	return nil
}

// fulfillmentRank orders the post-payment stages. Advance only ever moves
// to a strictly higher rank.
var fulfillmentRank = map[OrderStatus]int{
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusOnTheWay:   3,
	StatusDelivered:  4,
}

// Advance moves a paid order forward through fulfillment. Skipping stages
// is allowed (pickup orders go completed -> delivered directly); moving
// backwards, leaving a terminal state, or advancing an unpaid order is not.
func (o *Order) Advance(to OrderStatus) error {
	cur, ok := fulfillmentRank[o.Status]
	if !ok {
		return ErrInvalidTransition
	}
	next, ok := fulfillmentRank[to]
	if !ok || next <= cur {
		return ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}
