package http

import (
	"time"

	"inventory-reserve/internal/domain"
)

// CartLineRequest is one requested item in a checkout call.
type CartLineRequest struct {
	ItemID   string `json:"item_id" validate:"required,min=1,max=128"`
	Kind     string `json:"kind" validate:"required,oneof=retail produce"`
	Quantity int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

// CheckoutRequest is the Data Transfer Object for placing an order.
type CheckoutRequest struct {
	OwnerID  string            `json:"owner_id" validate:"required,min=1,max=128"`
	VendorID string            `json:"vendor_id" validate:"required,min=1,max=128"`
	Items    []CartLineRequest `json:"items" validate:"required,min=1,max=50,dive"`
	// LockTTL optionally overrides the configured reservation window,
	// e.g. "5m".
	LockTTL string `json:"lock_ttl,omitempty" validate:"omitempty,duration"`
}

// Lines converts the request items to domain cart lines.
func (r *CheckoutRequest) Lines() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(r.Items))
	for _, it := range r.Items {
		lines = append(lines, domain.CartLine{
			ItemID:   it.ItemID,
			Kind:     domain.ItemKind(it.Kind),
			Quantity: it.Quantity,
		})
	}
	return lines
}

// TTL returns the requested lock TTL override, zero when absent. The
// format is checked by the duration validator before this is called.
func (r *CheckoutRequest) TTL() time.Duration {
	if r.LockTTL == "" {
		return 0
	}
	d, _ := time.ParseDuration(r.LockTTL)
	return d
}

// BlockedResponse is returned when a cart cannot be reserved.
type BlockedResponse struct {
	Error   string               `json:"error"`
	Blocked []domain.BlockedItem `json:"blocked"`
}

// AdvanceRequest asks to move an order to a later fulfillment stage.
type AdvanceRequest struct {
	Status string `json:"status" validate:"required,oneof=completed onTheWay delivered"`
}

// PaymentWebhookRequest is the payment provider's outcome callback.
type PaymentWebhookRequest struct {
	OrderID string `json:"order_id" validate:"required,uuid4"`
	Outcome string `json:"outcome" validate:"required,oneof=confirmed failed"`
}

// PaymentWebhookResponse reports how a payment outcome landed: applied to
// the order, or ignored because the order had already left pendingPayment.
type PaymentWebhookResponse struct {
	Status string        `json:"status"`
	Order  *domain.Order `json:"order,omitempty"`
}

// ReleaseResponse reports a forced lock release.
type ReleaseResponse struct {
	OrderID  string `json:"order_id"`
	Released int    `json:"released"`
}
