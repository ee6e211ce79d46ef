// internal/domain/inventory.go
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrVendorNotFound is returned when a vendor has no published inventory.
var ErrVendorNotFound = errors.New("vendor not found")

// ErrItemNotFound is returned when an inventory item does not exist for the
// vendor.
var ErrItemNotFound = errors.New("inventory item not found")

// InventoryStore exposes a vendor's published stock.
//
// Retail items track a numeric on-hand quantity; produce items only track
// whether the vendor is currently making them. Stock checks are advisory
// reads, the lock ledger is what actually serializes claims.
type InventoryStore interface {
	// CheckStock reports the cart lines the vendor cannot currently fill:
	// retail lines asking for more than the on-hand quantity, produce
	// lines that are switched off, and lines the vendor does not sell.
	CheckStock(ctx context.Context, vendorID string, lines []CartLine) ([]BlockedItem, error)

	// UnitPrices returns the current unit price for every line's item.
	UnitPrices(ctx context.Context, vendorID string, lines []CartLine) (map[ItemKey]decimal.Decimal, error)

	// DeductStock subtracts the confirmed quantities of retail lines from
	// the vendor's on-hand counts, flooring at zero. Produce lines carry
	// no counter and are skipped.
	DeductStock(ctx context.Context, vendorID string, lines []CartLine) error
}
