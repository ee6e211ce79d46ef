package domain

import "fmt"

// ItemKind distinguishes the two stock models a vendor sells under.
type ItemKind string

const (
	// ItemKindRetail items carry a numeric on-hand quantity.
	ItemKindRetail ItemKind = "retail"
	// ItemKindProduce items are prepared to order and only advertise availability.
	ItemKindProduce ItemKind = "produce"
)

// Valid reports whether k is a known item kind.
func (k ItemKind) Valid() bool {
	return k == ItemKindRetail || k == ItemKindProduce
}

// ItemKey identifies a single reservable item. IDs from different kinds
// never collide, even when the raw ID strings are equal.
type ItemKey struct {
	ID   string   `json:"id"`
	Kind ItemKind `json:"kind"`
}

func (k ItemKey) String() string {
	return string(k.Kind) + "/" + k.ID
}

// CartLine is one requested item in a checkout cart.
type CartLine struct {
	ItemID   string   `json:"item_id"`
	Kind     ItemKind `json:"kind"`
	Quantity int      `json:"quantity"`
}

// Key returns the lock key this line reserves under.
func (l CartLine) Key() ItemKey {
	return ItemKey{ID: l.ItemID, Kind: l.Kind}
}

// Validate checks if the cart line is well formed.
func (l CartLine) Validate() error {
	if l.ItemID == "" {
		return fmt.Errorf("cart line item ID cannot be empty")
	}
	if !l.Kind.Valid() {
		return fmt.Errorf("invalid item kind: %s", l.Kind)
	}
	if l.Quantity < 1 {
		return fmt.Errorf("cart line quantity must be at least 1")
	}
	return nil
}
