package domain

import (
	"errors"
	"time"
)

const (
	// MinQuantity and MaxQuantity bound every cart line.
	MinQuantity = 1
	MaxQuantity = 99
)

var ErrInvalidSnapshot = errors.New("snapshot is missing required fields")

// ProductSnapshot is the display data captured when a product enters the cart
// or wishlist. It is never refreshed from the catalog afterwards.
type ProductSnapshot struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// VariantSnapshot carries the variant-level display data captured at add time.
// ComparePriceCents is 0 when the variant has no compare-at price.
type VariantSnapshot struct {
	SKU               string `json:"sku,omitempty"`
	ComparePriceCents int64  `json:"compare_price_cents,omitempty"`
	Stock             int    `json:"stock"`
}

// CartLine is one row of the cart. A line is unique per
// (owner, product_id, variant_id); adding the same pair again increments
// quantity instead of creating a second line.
type CartLine struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	VariantID      string          `json:"variant_id"`
	Quantity       int             `json:"quantity"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	Product        ProductSnapshot `json:"product"`
	Variant        VariantSnapshot `json:"variant"`
	AddedAt        time.Time       `json:"added_at"`
}

// Validate checks the fields callers are required to supply at add time.
func (l CartLine) Validate() error {
	if l.ProductID == "" || l.VariantID == "" {
		return errors.New("product_id and variant_id are required")
	}
	if l.Quantity < MinQuantity || l.Quantity > MaxQuantity {
		return errors.New("quantity out of range")
	}
	if l.UnitPriceCents < 0 {
		return errors.New("unit price must not be negative")
	}
	if l.Product.Name == "" {
		return ErrInvalidSnapshot
	}
	return nil
}

// ClampQuantity caps q at MaxQuantity. Values below MinQuantity are the
// caller's concern (a non-positive quantity means removal).
func ClampQuantity(q int) int {
	if q > MaxQuantity {
		return MaxQuantity
	}
	return q
}

// FindLine returns the index of the line matching (productID, variantID),
// or -1 when absent.
func FindLine(lines []CartLine, productID, variantID string) int {
	for i, l := range lines {
		if l.ProductID == productID && l.VariantID == variantID {
			return i
		}
	}
	return -1
}

// FindLineByID returns the index of the line with the given id, or -1.
func FindLineByID(lines []CartLine, id string) int {
	for i, l := range lines {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// CloneLines returns a copy callers may mutate without aliasing the source.
func CloneLines(lines []CartLine) []CartLine {
	if lines == nil {
		return nil
	}
	out := make([]CartLine, len(lines))
	copy(out, lines)
	return out
}
