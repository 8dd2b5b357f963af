// Package pricing computes cart totals as a pure function of the current line
// set. All amounts are integer cents.
package pricing

import "github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"

const (
	// FreeShippingThresholdCents waives the flat shipping rate once reached.
	FreeShippingThresholdCents int64 = 100_00
	FlatShippingCents          int64 = 9_99
	// TaxRateBasisPoints is 8% expressed in basis points.
	TaxRateBasisPoints int64 = 800
)

// Totals is the full aggregation over a cart. DiscountCents is echoed back so
// observers render the same number that was subtracted.
type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	SavingsCents  int64 `json:"savings_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	TaxCents      int64 `json:"tax_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
	ItemCount     int   `json:"item_count"`
}

// LineTotal is the price captured at add time multiplied by quantity.
func LineTotal(l domain.CartLine) int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

// Compute aggregates the line set. discountCents comes from an applied promo
// code and may exceed the subtotal; the grand total is floored at zero.
func Compute(lines []domain.CartLine, discountCents int64) Totals {
	var t Totals
	t.DiscountCents = discountCents

	for _, l := range lines {
		t.SubtotalCents += LineTotal(l)
		t.ItemCount += l.Quantity
		if cmp := l.Variant.ComparePriceCents; cmp > l.UnitPriceCents {
			t.SavingsCents += (cmp - l.UnitPriceCents) * int64(l.Quantity)
		}
	}

	if t.ItemCount > 0 && t.SubtotalCents < FreeShippingThresholdCents {
		t.ShippingCents = FlatShippingCents
	}

	// Round half-up to whole cents.
	t.TaxCents = (t.SubtotalCents*TaxRateBasisPoints + 5000) / 10000

	t.TotalCents = t.SubtotalCents + t.ShippingCents + t.TaxCents - discountCents
	if t.TotalCents < 0 {
		t.TotalCents = 0
	}
	return t
}
